package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/bus"
	"sentinel/internal/domain/alert"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/proposal"
	"sentinel/internal/domain/risk"
)

// recordingNotifier captures delivered alerts for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	delivered []alert.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delivered)
}

func (n *recordingNotifier) last() alert.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered[len(n.delivered)-1]
}

func newManager(cfg Config) (*Manager, *recordingNotifier) {
	n := &recordingNotifier{}
	return New(bus.New(16), cfg, n), n
}

func TestManager_FreshAlertDelivered(t *testing.T) {
	m, n := newManager(Config{})
	posID := uuid.New()

	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityWarning, "data stale")

	require.Equal(t, 1, n.count())
	got := n.last()
	assert.Equal(t, alert.SeverityWarning, got.Severity)
	assert.Equal(t, posID, got.PositionID)
	assert.Equal(t, 1, got.Count)
}

func TestManager_RepeatSuppressedInsideWindow(t *testing.T) {
	m, n := newManager(Config{SuppressionWindow: time.Minute, EscalationStrikes: 5})
	posID := uuid.New()

	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityWarning, "data stale")
	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityWarning, "data stale")

	assert.Equal(t, 1, n.count(), "repeat inside the window must not re-deliver")

	history := m.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, 2, lookupActive(m, history[0].DedupKey).Count)
}

func TestManager_DistinctKeysNotSuppressed(t *testing.T) {
	m, n := newManager(Config{SuppressionWindow: time.Minute})
	posID := uuid.New()

	m.Raise(context.Background(), event.TopicAdjustmentFailed, posID, "tighten_sl", alert.SeverityWarning, "x")
	m.Raise(context.Background(), event.TopicAdjustmentFailed, posID, "close", alert.SeverityWarning, "y")
	m.Raise(context.Background(), event.TopicAdjustmentFailed, uuid.New(), "tighten_sl", alert.SeverityWarning, "z")

	assert.Equal(t, 3, n.count(), "different action or position means a different alert")
}

func TestManager_EscalatesOnThirdStrike(t *testing.T) {
	m, n := newManager(Config{SuppressionWindow: time.Minute, EscalationStrikes: 3})
	posID := uuid.New()

	for i := 0; i < 3; i++ {
		m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityInfo, "data stale")
	}

	// Delivered on first occurrence and once more on escalation.
	require.Equal(t, 2, n.count())
	got := n.last()
	assert.True(t, got.Escalated)
	assert.Equal(t, alert.SeverityWarning, got.Severity, "info escalates one grade")
	assert.Equal(t, 3, got.Count)

	// Further repeats stay suppressed at the escalated grade.
	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityInfo, "data stale")
	assert.Equal(t, 2, n.count())
}

func TestManager_SweepWindowsResetsSuppression(t *testing.T) {
	m, n := newManager(Config{SuppressionWindow: 30 * time.Millisecond})
	posID := uuid.New()

	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityWarning, "data stale")
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, m.SweepWindows(context.Background()))

	m.Raise(context.Background(), event.TopicRiskStale, posID, "", alert.SeverityWarning, "data stale")
	assert.Equal(t, 2, n.count(), "a repeat after the window starts a fresh alert")
	assert.Equal(t, 1, n.last().Count)
}

func TestManager_HistoryNewestFirst(t *testing.T) {
	m, _ := newManager(Config{HistoryLimit: 2})

	m.Raise(context.Background(), event.TopicRiskStale, uuid.New(), "", alert.SeverityWarning, "first")
	m.Raise(context.Background(), event.TopicRiskStale, uuid.New(), "", alert.SeverityWarning, "second")
	m.Raise(context.Background(), event.TopicRiskStale, uuid.New(), "", alert.SeverityWarning, "third")

	history := m.History(10)
	require.Len(t, history, 2, "ring keeps only the newest entries")
	assert.Equal(t, "third", history[0].Message)
	assert.Equal(t, "second", history[1].Message)
}

func TestClassify(t *testing.T) {
	m, _ := newManager(Config{})
	posID := uuid.New()

	t.Run("close proposal is critical", func(t *testing.T) {
		sev, id, action, _ := m.classify(event.New("engine", event.AdjustmentProposed{
			Proposal: proposal.Proposal{PositionID: posID, Action: proposal.ActionClose, Symbol: "EURUSD"},
		}))
		assert.Equal(t, alert.SeverityCritical, sev)
		assert.Equal(t, posID, id)
		assert.Equal(t, "close", action)
	})

	t.Run("routine proposal is info", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("engine", event.AdjustmentProposed{
			Proposal: proposal.Proposal{PositionID: posID, Action: proposal.ActionTightenSL},
		}))
		assert.Equal(t, alert.SeverityInfo, sev)
	})

	t.Run("applied close is critical", func(t *testing.T) {
		sev, id, action, _ := m.classify(event.New("executor", event.AdjustmentApplied{
			ProposalID: uuid.New(), PositionID: posID, Action: proposal.ActionClose,
		}))
		assert.Equal(t, alert.SeverityCritical, sev)
		assert.Equal(t, posID, id)
		assert.Equal(t, "close", action)
	})

	t.Run("routine applied adjustment is info", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("executor", event.AdjustmentApplied{
			ProposalID: uuid.New(), PositionID: posID, Action: proposal.ActionTightenSL,
		}))
		assert.Equal(t, alert.SeverityInfo, sev)
	})

	t.Run("critical drawdown snapshot", func(t *testing.T) {
		sev, id, _, _ := m.classify(event.New("monitor", event.RiskUpdated{
			Snapshot: risk.Snapshot{PositionID: posID, Symbol: "EURUSD", DrawdownPct: decimal.NewFromInt(6)},
		}))
		assert.Equal(t, alert.SeverityCritical, sev)
		assert.Equal(t, posID, id)
	})

	t.Run("routine snapshot ignored", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("monitor", event.RiskUpdated{
			Snapshot: risk.Snapshot{PositionID: posID, Symbol: "EURUSD", DrawdownPct: decimal.NewFromInt(2)},
		}))
		assert.Equal(t, alert.Severity(""), sev)
	})

	t.Run("circuit open is critical", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("executor", event.CircuitOpen{Until: time.Now(), Failures: 5}))
		assert.Equal(t, alert.SeverityCritical, sev)
	})

	t.Run("overflow is warning", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("bus", event.BusOverflow{Subscriber: "executor"}))
		assert.Equal(t, alert.SeverityWarning, sev)
	})

	t.Run("unknown payload ignored", func(t *testing.T) {
		sev, _, _, _ := m.classify(event.New("test", event.PriceTick{Symbol: "EURUSD"}))
		assert.Equal(t, alert.Severity(""), sev)
	})
}

func TestManager_AppliedCloseRaisesAlert(t *testing.T) {
	b := bus.New(16)
	n := &recordingNotifier{}
	m := New(b, Config{}, n)

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)
	m.Attach()
	defer m.Detach()

	require.NoError(t, b.Publish(event.New("executor", event.AdjustmentApplied{
		ProposalID: uuid.New(),
		PositionID: uuid.New(),
		Action:     proposal.ActionClose,
	})))

	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
	got := n.last()
	assert.Equal(t, alert.SeverityCritical, got.Severity)
	assert.Equal(t, event.TopicAdjustmentApplied, got.EventType)

	history := m.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, "close", history[0].ActionType)
}

func TestDedupKey_Stable(t *testing.T) {
	posID := uuid.New()
	a := alert.DedupKey(event.TopicAdjustmentFailed, posID, "close")
	b := alert.DedupKey(event.TopicAdjustmentFailed, posID, "close")
	c := alert.DedupKey(event.TopicAdjustmentFailed, posID, "tighten_sl")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16, "fnv64a rendered as fixed-width hex")
}

func lookupActive(m *Manager, key string) alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.active[key]
}
