package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/bus"
	"sentinel/internal/domain/alert"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/proposal"
	"sentinel/internal/metrics"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

const source = "alerts"

// Notifier delivers alerts to an external channel. Delivery failures are
// logged, never retried into the hot path.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) error
}

// Config holds alert manager tuning
type Config struct {
	SuppressionWindow time.Duration
	EscalationStrikes int
	HistoryLimit      int

	// CriticalDrawdownPct is the drawdown at which a risk snapshot alone
	// becomes a critical alert, independent of any engine decision.
	CriticalDrawdownPct decimal.Decimal
}

// Manager converts notable bus events into deduplicated alerts. A repeat
// inside the suppression window bumps the existing record; crossing the
// strike threshold escalates the severity one grade.
type Manager struct {
	bus       *bus.Bus
	notifiers []Notifier
	log       *logger.Logger

	window           time.Duration
	strikes          int
	criticalDrawdown decimal.Decimal

	mu      sync.Mutex
	active  map[string]*alert.Alert
	history *ring

	subs []*bus.Subscription
}

// New creates an alert manager
func New(b *bus.Bus, cfg Config, notifiers ...Notifier) *Manager {
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = 5 * time.Minute
	}
	if cfg.EscalationStrikes <= 0 {
		cfg.EscalationStrikes = 3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 512
	}
	if cfg.CriticalDrawdownPct.LessThanOrEqual(decimal.Zero) {
		cfg.CriticalDrawdownPct = decimal.NewFromInt(5)
	}

	return &Manager{
		bus:              b,
		notifiers:        notifiers,
		log:              logger.Get().With("component", "alerts"),
		window:           cfg.SuppressionWindow,
		strikes:          cfg.EscalationStrikes,
		criticalDrawdown: cfg.CriticalDrawdownPct,
		active:           make(map[string]*alert.Alert),
		history:          newRing(cfg.HistoryLimit),
	}
}

// Attach subscribes the manager to alert-worthy topics
func (m *Manager) Attach() {
	m.subs = []*bus.Subscription{
		m.bus.Subscribe("alerts.risk", event.TopicRiskUpdated, m.onEvent),
		m.bus.Subscribe("alerts.adjustments", "adjustment.*", m.onEvent),
		m.bus.Subscribe("alerts.stale", event.TopicRiskStale, m.onEvent),
		m.bus.Subscribe("alerts.overflow", event.TopicBusOverflow, m.onEvent),
		m.bus.Subscribe("alerts.circuit", event.TopicCircuitOpen, m.onEvent),
	}
}

// Detach removes all subscriptions
func (m *Manager) Detach() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
	m.subs = nil
}

// History returns the most recent alerts, newest first, up to limit.
func (m *Manager) History(limit int) []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.newest(limit)
}

// SweepWindows drops suppression records whose window has passed, so the
// next occurrence starts a fresh alert. Called by the scheduler.
func (m *Manager) SweepWindows(ctx context.Context) error {
	cutoff := time.Now().Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.active {
		if a.LastSeen.Before(cutoff) {
			delete(m.active, key)
		}
	}
	return nil
}

func (m *Manager) onEvent(ctx context.Context, env event.Envelope) {
	sev, positionID, actionType, msg := m.classify(env)
	if sev == "" {
		return
	}
	m.Raise(ctx, env.Type, positionID, actionType, sev, msg)
}

// Raise records one occurrence of an alert and delivers it unless the
// suppression window holds it back.
func (m *Manager) Raise(ctx context.Context, eventType string, positionID uuid.UUID, actionType string, sev alert.Severity, message string) {
	key := alert.DedupKey(eventType, positionID, actionType)
	now := time.Now().UTC()

	m.mu.Lock()
	a, exists := m.active[key]
	if exists && now.Sub(a.LastSeen) < m.window {
		a.LastSeen = now
		a.Count++

		escalated := false
		if !a.Escalated && a.Count >= m.strikes {
			a.Escalated = true
			a.Severity = escalate(a.Severity)
			escalated = true
		}
		snapshot := *a
		m.mu.Unlock()

		if escalated {
			m.history.push(snapshot)
			m.deliver(ctx, snapshot)
			return
		}

		metrics.AlertsSuppressed.Inc()
		m.log.Debugf("Suppressed repeat alert %s (count %d)", key, snapshot.Count)
		return
	}

	fresh := &alert.Alert{
		DedupKey:   key,
		EventType:  eventType,
		PositionID: positionID,
		ActionType: actionType,
		Severity:   sev,
		Message:    message,
		FirstSeen:  now,
		LastSeen:   now,
		Count:      1,
	}
	m.active[key] = fresh
	snapshot := *fresh
	m.mu.Unlock()

	m.history.push(snapshot)
	m.deliver(ctx, snapshot)
}

func (m *Manager) deliver(ctx context.Context, a alert.Alert) {
	metrics.AlertsDelivered.WithLabelValues(a.Severity.String()).Inc()

	err := m.bus.Publish(event.New(source, event.AlertRaised{
		DedupKey:   a.DedupKey,
		Severity:   a.Severity.String(),
		Message:    a.Message,
		PositionID: a.PositionID,
	}))
	if err != nil && !errors.Is(err, errors.ErrBusClosed) {
		m.log.Warnf("Failed to publish alert %s: %v", a.DedupKey, err)
	}

	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.log.Warnf("Notifier failed for alert %s: %v", a.DedupKey, err)
		}
	}
}

// classify maps an event onto alert fields. Unknown events yield an empty
// severity and are ignored.
func (m *Manager) classify(env event.Envelope) (alert.Severity, uuid.UUID, string, string) {
	switch p := env.Payload.(type) {
	case event.RiskUpdated:
		if p.Snapshot.DrawdownPct.LessThan(m.criticalDrawdown) {
			return "", uuid.Nil, "", ""
		}
		return alert.SeverityCritical, p.Snapshot.PositionID, "",
			fmt.Sprintf("drawdown on %s reached %s%%", p.Snapshot.Symbol, p.Snapshot.DrawdownPct.StringFixed(2))
	case event.AdjustmentProposed:
		sev := alert.SeverityInfo
		if p.Proposal.Action == proposal.ActionClose {
			// A close proposal means the drawdown cap is breached.
			sev = alert.SeverityCritical
		}
		return sev, p.Proposal.PositionID, p.Proposal.Action.String(),
			fmt.Sprintf("proposed %s on %s: %s", p.Proposal.Action, p.Proposal.Symbol, p.Proposal.Rationale)
	case event.AdjustmentApplied:
		sev := alert.SeverityInfo
		if p.Action == proposal.ActionClose {
			sev = alert.SeverityCritical
		}
		return sev, p.PositionID, p.Action.String(),
			fmt.Sprintf("adjustment %s applied", p.Action)
	case event.AdjustmentFailed:
		return alert.SeverityWarning, p.PositionID, p.Action.String(),
			fmt.Sprintf("adjustment %s failed: %s", p.Action, p.Reason)
	case event.RiskStale:
		return alert.SeverityWarning, p.PositionID, "",
			fmt.Sprintf("market data for %s stale since %s", p.Symbol, p.LastTick.Format(time.RFC3339))
	case event.BusOverflow:
		return alert.SeverityWarning, uuid.Nil, "",
			fmt.Sprintf("subscriber %s dropped events (topic %s, total %d)", p.Subscriber, p.EventTopic, p.Dropped)
	case event.CircuitOpen:
		return alert.SeverityCritical, uuid.Nil, "",
			fmt.Sprintf("gateway circuit open until %s after %d failures", p.Until.Format(time.RFC3339), p.Failures)
	default:
		return "", uuid.Nil, "", ""
	}
}

// escalate promotes a severity one grade.
func escalate(s alert.Severity) alert.Severity {
	switch s {
	case alert.SeverityInfo:
		return alert.SeverityWarning
	default:
		return alert.SeverityCritical
	}
}
