package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain/position"
	"sentinel/internal/domain/risk"
	"sentinel/pkg/errors"
)

func TestCodec_RoundTripRiskUpdated(t *testing.T) {
	snap := risk.Snapshot{
		PositionID:  uuid.New(),
		Symbol:      "EURUSD",
		DrawdownPct: decimal.NewFromFloat(2.5),
		VaR95:       decimal.NewFromFloat(120.75),
		ComputedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	env := NewCorrelated("monitor", uuid.New(), RiskUpdated{Snapshot: snap})
	env.Seq = 42

	data, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, TopicRiskUpdated, decoded.Type)
	assert.Equal(t, uint64(42), decoded.Seq)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)

	payload, ok := decoded.Payload.(RiskUpdated)
	require.True(t, ok, "payload decoded as %T", decoded.Payload)
	assert.Equal(t, snap.PositionID, payload.Snapshot.PositionID)
	assert.True(t, payload.Snapshot.DrawdownPct.Equal(snap.DrawdownPct))
	assert.True(t, payload.Snapshot.VaR95.Equal(snap.VaR95))
}

func TestCodec_SignalTopicsShareOneVariant(t *testing.T) {
	env := New("signals", Signal{
		Producer:   "whale",
		Symbol:     "BTCUSDT",
		Direction:  position.Short,
		Confidence: 0.9,
		Rationale:  "large exchange inflow",
	})
	require.Equal(t, "signal.whale", env.Type)

	data, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	sig, ok := decoded.Payload.(Signal)
	require.True(t, ok)
	assert.Equal(t, "whale", sig.Producer)
	assert.Equal(t, position.Short, sig.Direction)
}

func TestCodec_UnknownTypeRejected(t *testing.T) {
	raw := []byte(`{"id":"` + uuid.New().String() + `","type":"price.candle","payload":{}}`)

	_, err := Unmarshal(raw)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCodec_GarbageRejected(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
