package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sentinel/internal/adapters/config"
	"sentinel/internal/domain/position"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// Compile-time check
var _ Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks JSON over HTTP to the venue's private API. Every call
// goes through a shared rate limiter; mutating calls carry an
// Idempotency-Key header.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewHTTPGateway creates a gateway client from config
func NewHTTPGateway(cfg config.GatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		log:     logger.Get().With("component", "gateway"),
	}
}

// PlaceOrder opens a new position at the venue
func (g *HTTPGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*position.Position, error) {
	var resp positionDTO
	key := uuid.NewString()
	if err := g.do(ctx, http.MethodPost, "/v1/orders", key, req, &resp); err != nil {
		return nil, err
	}
	pos := resp.toDomain()
	return &pos, nil
}

// ModifyPosition updates SL/TP/volume on an open position
func (g *HTTPGateway) ModifyPosition(ctx context.Context, idempotencyKey string, positionID uuid.UUID, mod Modification) error {
	if mod.Empty() {
		return errors.Wrap(errors.ErrInvalidInput, "empty modification")
	}
	path := fmt.Sprintf("/v1/positions/%s", positionID)
	return g.do(ctx, http.MethodPatch, path, idempotencyKey, mod, nil)
}

// ClosePosition fully closes an open position at market
func (g *HTTPGateway) ClosePosition(ctx context.Context, idempotencyKey string, positionID uuid.UUID) error {
	path := fmt.Sprintf("/v1/positions/%s/close", positionID)
	return g.do(ctx, http.MethodPost, path, idempotencyKey, nil, nil)
}

// GetPositions returns all open positions at the venue
func (g *HTTPGateway) GetPositions(ctx context.Context) ([]position.Position, error) {
	var dtos []positionDTO
	if err := g.do(ctx, http.MethodGet, "/v1/positions", "", nil, &dtos); err != nil {
		return nil, err
	}

	out := make([]position.Position, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, body, dest interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "gateway rate limiter")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrTimeout, "gateway call cancelled")
		}
		return errors.Wrapf(errors.ErrUnavailable, "gateway call failed: %v", err)
	}
	defer resp.Body.Close()

	g.log.Debugw("Gateway call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)

	if err := translateStatus(resp.StatusCode, resp.Body); err != nil {
		return err
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}
	return nil
}

// translateStatus maps venue HTTP statuses onto the shared error taxonomy so
// the executor can tell transient failures from terminal ones.
func translateStatus(status int, body io.Reader) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(body).Decode(&apiErr)

	switch {
	case status == http.StatusConflict && apiErr.Code == "position_closed":
		return errors.Wrap(errors.ErrPositionClosed, apiErr.Message)
	case status == http.StatusNotFound:
		return errors.Wrapf(errors.ErrNotFound, "gateway: %s", apiErr.Message)
	case status == http.StatusTooManyRequests:
		return errors.Wrapf(errors.ErrRateLimited, "gateway: %s", apiErr.Message)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return errors.Wrapf(errors.ErrTimeout, "gateway: %s", apiErr.Message)
	case status >= 500:
		return errors.Wrapf(errors.ErrUnavailable, "gateway returned %d: %s", status, apiErr.Message)
	case status >= 400:
		return errors.Wrapf(errors.ErrInvalidInput, "gateway returned %d: %s", status, apiErr.Message)
	default:
		return errors.Newf("gateway returned unexpected status %d", status)
	}
}

// positionDTO is the venue's wire representation of a position.
type positionDTO struct {
	ID         uuid.UUID       `json:"id"`
	StrategyID uuid.UUID       `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Status     string          `json:"status"`
	OpenedAt   time.Time       `json:"opened_at"`
}

func (d positionDTO) toDomain() position.Position {
	return position.Position{
		ID:         d.ID,
		StrategyID: d.StrategyID,
		Symbol:     d.Symbol,
		Side:       position.Side(d.Side),
		Volume:     d.Volume,
		EntryPrice: d.EntryPrice,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Status:     position.Status(d.Status),
		OpenedAt:   d.OpenedAt,
	}
}
