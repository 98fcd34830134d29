package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"sentinel/internal/adapters/config"
	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	reconnectBase    = time.Second
	reconnectMax     = 30 * time.Second
)

// Feed consumes the venue's tick stream over WebSocket and publishes
// price.tick events. It reconnects with backoff until its context ends.
type Feed struct {
	url     string
	symbols []string
	bus     *bus.Bus
	log     *logger.Logger

	conn      *websocket.Conn
	connected bool
	mu        sync.RWMutex
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewFeed creates a market data feed from config
func NewFeed(cfg config.MarketDataConfig, b *bus.Bus) *Feed {
	return &Feed{
		url:     cfg.WSURL,
		symbols: cfg.Symbols,
		bus:     b,
		log:     logger.Get().With("component", "marketdata_feed"),
	}
}

// Start connects and runs the read loop until ctx is cancelled.
// Connection failures are retried with exponential backoff.
func (f *Feed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.run()

	return nil
}

// Stop disconnects and waits for the feed goroutines to finish
func (f *Feed) Stop() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.disconnect()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.log.Info("Market data feed stopped")
		return nil
	case <-time.After(10 * time.Second):
		return errors.Wrap(errors.ErrTimeout, "feed shutdown timeout")
	}
}

// IsConnected returns connection status
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) run() {
	defer f.wg.Done()

	backoff := reconnectBase
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err := f.connect(); err != nil {
			f.log.Warnf("Connect failed, retrying in %s: %v", backoff, err)
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}
		backoff = reconnectBase

		f.readLoop()
		f.disconnect()

		select {
		case <-f.ctx.Done():
			return
		default:
			f.log.Warn("Connection lost, reconnecting...")
		}
	}
}

func (f *Feed) connect() error {
	f.log.Infof("Connecting to market data feed: %s", f.url)

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(f.ctx, f.url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial market data feed")
	}

	sub := subscribeMessage{Op: "subscribe", Symbols: f.symbols}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to subscribe")
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.pingLoop(conn)

	f.log.Infof("Market data feed connected, %d symbols", len(f.symbols))
	return nil
}

func (f *Feed) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		_ = f.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
}

func (f *Feed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				f.log.Warnf("Read error: %v", err)
			}
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Warnf("Malformed tick message: %v", err)
			continue
		}
		if msg.Symbol == "" {
			continue
		}

		tick := event.PriceTick{
			Symbol: msg.Symbol,
			Bid:    msg.Bid,
			Ask:    msg.Ask,
			At:     msg.At,
		}
		if tick.At.IsZero() {
			tick.At = time.Now().UTC()
		}

		if err := f.bus.Publish(event.New("marketdata", tick)); err != nil {
			if errors.Is(err, errors.ErrBusClosed) {
				return
			}
			f.log.Warnf("Failed to publish tick: %v", err)
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(
				websocket.PingMessage, nil,
				time.Now().Add(writeTimeout),
			)
			if err != nil {
				return
			}
		}
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type tickMessage struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	At     time.Time       `json:"ts"`
}
