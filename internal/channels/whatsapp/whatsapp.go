// Package whatsapp connects to a WhatsApp bridge via WebSocket. The bridge
// (whatsapp-web.js based) speaks the actual WhatsApp protocol; this channel
// exchanges JSON frames with it and feeds inbound traffic to the gateway.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vendaflow/vendaflow/internal/bus"
	"github.com/vendaflow/vendaflow/internal/channels"
	"github.com/vendaflow/vendaflow/internal/gateway"
)

// Config configures the bridge connection.
type Config struct {
	BridgeURL string `json:"bridge_url,omitempty"`
	// OutboundPerMinute throttles sends toward the bridge. 0 means the
	// default of 20; WhatsApp bans numbers that blast.
	OutboundPerMinute int `json:"outbound_per_minute,omitempty"`
}

// Receiver accepts inbound events read off the bridge. Satisfied by
// gateway.Ingestor.
type Receiver interface {
	Ingest(ev bus.InboundEvent) gateway.Decision
}

// Channel is the WhatsApp bridge channel. It implements channels.Channel and
// bus.Sender.
type Channel struct {
	cfg     Config
	limiter *rate.Limiter

	// mu guards conn and receiver; conn == nil means disconnected.
	mu       sync.Mutex
	conn     *websocket.Conn
	receiver Receiver

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the channel. Wire the inbound receiver with SetReceiver before
// Start; a channel without one is send-only.
func New(cfg Config) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	perMinute := cfg.OutboundPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Channel{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 3),
	}, nil
}

// SetReceiver wires the inbound sink. Called once during startup, before
// Start.
func (c *Channel) SetReceiver(r Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = r
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "whatsapp" }

// Start connects to the bridge and begins the read loop.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("whatsapp: starting channel", "bridge_url", c.cfg.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// The reconnect loop keeps trying; startup does not fail hard.
		slog.Warn("whatsapp: initial bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()
	return nil
}

// Stop closes the bridge connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("whatsapp: stopping channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Send delivers one outbound action to the bridge, honoring the outbound
// throttle. Implements bus.Sender.
func (c *Channel) Send(ctx context.Context, action bus.OutboundAction) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound throttle: %w", err)
	}

	frame := map[string]any{
		"to":      action.Contact + "@s.whatsapp.net",
		"content": action.Payload,
	}
	switch action.Type {
	case bus.ActionSendAudio:
		frame["type"] = "audio"
	default:
		frame["type"] = "message"
	}
	if action.Type == bus.ActionRequestHumanVerification {
		frame["tag"] = "verification"
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp frame: %w", err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp: bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("whatsapp: attempting bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp: bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp: read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("whatsapp: invalid bridge frame", "error", err)
			continue
		}
		if frame.Type == "message" {
			c.handleInbound(frame)
		}
	}
}

// bridgeFrame is the bridge's inbound wire shape:
// {"type":"message","from":"...","chat":"...","content":"...","id":"...","participant":"...","timestamp":...}
type bridgeFrame struct {
	Type        string `json:"type"`
	From        string `json:"from"`
	Chat        string `json:"chat"`
	Content     string `json:"content"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// handleInbound forwards one bridge message into the gateway. Routing
// decisions (groups, broadcasts, duplicates, staleness) all belong to the
// ingestor; the channel only maps the wire shape.
func (c *Channel) handleInbound(frame bridgeFrame) {
	c.mu.Lock()
	receiver := c.receiver
	c.mu.Unlock()
	if receiver == nil {
		return
	}
	raw := frame.Chat
	if raw == "" {
		raw = frame.From
	}
	if raw == "" {
		return
	}

	ev := bus.InboundEvent{
		ProviderMessageID:     frame.ID,
		RawContactIdentifier:  raw,
		ParticipantIdentifier: frame.Participant,
		Text:                  frame.Content,
		MessageType:           "text",
		Metadata:              map[string]string{"source": "bridge"},
	}
	if frame.Timestamp > 0 {
		ev.ProviderTimestamp = time.Unix(frame.Timestamp, 0)
	}

	d := receiver.Ingest(ev)
	slog.Debug("whatsapp: inbound frame",
		"accepted", d.Accepted,
		"reason", d.Reason,
		"preview", channels.Truncate(frame.Content, 50))
}
