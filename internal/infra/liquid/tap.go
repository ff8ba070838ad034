package liquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wick_go/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Pusher protocol events used by Liquid Tap.
const (
	eventConnected    = "pusher:connection_established"
	eventSubscribe    = "pusher:subscribe"
	eventSubscribed   = "pusher_internal:subscription_succeeded"
	eventPing         = "pusher:ping"
	eventPong         = "pusher:pong"
	eventError        = "pusher:error"
	tapReadTimeout    = 60 * time.Second
	tapHandshakeLimit = 10 * time.Second
)

type pusherFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data"`
}

// Tap is a single Liquid Tap websocket session. It does not reconnect by itself;
// the owner discards it and builds a new one.
type Tap struct {
	url          string
	pingInterval time.Duration
	logger       *slog.Logger

	handlers map[domain.Topic][]func([]byte)
	conn     *websocket.Conn
	mu       sync.RWMutex
	writeMu  sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ domain.Transport = (*Tap)(nil)

// NewTap creates an unconnected Tap session.
func NewTap(url string, pingInterval time.Duration, logger *slog.Logger) *Tap {
	return &Tap{
		url:          url,
		pingInterval: pingInterval,
		logger:       logger.With("module", "liquid_tap"),
		handlers:     make(map[domain.Topic][]func([]byte)),
	}
}

// ChannelTicker is the product channel carrying ticker updates.
func ChannelTicker(pair string, productID int) string {
	return fmt.Sprintf("product_cash_%s_%d", pair, productID)
}

// ChannelExecutions is the public trade channel of a pair.
func ChannelExecutions(pair string) string {
	return "executions_cash_" + pair
}

// Subscribe registers handler for topic. Topics added after Connect are subscribed immediately.
func (t *Tap) Subscribe(topic domain.Topic, handler func(payload []byte)) {
	t.mu.Lock()
	_, known := t.handlers[topic]
	t.handlers[topic] = append(t.handlers[topic], handler)
	connected := t.conn != nil
	t.mu.Unlock()

	if connected && !known {
		if err := t.subscribe(topic.Channel); err != nil {
			t.logger.Warn("Subscribe failed", slog.String("channel", topic.Channel), slog.Any("error", err))
		}
	}
}

// Connect dials, waits for the Pusher handshake, subscribes to every registered
// channel and starts the read and ping loops.
func (t *Tap) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: tapHandshakeLimit,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(tapHandshakeLimit))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}
	if ev := gjson.GetBytes(msg, "event").Str; ev != eventConnected {
		conn.Close()
		return fmt.Errorf("unexpected handshake event %q: %s", ev, msg)
	}

	t.mu.Lock()
	t.conn = conn
	channels := make(map[string]struct{})
	for topic := range t.handlers {
		channels[topic.Channel] = struct{}{}
	}
	t.mu.Unlock()

	for ch := range channels {
		if err := t.subscribe(ch); err != nil {
			t.closeConnection()
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(2)
	go t.readLoop(ctx)
	go t.pingLoop(ctx)

	t.logger.Info("Liquid Tap connected", slog.Int("channels", len(channels)))
	return nil
}

func (t *Tap) subscribe(channel string) error {
	return t.writeJSON(pusherFrame{
		Event: eventSubscribe,
		Data:  map[string]string{"channel": channel},
	})
}

// writeJSON sends a frame to the connection in a thread-safe manner
func (t *Tap) writeJSON(frame pusherFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Tap) pingLoop(ctx context.Context) {
	defer t.wg.Done()
	if t.pingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.writeJSON(pusherFrame{Event: eventPing, Data: map[string]string{}}); err != nil {
				t.logger.Debug("Ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (t *Tap) readLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(tapReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("Liquid Tap read error", slog.Any("error", err))
			}
			t.closeConnection()
			return
		}

		t.handleFrame(message)
	}
}

// handleFrame routes one Pusher frame. Event payloads arrive JSON-encoded inside the
// data string.
func (t *Tap) handleFrame(message []byte) {
	frame := gjson.ParseBytes(message)
	event := frame.Get("event").Str
	channel := frame.Get("channel").Str

	switch event {
	case eventPing:
		if err := t.writeJSON(pusherFrame{Event: eventPong, Data: map[string]string{}}); err != nil {
			t.logger.Debug("Pong failed", slog.Any("error", err))
		}
		return
	case eventPong:
		return
	case eventSubscribed:
		t.logger.Debug("Subscribed", slog.String("channel", channel))
		return
	case eventError:
		t.logger.Warn("Liquid Tap error frame", slog.String("data", frame.Get("data").Raw))
		return
	}

	data := frame.Get("data")
	payload := []byte(data.Raw)
	if data.Type == gjson.String {
		payload = []byte(data.Str)
	}

	t.mu.RLock()
	handlers := t.handlers[domain.Topic{Channel: channel, Event: event}]
	t.mu.RUnlock()

	for _, h := range handlers {
		t.dispatch(h, payload, channel)
	}
}

func (t *Tap) dispatch(h func([]byte), payload []byte, channel string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Handler panic recovered", slog.String("channel", channel), slog.Any("panic", r))
		}
	}()
	h(payload)
}

// closeConnection safely closes the WebSocket connection
func (t *Tap) closeConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Disconnect closes the session and waits for its goroutines.
func (t *Tap) Disconnect() {
	if t.cancel != nil {
		t.cancel()
	}
	t.closeConnection()
	t.wg.Wait()
}

// IsConnected returns connection status
func (t *Tap) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}
