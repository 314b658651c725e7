package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/wire"
)

// EventKind discriminates inbound connection events.
type EventKind uint8

// Connection event kinds. A Conn emits zero or more Message events followed
// by exactly one Closed or Error event, after which the stream is closed.
const (
	KindMessage EventKind = iota + 1
	KindClosed
	KindError
)

// Event is one inbound occurrence on a Conn.
type Event struct {
	Kind     EventKind
	Envelope wire.Envelope
	Err      error
}

// Options tunes a dialed connection.
//   - PingInterval: keepalive probe cadence (default 10s).
//   - WriteTimeout: per-frame write deadline (default 5s).
//   - HTTPHeader: extra headers for the websocket handshake.
//   - Logger: optional structured logger for dropped-frame warnings.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	HTTPHeader   http.Header
	Logger       *zap.Logger
}

const (
	defaultPingInterval = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	eventBuffer         = 64
)

// Conn is one push channel bound to one task id. It owns the keepalive probe
// and its own teardown; it never reconnects.
type Conn struct {
	taskID string
	topic  string
	ws     *websocket.Conn
	opts   Options
	logger *zap.Logger

	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}

	readCancel context.CancelFunc
	closeOnce  sync.Once
	lastSeen   atomic.Int64
	dropped    atomic.Int64
}

// Dial opens the websocket at addr and binds it to taskID. Frames whose
// topic is not the task's own (or the umbrella topic for taskID "all") are
// ignored. The returned Conn is already reading and probing.
func Dial(ctx context.Context, addr, taskID string, opts Options) (*Conn, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialOpts *websocket.DialOptions
	if len(opts.HTTPHeader) > 0 {
		dialOpts = &websocket.DialOptions{HTTPHeader: opts.HTTPHeader}
	}
	ws, _, err := websocket.Dial(ctx, addr, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("dial task channel %s: %w", taskID, err)
	}

	topic := wire.Topic(taskID)
	if taskID == "all" {
		topic = wire.TopicAll
	}
	readCtx, readCancel := context.WithCancel(context.Background())
	c := &Conn{
		taskID:     taskID,
		topic:      topic,
		ws:         ws,
		opts:       opts,
		logger:     logger.With(zap.String("task_id", taskID)),
		events:     make(chan Event, eventBuffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		readCancel: readCancel,
	}
	c.touch()
	go c.readLoop(readCtx)
	go c.keepalive()
	return c, nil
}

// TaskID returns the task id the connection is bound to.
func (c *Conn) TaskID() string {
	return c.taskID
}

// Events returns the inbound event stream. It is closed after the terminal
// Closed or Error event has been delivered.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// LastSeen reports when the last frame, pong included, arrived.
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Dropped reports how many inbound frames were discarded as malformed or
// off-topic.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Send writes a text frame. It is used for the keepalive probe and exposed
// for tests.
func (c *Conn) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close tears the connection down. It returns immediately; the close
// handshake is fire-and-forget and nothing waits for the peer's ack.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.readCancel()
		go func() {
			_ = c.ws.Close(websocket.StatusNormalClosure, "unsubscribed")
		}()
	})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.doneCh)
	defer close(c.events)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.emitTerminal(err)
			return
		}
		if typ != websocket.MessageText {
			c.drop("non-text frame")
			continue
		}
		c.touch()
		text := string(data)
		if text == wire.PongFrame {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			c.drop("malformed frame")
			continue
		}
		if env.Topic != c.topic {
			c.drop("unexpected topic")
			continue
		}
		c.emit(Event{Kind: KindMessage, Envelope: env})
	}
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.doneCh:
			return
		case <-ticker.C:
			if err := c.Send(context.Background(), wire.PingFrame); err != nil {
				c.logger.Debug("keepalive write failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) emitTerminal(err error) {
	evt := Event{Kind: KindError, Err: err}
	if c.expectedClose(err) {
		evt = Event{Kind: KindClosed}
	}
	c.emit(evt)
}

// expectedClose separates orderly shutdown (peer close frame, local Close)
// from transport failure.
func (c *Conn) expectedClose(err error) bool {
	select {
	case <-c.stopCh:
		return true
	default:
	}
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func (c *Conn) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.stopCh:
		// Consumer is gone; terminal events still try a non-blocking send so
		// the stream always ends.
		select {
		case c.events <- evt:
		default:
		}
	}
}

func (c *Conn) drop(reason string) {
	c.dropped.Add(1)
	c.logger.Debug("dropping inbound frame", zap.String("reason", reason))
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}
