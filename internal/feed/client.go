package feed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"xts-terminal/internal/models"
)

// ClientConfig holds the feed connection settings.
type ClientConfig struct {
	URL        string
	Token      string // session token appended as a query parameter
	MaxRetries int
	BaseDelay  time.Duration
}

// Client maintains the broadcast websocket: it decodes frames into ticks,
// tracks subscriptions for replay after a reconnect, and retries dropped
// connections with exponential backoff.
type Client struct {
	config ClientConfig
	log    zerolog.Logger

	onTick       func(models.Tick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	conn       *websocket.Conn
	connected  bool
	closing    bool
	subscribed map[int]map[int64]struct{} // segment -> tokens

	mu      sync.RWMutex
	writeMu sync.Mutex
}

// NewClient creates a feed client. Connect starts it.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	return &Client{
		config:     cfg,
		log:        log.With().Str("component", "feed").Logger(),
		subscribed: make(map[int]map[int64]struct{}),
	}
}

// OnTick sets the tick handler.
func (c *Client) OnTick(fn func(models.Tick)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// OnError sets the error handler.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// OnConnect sets the handler fired after each successful (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// OnDisconnect sets the handler fired when the socket drops.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect dials the feed and starts the read loop. It returns once the
// socket is established; reconnection after a drop is automatic.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	url := c.config.URL
	if c.config.Token != "" {
		url = fmt.Sprintf("%s?token=%s", url, c.config.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	onConnect := c.onConnect
	c.mu.Unlock()

	c.log.Info().Str("url", c.config.URL).Msg("feed connected")
	if onConnect != nil {
		go onConnect()
	}
	return nil
}

// Disconnect closes the socket and stops reconnection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe registers tokens on one segment and sends the subscription
// frame. The set is retained and replayed after a reconnect.
func (c *Client) Subscribe(segment int, tokens []int64) error {
	c.mu.Lock()
	set, ok := c.subscribed[segment]
	if !ok {
		set = make(map[int64]struct{})
		c.subscribed[segment] = set
	}
	fresh := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		if _, dup := set[t]; !dup {
			set[t] = struct{}{}
			fresh = append(fresh, t)
		}
	}
	connected := c.connected
	c.mu.Unlock()

	if !connected || len(fresh) == 0 {
		return nil
	}
	return c.send(true, segment, fresh)
}

// Unsubscribe removes tokens from one segment's set and notifies the
// feed.
func (c *Client) Unsubscribe(segment int, tokens []int64) error {
	c.mu.Lock()
	set := c.subscribed[segment]
	removed := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			delete(set, t)
			removed = append(removed, t)
		}
	}
	connected := c.connected
	c.mu.Unlock()

	if !connected || len(removed) == 0 {
		return nil
	}
	return c.send(false, segment, removed)
}

func (c *Client) send(subscribe bool, segment int, tokens []int64) error {
	payload, err := encodeSubscribe(subscribe, segment, tokens)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("feed not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write subscription: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(ctx, err)
			return
		}

		tick, err := ParseFrame(data)
		if err != nil {
			// Heartbeats and control frames land here; skip quietly.
			continue
		}

		c.mu.RLock()
		onTick := c.onTick
		c.mu.RUnlock()
		if onTick != nil {
			onTick(tick)
		}
	}
}

func (c *Client) handleDrop(ctx context.Context, err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	closing := c.closing
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	if closing {
		return
	}
	c.log.Warn().Err(err).Msg("feed connection dropped")
	if onDisconnect != nil && wasConnected {
		go onDisconnect()
	}
	c.reconnect(ctx)
}

func (c *Client) reconnect(ctx context.Context) {
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := c.config.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		c.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnecting feed")
		time.Sleep(delay)

		c.mu.RLock()
		closing := c.closing
		c.mu.RUnlock()
		if closing {
			return
		}

		if err := c.dial(ctx); err != nil {
			c.emitError(err)
			continue
		}
		c.resubscribe()
		go c.readLoop(ctx)
		return
	}
	c.emitError(fmt.Errorf("feed: max reconnection attempts reached"))
}

// resubscribe replays the retained subscription set on a new socket.
func (c *Client) resubscribe() {
	c.mu.RLock()
	sets := make(map[int][]int64, len(c.subscribed))
	for segment, set := range c.subscribed {
		tokens := make([]int64, 0, len(set))
		for t := range set {
			tokens = append(tokens, t)
		}
		if len(tokens) > 0 {
			sets[segment] = tokens
		}
	}
	c.mu.RUnlock()

	for segment, tokens := range sets {
		if err := c.send(true, segment, tokens); err != nil {
			c.emitError(fmt.Errorf("failed to resubscribe segment %d: %w", segment, err))
		}
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}
