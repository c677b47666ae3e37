// Package stream maintains the persistent push channel to the backend. It
// reconnects on its own with capped attempts and increasing delay; once the
// cap is exhausted the channel stays disconnected until reopened, and polling
// remains the fallback consistency mechanism.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	"market-sentry/internal/sentry/dto"
	"market-sentry/pkg/common"
	"market-sentry/pkg/logger"
	"market-sentry/pkg/utils"

	"github.com/gorilla/websocket"
)

const (
	defaultMaxReconnects     = 5
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 45 * time.Second
)

// ChannelError reports a push-channel failure.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("push channel %s: %v", e.Op, e.Err) }
func (e *ChannelError) Unwrap() error { return e.Err }

// Handler receives every non-ack message delivered on the channel.
type Handler func(msg dto.StreamMessage)

// StateHandler observes ConnectionState transitions.
type StateHandler func(state entity.ConnectionState)

// Consumer is the push-channel client.
type Consumer struct {
	cfg       *config.Config
	log       *logger.Logger
	onMessage Handler
	onState   StateHandler

	maxReconnects int
	baseDelay     time.Duration
	maxDelay      time.Duration
	pingInterval  time.Duration

	mu       sync.Mutex
	state    entity.ConnectionState
	stopChan chan struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewConsumer creates a push-channel consumer. Open must be called to connect.
func NewConsumer(cfg *config.Config, log *logger.Logger, onMessage Handler, onState StateHandler) *Consumer {
	c := &Consumer{
		cfg:           cfg,
		log:           log,
		onMessage:     onMessage,
		onState:       onState,
		maxReconnects: defaultMaxReconnects,
		baseDelay:     defaultReconnectDelay,
		maxDelay:      defaultMaxReconnectDelay,
		pingInterval:  defaultPingInterval,
		state:         entity.ConnDisconnected,
	}
	if cfg.Stream.MaxReconnects > 0 {
		c.maxReconnects = cfg.Stream.MaxReconnects
	}
	if d, err := time.ParseDuration(cfg.Stream.ReconnectDelay); err == nil && d > 0 {
		c.baseDelay = d
	}
	if d, err := time.ParseDuration(cfg.Stream.MaxReconnectDelay); err == nil && d > 0 {
		c.maxDelay = d
	}
	if d, err := time.ParseDuration(cfg.Stream.PingInterval); err == nil && d > 0 {
		c.pingInterval = d
	}
	return c
}

// State returns the current connection state.
func (c *Consumer) State() entity.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts the connect/reconnect loop. Calling Open while the loop is
// already running is a no-op; calling it after the reconnect cap was exhausted
// starts a fresh attempt budget.
func (c *Consumer) Open(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	stop := c.stopChan
	c.mu.Unlock()

	c.wg.Add(1)
	utils.GoSafe(func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		c.run(ctx, stop)
	})
}

// Close tears the channel down and waits for the loop to exit. Safe to call
// more than once.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.stopChan != nil {
		select {
		case <-c.stopChan:
		default:
			close(c.stopChan)
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, stop chan struct{}) {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(entity.ConnDisconnected)
			return
		case <-stop:
			c.setState(entity.ConnDisconnected)
			return
		default:
		}

		c.setState(entity.ConnConnecting)
		connected, err := c.runOnce(ctx, stop)
		c.setState(entity.ConnDisconnected)

		if ctx.Err() != nil || stopped(stop) {
			return
		}

		// The budget counts consecutive reconnection attempts after an
		// initial failure: the failure itself is free, the next
		// maxReconnects re-dials are not. A session that actually connected
		// starts a fresh budget when it drops.
		if connected {
			failures = 0
		}
		failures++
		if failures > c.maxReconnects {
			c.log.Error("Push channel reconnect budget exhausted, staying disconnected",
				logger.IntField("reconnect_attempts", failures-1), logger.ErrorField(err))
			return
		}

		delay := c.baseDelay << (failures - 1)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
		c.log.Warn("Push channel dropped, reconnecting",
			logger.ErrorField(err),
			logger.IntField("attempt", failures),
			logger.Field("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

// runOnce dials, then pumps messages until the connection or the consumer
// dies. The returned bool reports whether the dial succeeded.
func (c *Consumer) runOnce(ctx context.Context, stop chan struct{}) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Stream.URL, nil)
	if err != nil {
		return false, &ChannelError{Op: "dial", Err: err}
	}
	defer conn.Close()

	c.setState(entity.ConnConnected)

	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg dto.StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- &ChannelError{Op: "read", Err: err}
				return
			}
			c.dispatch(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-stop:
			return true, nil
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case err := <-errCh:
			return true, err
		}
	}
}

func (c *Consumer) dispatch(msg dto.StreamMessage) {
	switch msg.Event {
	case common.StreamEventSessionAck:
		c.log.Debug("Push channel session acknowledged")
	case "":
		c.log.Warn("Dropping stream message without event name")
	default:
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Consumer) setState(state entity.ConnectionState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(state)
	}
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
