package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the connection state of a Handle.
type State int

const (
	// StateOpen means the current transport is believed healthy.
	StateOpen State = iota
	// StateNeedsReconnect means the last operation saw a stale transport.
	StateNeedsReconnect
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateNeedsReconnect:
		return "needs_reconnect"
	default:
		return "unknown"
	}
}

// Handle owns a single broker transport and re-establishes it on staleness.
//
// Publish never loops on reconnect: each call re-dials at most once. A stale failure
// moves the handle to NeedsReconnect, the transport is re-dialled and the pending
// message is retried once. A call that starts in NeedsReconnect spends its reconnect
// before the first send. A second failure is returned to the caller.
type Handle struct {
	mu     sync.Mutex
	dial   Dialer
	conn   Transport
	state  State
	closed bool
	logger *zap.Logger

	// OnReconnect, if set, is called after each successful reconnect.
	OnReconnect func()
}

// NewHandle dials the first transport.
func NewHandle(ctx context.Context, dial Dialer, logger *zap.Logger) (*Handle, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle{dial: dial, conn: conn, state: StateOpen, logger: logger}, nil
}

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Publish sends msg and waits for the broker confirmation.
func (h *Handle) Publish(ctx context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.state == StateNeedsReconnect {
		if err := h.reconnect(ctx); err != nil {
			return err
		}
		// The reconnect for this call is spent; a stale failure now is final.
		err := h.conn.Publish(ctx, msg)
		if errors.Is(err, ErrStale) {
			h.state = StateNeedsReconnect
			return fmt.Errorf("publish %s after reconnect: %w", msg.MessageID, err)
		}
		return err
	}

	err := h.conn.Publish(ctx, msg)
	if err == nil || !errors.Is(err, ErrStale) {
		return err
	}

	h.state = StateNeedsReconnect
	h.logger.Warn("Bus connection stale, reconnecting",
		zap.String("message_id", msg.MessageID),
		zap.Error(err),
	)
	if rerr := h.reconnect(ctx); rerr != nil {
		return fmt.Errorf("publish %s: %w (reconnect failed: %v)", msg.MessageID, err, rerr)
	}

	if err := h.conn.Publish(ctx, msg); err != nil {
		if errors.Is(err, ErrStale) {
			h.state = StateNeedsReconnect
		}
		return fmt.Errorf("publish %s after reconnect: %w", msg.MessageID, err)
	}
	return nil
}

// reconnect replaces the transport. Must be called with mu held.
func (h *Handle) reconnect(ctx context.Context) error {
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
	conn, err := h.dial(ctx)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	h.conn = conn
	h.state = StateOpen
	h.logger.Info("Bus connection re-established")
	if h.OnReconnect != nil {
		h.OnReconnect()
	}
	return nil
}

// Close releases the transport. Further publishes fail with ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}
