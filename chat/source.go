package chat

import (
	"context"
	"errors"
	"time"
)

// ErrInitialConnect is returned by a Source whose first connection attempt
// fails. There is nothing to relay without it, so callers treat it as fatal.
var ErrInitialConnect = errors.New("initial upstream connection failed")

// SignalKind distinguishes chat lines from connection lifecycle signals.
type SignalKind int

const (
	SignalMessage SignalKind = iota
	SignalConnected
	SignalDisconnected
	SignalReconnecting
	SignalError
)

func (k SignalKind) String() string {
	switch k {
	case SignalMessage:
		return "message"
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalReconnecting:
		return "reconnecting"
	case SignalError:
		return "error"
	}
	return "unknown"
}

// Signal is one item of the upstream stream. Channel, Sender, Text and IsSelf
// are set for SignalMessage; Err may accompany lifecycle signals.
type Signal struct {
	Kind    SignalKind
	Channel string
	Sender  string
	Text    string
	IsSelf  bool
	At      time.Time
	Err     error
}

// Source delivers upstream signals to out until ctx is done. It owns its own
// reconnect logic and returns nil on cancellation. A failed first connection
// returns an error wrapping ErrInitialConnect.
type Source interface {
	Run(ctx context.Context, out chan<- Signal) error
}
