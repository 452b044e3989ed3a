package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

const (
	initialBackoff     = time.Second
	defaultMaxBackoff  = 30 * time.Second
	disconnectInterval = 100 * time.Millisecond
)

// ircClient is the subset of *twitch.Client the source drives.
type ircClient interface {
	OnConnect(callback func())
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnReconnectMessage(callback func(message twitch.ReconnectMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TwitchSource reads a single channel over Twitch IRC.
type TwitchSource struct {
	channel    string
	login      string
	client     ircClient
	maxBackoff time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) bool

	mu  sync.Mutex
	out chan<- Signal
	ctx context.Context

	everConnected atomic.Bool
	sessionUp     atomic.Bool
}

// NewTwitchSource joins channel. With an empty username the connection is
// anonymous (read-only); otherwise oauthToken must be a chat:read token.
func NewTwitchSource(channel, username, oauthToken string, maxBackoff time.Duration) *TwitchSource {
	var client *twitch.Client
	if username == "" {
		client = twitch.NewAnonymousClient()
	} else {
		client = twitch.NewClient(username, oauthToken)
	}
	return newTwitchSource(client, channel, username, maxBackoff)
}

func newTwitchSource(client ircClient, channel, login string, maxBackoff time.Duration) *TwitchSource {
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	s := &TwitchSource{
		channel:    strings.TrimPrefix(strings.ToLower(channel), "#"),
		login:      strings.ToLower(login),
		client:     client,
		maxBackoff: maxBackoff,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	// registered exactly once; reconnects reuse the same client and callbacks
	client.OnConnect(s.onConnect)
	client.OnPrivateMessage(s.onPrivateMessage)
	client.OnReconnectMessage(s.onReconnectMessage)
	client.Join(s.channel)
	return s
}

// Run connects and keeps reconnecting with exponential backoff until ctx is done.
func (s *TwitchSource) Run(ctx context.Context, out chan<- Signal) error {
	s.mu.Lock()
	s.out, s.ctx = out, ctx
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go s.disconnectOnCancel(ctx, stop)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.client.Connect()
		if ctx.Err() != nil {
			return nil
		}
		if !s.everConnected.Load() {
			return fmt.Errorf("%w: %s: %v", ErrInitialConnect, s.channel, err)
		}
		if s.sessionUp.Swap(false) {
			backoff = initialBackoff
		}
		s.emit(Signal{Kind: SignalDisconnected, Channel: s.channel, At: s.now(), Err: err})
		if !s.sleep(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		s.emit(Signal{Kind: SignalReconnecting, Channel: s.channel, At: s.now()})
	}
}

// disconnectOnCancel keeps calling Disconnect after cancellation until Run
// returns, covering a Connect that starts just after ctx is done.
func (s *TwitchSource) disconnectOnCancel(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}
	t := time.NewTicker(disconnectInterval)
	defer t.Stop()
	for {
		_ = s.client.Disconnect()
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (s *TwitchSource) onConnect() {
	s.everConnected.Store(true)
	s.sessionUp.Store(true)
	s.emit(Signal{Kind: SignalConnected, Channel: s.channel, At: s.now()})
}

func (s *TwitchSource) onReconnectMessage(twitch.ReconnectMessage) {
	// server-requested reconnect; the client handles it and fires onConnect again
	s.emit(Signal{Kind: SignalReconnecting, Channel: s.channel, At: s.now()})
}

func (s *TwitchSource) onPrivateMessage(msg twitch.PrivateMessage) {
	s.emit(s.toSignal(msg))
}

func (s *TwitchSource) toSignal(msg twitch.PrivateMessage) Signal {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	channel := msg.Channel
	if channel == "" {
		channel = s.channel
	}
	return Signal{
		Kind:    SignalMessage,
		Channel: channel,
		Sender:  name,
		Text:    msg.Message,
		IsSelf:  s.login != "" && strings.EqualFold(msg.User.Name, s.login),
		At:      s.now(),
	}
}

// emit blocks until the relay accepts sig, which is the only backpressure
// applied to the IRC reader.
func (s *TwitchSource) emit(sig Signal) {
	s.mu.Lock()
	out, ctx := s.out, s.ctx
	s.mu.Unlock()
	if out == nil {
		slog.Debug("twitch signal before run", slog.String("kind", sig.Kind.String()))
		return
	}
	select {
	case out <- sig:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
