package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/twitch-questions/hub"
	"github.com/onnwee/twitch-questions/logsink"
	"github.com/onnwee/twitch-questions/store"
	"github.com/onnwee/twitch-questions/telemetry"
)

// LogWriter is the persistence side channel. Append must not block.
type LogWriter interface {
	Append(at time.Time, kind logsink.Kind, line string)
}

// ConnState is the relay's view of the upstream connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	StateStopped
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// RelayOptions configures a Relay. Zero values pick defaults.
type RelayOptions struct {
	Channel      string
	Capacity     int
	Trigger      string
	ClientBuffer int
	Log          LogWriter
	Now          func() time.Time
}

// Status is a point-in-time summary of the relay.
type Status struct {
	Channel           string    `json:"channel"`
	Upstream          string    `json:"upstream"`
	Since             time.Time `json:"since"`
	Reconnects        uint64    `json:"reconnects"`
	ChatTotal         uint64    `json:"chat_total"`
	QuestionTotal     uint64    `json:"question_total"`
	SelfDropped       uint64    `json:"self_dropped"`
	BufferedChat      int       `json:"buffered_chat"`
	BufferedQuestions int       `json:"buffered_questions"`
	Clients           int       `json:"clients"`
	LastError         string    `json:"last_error,omitempty"`
}

// Relay moves upstream chat into the history stores, the log and the live stream.
type Relay struct {
	src        Source
	channel    string
	classifier Classifier
	log        LogWriter
	now        func() time.Time

	chat      *store.Bounded[Message]
	questions *store.Bounded[Message]
	hub       *hub.Hub[Envelope]

	// mu orders store pushes and broadcasts against Subscribe so a new
	// subscriber's snapshot and its live stream neither overlap nor leave a gap.
	mu sync.Mutex

	state       atomic.Int32
	stateMu     sync.Mutex
	since       time.Time
	lastErr     string
	reconnects  atomic.Uint64
	chatTotal   atomic.Uint64
	questTotal  atomic.Uint64
	selfDropped atomic.Uint64
}

// NewRelay wires a relay to src. The stores and the broadcast hub are created
// here and live for the relay's lifetime.
func NewRelay(src Source, opts RelayOptions) *Relay {
	if opts.Capacity < 1 {
		opts.Capacity = store.DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	channel := strings.TrimPrefix(strings.ToLower(opts.Channel), "#")
	r := &Relay{
		src:        src,
		channel:    channel,
		classifier: NewClassifier(opts.Trigger, channel),
		log:        opts.Log,
		now:        opts.Now,
		chat:       store.New[Message](opts.Capacity),
		questions:  store.New[Message](opts.Capacity),
		since:      opts.Now(),
	}
	r.hub = hub.New[Envelope](opts.ClientBuffer, r.onClientDropped)
	r.state.Store(int32(StateConnecting))
	return r
}

// Run processes upstream signals one at a time until the source returns. It
// returns the source's error: nil on cancellation, ErrInitialConnect (wrapped)
// when the first connection fails.
func (r *Relay) Run(ctx context.Context) error {
	in := make(chan Signal, 64)
	errc := make(chan error, 1)
	go func() { errc <- r.src.Run(ctx, in) }()

	for {
		select {
		case sig := <-in:
			r.Handle(sig)
		case err := <-errc:
		drain:
			for {
				select {
				case sig := <-in:
					r.Handle(sig)
				default:
					break drain
				}
			}
			r.setState(StateStopped, err)
			r.hub.Close()
			telemetry.SetConnectedClients(0)
			return err
		}
	}
}

// Handle applies one upstream signal. Run calls it sequentially.
func (r *Relay) Handle(sig Signal) {
	switch sig.Kind {
	case SignalMessage:
		r.handleMessage(sig)
	case SignalConnected:
		r.setState(StateConnected, nil)
		telemetry.SetUpstreamConnected(true)
		slog.Info("twitch chat connected", slog.String("channel", r.channel), slog.String("component", "relay"))
	case SignalDisconnected:
		r.setState(StateDisconnected, sig.Err)
		telemetry.SetUpstreamConnected(false)
		telemetry.Inc(telemetry.UpstreamDisconnect)
		slog.Warn("twitch chat disconnected", slog.String("channel", r.channel), slog.Any("err", sig.Err), slog.String("component", "relay"))
	case SignalReconnecting:
		r.reconnects.Add(1)
		r.setState(StateConnecting, nil)
		slog.Info("twitch chat reconnecting", slog.String("channel", r.channel), slog.String("component", "relay"))
	case SignalError:
		r.stateMu.Lock()
		if sig.Err != nil {
			r.lastErr = sig.Err.Error()
		}
		r.stateMu.Unlock()
		slog.Error("twitch chat error", slog.String("channel", r.channel), slog.Any("err", sig.Err), slog.String("component", "relay"))
	}
}

func (r *Relay) handleMessage(sig Signal) {
	if sig.IsSelf {
		r.selfDropped.Add(1)
		telemetry.Inc(telemetry.SelfMessages)
		return
	}
	at := sig.At
	if at.IsZero() {
		at = r.now()
	}
	channel := sig.Channel
	if channel == "" {
		channel = r.channel
	}
	msg := Message{User: sig.Sender, Message: sig.Text, ReceivedAt: at}
	line := FormatLine(channel, msg.User, msg.Message)
	question := r.classifier.IsQuestion(msg.Message)

	slog.Debug(line, slog.String("component", "relay"))

	r.mu.Lock()
	r.chat.Push(msg)
	r.append(at, logsink.KindChat, line)
	r.hub.Broadcast(Envelope{Event: EventNewMessage, Data: msg})
	if question {
		r.questions.Push(msg)
		r.append(at, logsink.KindQuestions, line)
		r.hub.Broadcast(Envelope{Event: EventNewQuestion, Data: msg})
	}
	r.mu.Unlock()

	r.chatTotal.Add(1)
	telemetry.Inc(telemetry.ChatMessages)
	if question {
		r.questTotal.Add(1)
		telemetry.Inc(telemetry.Questions)
	}
}

func (r *Relay) append(at time.Time, kind logsink.Kind, line string) {
	if r.log != nil {
		r.log.Append(at, kind, line)
	}
}

// Subscribe returns the buffered history and a live subscription that starts
// exactly where the history ends. Callers must Unsubscribe when done.
func (r *Relay) Subscribe() (Snapshot, *hub.Subscription[Envelope]) {
	r.mu.Lock()
	snap := Snapshot{Messages: r.chat.Snapshot(), Questions: r.questions.Snapshot()}
	sub := r.hub.Subscribe()
	r.mu.Unlock()
	telemetry.SetConnectedClients(r.hub.Len())
	return snap, sub
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (r *Relay) Unsubscribe(sub *hub.Subscription[Envelope]) {
	sub.Close()
	telemetry.SetConnectedClients(r.hub.Len())
}

// Snapshot returns the buffered history without subscribing.
func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Messages: r.chat.Snapshot(), Questions: r.questions.Snapshot()}
}

// State returns the current upstream state.
func (r *Relay) State() ConnState { return ConnState(r.state.Load()) }

// Status summarizes the relay for the status endpoint.
func (r *Relay) Status() Status {
	r.stateMu.Lock()
	since, lastErr := r.since, r.lastErr
	r.stateMu.Unlock()
	return Status{
		Channel:           r.channel,
		Upstream:          r.State().String(),
		Since:             since,
		Reconnects:        r.reconnects.Load(),
		ChatTotal:         r.chatTotal.Load(),
		QuestionTotal:     r.questTotal.Load(),
		SelfDropped:       r.selfDropped.Load(),
		BufferedChat:      r.chat.Len(),
		BufferedQuestions: r.questions.Len(),
		Clients:           r.hub.Len(),
		LastError:         lastErr,
	}
}

func (r *Relay) setState(s ConnState, err error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if ConnState(r.state.Swap(int32(s))) != s {
		r.since = r.now()
	}
	if err != nil {
		r.lastErr = err.Error()
	}
}

func (r *Relay) onClientDropped(id string) {
	telemetry.Inc(telemetry.ClientsDropped)
	telemetry.SetConnectedClients(r.hub.Len())
	slog.Warn("realtime client too slow; dropped", slog.String("client", id), slog.String("component", "relay"))
}
