package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// fakeIRC scripts Connect calls. A nil step (or running past the script)
// connects and then blocks until Disconnect.
type fakeIRC struct {
	mu            sync.Mutex
	onConnect     func()
	onPriv        func(twitch.PrivateMessage)
	onReconnect   func(twitch.ReconnectMessage)
	joined        []string
	registrations int
	calls         int
	script        []func(f *fakeIRC) error

	discOnce sync.Once
	disc     chan struct{}
}

func newFakeIRC(script ...func(f *fakeIRC) error) *fakeIRC {
	return &fakeIRC{script: script, disc: make(chan struct{})}
}

func (f *fakeIRC) OnConnect(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
	f.onConnect = cb
}

func (f *fakeIRC) OnPrivateMessage(cb func(twitch.PrivateMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
	f.onPriv = cb
}

func (f *fakeIRC) OnReconnectMessage(cb func(twitch.ReconnectMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
	f.onReconnect = cb
}

func (f *fakeIRC) Join(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channels...)
}

func (f *fakeIRC) Connect() error {
	f.mu.Lock()
	i := f.calls
	f.calls++
	var step func(*fakeIRC) error
	if i < len(f.script) {
		step = f.script[i]
	}
	f.mu.Unlock()
	if step != nil {
		return step(f)
	}
	f.onConnect()
	<-f.disc
	return nil
}

func (f *fakeIRC) Disconnect() error {
	f.discOnce.Do(func() { close(f.disc) })
	return nil
}

func failConnect(f *fakeIRC) error { return errors.New("dial tcp: refused") }

func connectThenDrop(f *fakeIRC) error {
	f.onConnect()
	return errors.New("connection reset")
}

func collect(t *testing.T, out <-chan Signal, n int) []Signal {
	t.Helper()
	var got []Signal
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case s := <-out:
			got = append(got, s)
		case <-timeout:
			t.Fatalf("got %d signals, want %d: %+v", len(got), n, got)
		}
	}
	return got
}

func kinds(sigs []Signal) []SignalKind {
	out := make([]SignalKind, len(sigs))
	for i, s := range sigs {
		out[i] = s.Kind
	}
	return out
}

func TestTwitchSourceRegistersOnce(t *testing.T) {
	irc := newFakeIRC()
	newTwitchSource(irc, "#JoppaVash", "", 0)
	if irc.registrations != 3 {
		t.Errorf("registrations = %d, want 3", irc.registrations)
	}
	if len(irc.joined) != 1 || irc.joined[0] != "joppavash" {
		t.Errorf("joined = %v, want [joppavash]", irc.joined)
	}
}

func TestTwitchSourceInitialConnectFailure(t *testing.T) {
	irc := newFakeIRC(failConnect)
	src := newTwitchSource(irc, "joppavash", "", time.Second)
	err := src.Run(context.Background(), make(chan Signal, 8))
	if !errors.Is(err, ErrInitialConnect) {
		t.Fatalf("err = %v, want ErrInitialConnect", err)
	}
}

func TestTwitchSourceDeliversMessages(t *testing.T) {
	irc := newFakeIRC(func(f *fakeIRC) error {
		f.onConnect()
		f.onPriv(twitch.PrivateMessage{
			User:    twitch.User{Name: "alice", DisplayName: "Alice"},
			Channel: "joppavash",
			Message: "!question why?",
		})
		<-f.disc
		return nil
	})
	src := newTwitchSource(irc, "joppavash", "", time.Second)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Signal, 8)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, out) }()

	got := collect(t, out, 2)
	if got[0].Kind != SignalConnected {
		t.Fatalf("first signal = %v, want connected", got[0].Kind)
	}
	msg := got[1]
	if msg.Kind != SignalMessage || msg.Sender != "Alice" || msg.Text != "!question why?" || msg.Channel != "joppavash" {
		t.Errorf("unexpected message signal %+v", msg)
	}
	if !msg.At.Equal(fixed) {
		t.Errorf("At = %v, want %v", msg.At, fixed)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTwitchSourceReconnectBackoff(t *testing.T) {
	irc := newFakeIRC(connectThenDrop, failConnect, failConnect, failConnect)
	src := newTwitchSource(irc, "joppavash", "", 5*time.Second)
	var mu sync.Mutex
	var slept []time.Duration
	src.sleep = func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Signal, 64)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, out) }()

	// connected, then four drop/retry cycles, then connected again
	got := collect(t, out, 1+4*2+1)
	want := []SignalKind{
		SignalConnected,
		SignalDisconnected, SignalReconnecting,
		SignalDisconnected, SignalReconnecting,
		SignalDisconnected, SignalReconnecting,
		SignalDisconnected, SignalReconnecting,
		SignalConnected,
	}
	gotKinds := kinds(got)
	for i := range want {
		if gotKinds[i] != want[i] {
			t.Fatalf("signals = %v, want %v", gotKinds, want)
		}
	}
	if got[1].Err == nil {
		t.Error("disconnect signal should carry the connection error")
	}

	mu.Lock()
	wantSleeps := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(slept) != len(wantSleeps) {
		t.Fatalf("slept = %v, want %v", slept, wantSleeps)
	}
	for i := range wantSleeps {
		if slept[i] != wantSleeps[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, slept[i], wantSleeps[i])
		}
	}
	mu.Unlock()

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestTwitchSourceSelfDetection(t *testing.T) {
	src := newTwitchSource(newFakeIRC(), "joppavash", "RelayBot", 0)
	tests := []struct {
		name string
		user twitch.User
		want bool
	}{
		{"own login", twitch.User{Name: "relaybot", DisplayName: "RelayBot"}, true},
		{"other user", twitch.User{Name: "alice", DisplayName: "Alice"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := src.toSignal(twitch.PrivateMessage{User: tt.user, Message: "hi"})
			if sig.IsSelf != tt.want {
				t.Errorf("IsSelf = %v, want %v", sig.IsSelf, tt.want)
			}
			if sig.Channel != "joppavash" {
				t.Errorf("Channel = %q, want fallback to joppavash", sig.Channel)
			}
		})
	}

	anon := newTwitchSource(newFakeIRC(), "joppavash", "", 0)
	if anon.toSignal(twitch.PrivateMessage{User: twitch.User{Name: "justinfan123"}}).IsSelf {
		t.Error("anonymous source never marks messages as self")
	}
}

func TestTwitchSourceDisplayNameFallback(t *testing.T) {
	src := newTwitchSource(newFakeIRC(), "joppavash", "", 0)
	sig := src.toSignal(twitch.PrivateMessage{User: twitch.User{Name: "bob"}, Message: "hey"})
	if sig.Sender != "bob" {
		t.Errorf("Sender = %q, want bob", sig.Sender)
	}
}
