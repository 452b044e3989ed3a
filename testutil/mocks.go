package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/twitch-questions/chat"
	"github.com/onnwee/twitch-questions/logsink"
)

// FakeSource is a scripted chat.Source. Signals passed to Emit are forwarded
// to the relay in order; Stop makes Run return the given error.
type FakeSource struct {
	signals chan chat.Signal
	stop    chan error
}

// NewFakeSource creates an idle source.
func NewFakeSource() *FakeSource {
	return &FakeSource{signals: make(chan chat.Signal), stop: make(chan error, 1)}
}

// Run implements chat.Source.
func (f *FakeSource) Run(ctx context.Context, out chan<- chat.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-f.stop:
			return err
		case sig := <-f.signals:
			select {
			case out <- sig:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Emit hands sig to Run, blocking until it is picked up.
func (f *FakeSource) Emit(sig chat.Signal) { f.signals <- sig }

// Say emits a chat line from user.
func (f *FakeSource) Say(channel, user, text string) {
	f.Emit(chat.Signal{Kind: chat.SignalMessage, Channel: channel, Sender: user, Text: text, At: time.Now()})
}

// Stop makes Run return err.
func (f *FakeSource) Stop(err error) { f.stop <- err }

// LogLine is one recorded append.
type LogLine struct {
	At   time.Time
	Kind logsink.Kind
	Line string
}

// RecordingLog captures appends in memory.
type RecordingLog struct {
	mu    sync.Mutex
	lines []LogLine
}

// Append implements chat.LogWriter.
func (r *RecordingLog) Append(at time.Time, kind logsink.Kind, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, LogLine{At: at, Kind: kind, Line: line})
}

// Lines returns a copy of the recorded appends.
func (r *RecordingLog) Lines() []LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogLine(nil), r.lines...)
}

// OfKind returns the recorded lines for kind, in order.
func (r *RecordingLog) OfKind(kind logsink.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.Kind == kind {
			out = append(out, l.Line)
		}
	}
	return out
}
