// Package logsink persists relayed chat to day-sharded plain text files.
//
// Layout: <root>/<YYYY-MM-DD>/chat_log.txt and <root>/<YYYY-MM-DD>/questions.txt,
// one line per event. Dates are UTC calendar days. The shard for a line is
// derived from the line's own timestamp at write time, so a write that lands
// after midnight for an event received before midnight still goes to the
// earlier day.
//
// Appends are best-effort: they are queued to a single writer goroutine (which
// keeps line order) and never block the caller. Failures are logged and
// counted; they never propagate back to the relay.
package logsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Kind selects which file of a shard a line goes to.
type Kind string

const (
	KindChat      Kind = "chat"
	KindQuestions Kind = "questions"
)

const (
	ChatFile      = "chat_log.txt"
	QuestionsFile = "questions.txt"

	// DateLayout names shard directories.
	DateLayout = "2006-01-02"

	defaultQueueSize = 1024
)

var (
	// ErrInvalidName is returned for shard or file names that are not a plain basename.
	ErrInvalidName = errors.New("logsink: invalid name")
	// ErrClosed is recorded for appends issued after Close.
	ErrClosed = errors.New("logsink: closed")
	// ErrQueueFull is recorded when the writer is too far behind to accept a line.
	ErrQueueFull = errors.New("logsink: write queue full")
)

// File returns the file name a kind is written to.
func (k Kind) File() (string, error) {
	switch k {
	case KindChat:
		return ChatFile, nil
	case KindQuestions:
		return QuestionsFile, nil
	}
	return "", fmt.Errorf("logsink: unknown kind %q", string(k))
}

// Options tunes a Sink. Zero values pick defaults.
type Options struct {
	QueueSize int
	// OnFailure is called from the writer goroutine for every failed append.
	OnFailure func(err error)
	Now       func() time.Time
}

type entry struct {
	at   time.Time
	kind Kind
	line string
	// barrier entries carry only done; the writer closes it when reached
	done chan struct{}
}

// Sink is the day-sharded append-only log store.
type Sink struct {
	root      string
	now       func() time.Time
	onFailure func(error)
	failures  atomic.Uint64

	stateMu sync.RWMutex
	closed  bool
	queue   chan entry
	stop    chan struct{}
	done    chan struct{}

	// owned by the writer goroutine
	activeDate string
	files      map[string]*os.File
}

// New creates the root directory and today's shard and starts the writer.
// An error here is a fatal startup condition for the service.
func New(root string, opts Options) (*Sink, error) {
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create log root %s: %w", root, err)
	}
	s := &Sink{
		root:      root,
		now:       opts.Now,
		onFailure: opts.OnFailure,
		queue:     make(chan entry, opts.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		files:     make(map[string]*os.File),
	}
	if _, err := s.ResolveShard(s.now()); err != nil {
		return nil, err
	}
	go s.writeLoop()
	return s, nil
}

// Root returns the log root directory.
func (s *Sink) Root() string { return s.root }

// ShardName returns the shard identifier owning t.
func ShardName(t time.Time) string { return t.UTC().Format(DateLayout) }

// ResolveShard returns the directory for the shard owning now, creating it if absent.
func (s *Sink) ResolveShard(now time.Time) (string, error) {
	dir := filepath.Join(s.root, ShardName(now))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create shard %s: %w", dir, err)
	}
	return dir, nil
}

// Append queues line for the kind's file in the shard owning at. It never blocks.
func (s *Sink) Append(at time.Time, kind Kind, line string) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		s.fail(ErrClosed, kind)
		return
	}
	select {
	case s.queue <- entry{at: at, kind: kind, line: line}:
	default:
		s.fail(ErrQueueFull, kind)
	}
}

// Flush waits until every line queued before the call has been written or
// ctx is done.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.stateMu.RLock()
	if s.closed {
		s.stateMu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- entry{done: done}:
	case <-ctx.Done():
		s.stateMu.RUnlock()
		return ctx.Err()
	}
	s.stateMu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns how many appends have failed since start.
func (s *Sink) Failures() uint64 { return s.failures.Load() }

// Close stops accepting appends, writes what is already queued and closes files.
func (s *Sink) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()
	close(s.stop)
	<-s.done
	return s.closeFiles()
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	for {
		select {
		case e := <-s.queue:
			s.handle(e)
		case <-s.stop:
			for {
				select {
				case e := <-s.queue:
					s.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) handle(e entry) {
	if e.done != nil {
		close(e.done)
		return
	}
	if err := s.write(e); err != nil {
		s.fail(err, e.kind)
	}
}

func (s *Sink) write(e entry) error {
	name, err := e.kind.File()
	if err != nil {
		return err
	}
	date := ShardName(e.at)
	if date != s.activeDate {
		// day rolled over (or first write): old handles are no longer needed
		if err := s.closeFiles(); err != nil {
			slog.Warn("failed to close previous shard files", slog.String("shard", s.activeDate), slog.Any("err", err))
		}
		s.activeDate = date
	}
	path := filepath.Join(s.root, date, name)
	f, ok := s.files[path]
	if !ok {
		if _, err := s.ResolveShard(e.at); err != nil {
			return err
		}
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path built from validated date and fixed names
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		s.files[path] = f
	}
	if _, err := f.WriteString(e.line + "\n"); err != nil {
		// drop the handle so the next write reopens it
		_ = f.Close()
		delete(s.files, path)
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

func (s *Sink) closeFiles() error {
	var errs []error
	for path, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, path)
	}
	return errors.Join(errs...)
}

func (s *Sink) fail(err error, kind Kind) {
	s.failures.Add(1)
	slog.Error("log append failed", slog.String("kind", string(kind)), slog.Any("err", err), slog.String("component", "logsink"))
	if s.onFailure != nil {
		s.onFailure(err)
	}
}
