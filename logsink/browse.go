package logsink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("logsink: empty search query")

// SearchResult holds the matching lines of one log file.
type SearchResult struct {
	Date    string   `json:"date"`
	File    string   `json:"file"`
	Matches []string `json:"matches"`
}

// validName reports whether name is a plain basename safe to join under the
// root. Values are rejected, not cleaned: "../x" is invalid rather than "x".
func validName(name string) bool {
	if name == "" || name == "." || strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}

// OpenReadOnly returns a Sink over an existing root for browsing only. No
// writer is started; appends are rejected with ErrClosed.
func OpenReadOnly(root string) (*Sink, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open log root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open log root: %s is not a directory", root)
	}
	return &Sink{root: root, now: time.Now, closed: true}, nil
}

// ListShards returns every shard identifier, newest first. Directories whose
// name is not a YYYY-MM-DD date are ignored.
func (s *Sink) ListShards() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read log root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(DateLayout, e.Name()); err != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ListFiles returns the .txt files of a shard in name order.
func (s *Sink) ListFiles(shard string) ([]string, error) {
	if !validName(shard) {
		return nil, ErrInvalidName
	}
	entries, err := os.ReadDir(filepath.Join(s.root, shard))
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", shard, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".txt") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Open returns a read handle on a shard file. Invalid names yield
// ErrInvalidName; directories and missing files yield an fs.ErrNotExist error.
func (s *Sink) Open(shard, file string) (*os.File, error) {
	if !validName(shard) || !validName(file) {
		return nil, ErrInvalidName
	}
	path := filepath.Join(s.root, shard, file)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return os.Open(path) //nolint:gosec // both components validated above
}

// Search scans every shard (newest first) and returns the lines containing
// query, compared case-insensitively. The query is matched literally: all
// regular-expression metacharacters are escaped. Files without a match are
// omitted, as are shards and files that vanish or cannot be read mid-scan.
func (s *Sink) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	shards, err := s.ListShards()
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0)
	for _, shard := range shards {
		files, err := s.ListFiles(shard)
		if err != nil {
			slog.Warn("search skipped shard", slog.String("shard", shard), slog.Any("err", err), slog.String("component", "logsink"))
			continue
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			matches, err := s.grep(shard, file, re)
			if err != nil {
				slog.Warn("search skipped file", slog.String("shard", shard), slog.String("file", file), slog.Any("err", err), slog.String("component", "logsink"))
				continue
			}
			if len(matches) > 0 {
				results = append(results, SearchResult{Date: shard, File: file, Matches: matches})
			}
		}
	}
	return results, nil
}

func (s *Sink) grep(shard, file string, re *regexp.Regexp) ([]string, error) {
	f, err := s.Open(shard, file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := sc.Text(); re.MatchString(line) {
			matches = append(matches, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s/%s: %w", shard, file, err)
	}
	return matches, nil
}
