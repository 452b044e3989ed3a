package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteLogTree lays out a log root under a fresh temp dir. tree maps shard
// directory names to file names to contents.
func WriteLogTree(t *testing.T, tree map[string]map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for shard, files := range tree {
		dir := filepath.Join(root, shard)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create shard %s: %v", shard, err)
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				t.Fatalf("failed to write %s/%s: %v", shard, name, err)
			}
		}
	}
	return root
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}
