package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWatcherIngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()

	var ingested []string
	var mu sync.Mutex
	onFile := func(path string) {
		mu.Lock()
		ingested = append(ingested, path)
		mu.Unlock()
	}

	w := NewWatcher([]string{dir}, []string{".csv"}, onFile, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "users.csv")
	if err := os.WriteFile(path, []byte("name,email,age\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(ingested)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ingested) < 1 {
		t.Fatal("expected the dropped csv to be ingested")
	}
	for _, p := range ingested {
		if strings.HasSuffix(p, "notes.txt") {
			t.Error("non-matching extension should be ignored")
		}
	}
}

func TestWatcherDebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()

	var calls int
	var mu sync.Mutex
	onFile := func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	w := NewWatcher([]string{dir}, nil, onFile, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "slow.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("chunk"), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("writes in quick succession should coalesce to one ingest, got %d", calls)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/in/a.csv", []string{".csv", ".json"}, true},
		{"/in/a.CSV", []string{".csv"}, true},
		{"/in/a.txt", []string{".csv"}, false},
		{"/in/a", nil, true},
		{"/in/a", []string{}, true},
	}
	for _, tt := range tests {
		w := &Watcher{extensions: tt.extensions}
		if got := w.matchExtension(tt.path); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestSyncExistingFilesPicksUpBacklog(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "backlog.csv"), []byte("name,email,age\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var ingested []string
	var mu sync.Mutex
	onFile := func(path string) {
		mu.Lock()
		ingested = append(ingested, path)
		mu.Unlock()
	}
	w := NewWatcher([]string{dir}, []string{".csv"}, onFile)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	mu.Lock()
	defer mu.Unlock()
	if len(ingested) != 1 || !strings.HasSuffix(ingested[0], "backlog.csv") {
		t.Errorf("expected one backlog file, got %v", ingested)
	}
}

func TestStartCreatesMissingInbox(t *testing.T) {
	base := t.TempDir()
	inbox := filepath.Join(base, "inbox")

	w := NewWatcher([]string{inbox}, []string{".csv"}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(inbox); err != nil {
		t.Errorf("inbox should exist after Start: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 {
		t.Errorf("Directories() = %v", dirs)
	}
}
