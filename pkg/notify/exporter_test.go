package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
)

func testNotification(nodeID string) *Notification {
	return &Notification{
		Timestamp: time.Now(),
		Change:    graph.ChangeEvent{Type: graph.EventNodeUpdated, NodeID: nodeID, Timestamp: time.Now()},
		Keys:      map[string][]string{"c1": {"k1"}},
		KeyCount:  1,
	}
}

func TestFileObserverWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.jsonl")
	fo, err := NewFileObserver(path)
	if err != nil {
		t.Fatalf("failed to create file observer: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if err := fo.Notify(ctx, testNotification(id)); err != nil {
			t.Fatalf("notify failed: %v", err)
		}
	}
	if err := fo.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	var lines []Notification
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var n Notification
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		lines = append(lines, n)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Change.NodeID != "n1" || lines[1].Change.NodeID != "n2" {
		t.Errorf("expected notifications in write order, got %+v", lines)
	}
	if lines[0].KeyCount != 1 || lines[0].Keys["c1"][0] != "k1" {
		t.Errorf("expected keys round-trip, got %+v", lines[0])
	}
}

func TestFileObserverRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.jsonl")
	fo, err := NewFileObserver(path, WithMaxSize(64), WithMaxRotatedFiles(2))
	if err != nil {
		t.Fatalf("failed to create file observer: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := fo.Notify(ctx, testNotification("n1")); err != nil {
			t.Fatalf("notify failed: %v", err)
		}
	}
	if err := fo.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	rotated, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(rotated) == 0 {
		t.Error("expected rotated files")
	}
	if len(rotated) > 2 {
		t.Errorf("expected at most 2 rotated files, got %d: %v", len(rotated), rotated)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected current file to exist: %v", err)
	}
}

func TestNoopObserver(t *testing.T) {
	var obs Observer = NoopObserver{}
	if err := obs.Notify(context.Background(), testNotification("n1")); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := obs.Close(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestFuncObserver(t *testing.T) {
	var got *Notification
	obs := FuncObserver(func(n *Notification) { got = n })

	want := testNotification("n1")
	if err := obs.Notify(context.Background(), want); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got != want {
		t.Errorf("expected wrapped function to receive the notification")
	}
}
