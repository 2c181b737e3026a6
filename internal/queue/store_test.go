package queue

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks", "queue.md"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func sampleTask(key, body string) Task {
	return Task{
		Key:        key,
		Origin:     "oc_chat",
		Body:       body,
		ReceivedAt: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestOpenCreatesHeader(t *testing.T) {
	s := openTestStore(t)
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != protocol.QueueHeader {
		t.Fatalf("new queue file = %q, want header only", data)
	}

	// Reopening must not rewrite an existing file.
	if _, err := s.AppendIfAbsent(context.Background(), sampleTask("om_1", "hello")); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	before, _ := os.ReadFile(s.Path())
	if _, err := Open(s.Path()); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	after, _ := os.ReadFile(s.Path())
	if !bytes.Equal(before, after) {
		t.Fatalf("reopen changed file contents")
	}
}

func TestAppendIfAbsentIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.AppendIfAbsent(ctx, sampleTask("om_1", "hello"))
	if err != nil || res != Appended {
		t.Fatalf("first append = %v, %v; want appended", res, err)
	}
	res, err = s.AppendIfAbsent(ctx, sampleTask("om_1", "hello again"))
	if err != nil || res != Duplicate {
		t.Fatalf("second append = %v, %v; want duplicate", res, err)
	}

	data, _ := os.ReadFile(s.Path())
	if n := strings.Count(string(data), protocol.QueueKeyLabel+"om_1\n"); n != 1 {
		t.Fatalf("found %d blocks for om_1, want 1", n)
	}
	got, ok, err := s.Get("om_1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Body != "hello" {
		t.Fatalf("body = %q, want first body kept", got.Body)
	}
}

func TestAppendRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"plain", "hello"},
		{"multiline", "line one\n\nline three"},
		{"separator in body", "before\n---\nafter"},
		{"separator prefix", "--- not a separator"},
		{"marker in body", "text\n" + protocol.QueueResolvedMarker},
		{"escape char", `\leading backslash`},
		{"header lookalike", "message_id: om_fake\nchat_id: oc_fake"},
		{"empty", ""},
		{"unicode", "你好，世界"},
	}

	s := openTestStore(t)
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "om_rt_" + string(rune('a'+i))
			in := sampleTask(key, tt.body)
			if _, err := s.AppendIfAbsent(context.Background(), in); err != nil {
				t.Fatalf("AppendIfAbsent() error = %v", err)
			}
			got, ok, err := s.Get(key)
			if err != nil || !ok {
				t.Fatalf("Get(%q) = %v, %v", key, ok, err)
			}
			if got.Key != in.Key || got.Origin != in.Origin || got.Body != in.Body {
				t.Fatalf("round trip = %+v, want %+v", got, in)
			}
			if !got.ReceivedAt.Equal(in.ReceivedAt) {
				t.Fatalf("received_at = %v, want %v", got.ReceivedAt, in.ReceivedAt)
			}
			if got.Resolved {
				t.Fatalf("new task is resolved")
			}
		})
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != len(tests) {
		t.Fatalf("List() returned %d tasks, want %d", len(all), len(tests))
	}
}

func TestMarkResolved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"om_1", "om_2", "om_3"} {
		if _, err := s.AppendIfAbsent(ctx, sampleTask(k, "body of "+k)); err != nil {
			t.Fatalf("AppendIfAbsent(%s) error = %v", k, err)
		}
	}
	before, _ := os.ReadFile(s.Path())

	res, err := s.MarkResolved(ctx, "om_2")
	if err != nil || res != Marked {
		t.Fatalf("MarkResolved() = %v, %v; want marked", res, err)
	}
	after, _ := os.ReadFile(s.Path())

	// Only the marker line was inserted.
	want := protocol.QueueResolvedMarker + "\n"
	if len(after) != len(before)+len(want) {
		t.Fatalf("file grew by %d bytes, want %d", len(after)-len(before), len(want))
	}
	idx := bytes.Index(after, []byte(want))
	if idx < 0 {
		t.Fatalf("marker not found")
	}
	if !bytes.Equal(append(append([]byte{}, after[:idx]...), after[idx+len(want):]...), before) {
		t.Fatalf("bytes outside the marker changed")
	}

	for key, wantResolved := range map[string]bool{"om_1": false, "om_2": true, "om_3": false} {
		got, err := s.IsResolved(key)
		if err != nil {
			t.Fatalf("IsResolved(%s) error = %v", key, err)
		}
		if got != wantResolved {
			t.Errorf("IsResolved(%s) = %v, want %v", key, got, wantResolved)
		}
	}

	res, err = s.MarkResolved(ctx, "om_2")
	if err != nil || res != AlreadyMarked {
		t.Fatalf("second MarkResolved() = %v, %v; want already_marked", res, err)
	}
	again, _ := os.ReadFile(s.Path())
	if !bytes.Equal(again, after) {
		t.Fatalf("second mark changed the file")
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 || pending[0].Key != "om_1" || pending[1].Key != "om_3" {
		t.Fatalf("Pending() = %+v", pending)
	}
}

func TestMarkResolvedNotFoundLeavesFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AppendIfAbsent(ctx, sampleTask("om_1", "hello")); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	before, _ := os.ReadFile(s.Path())
	res, err := s.MarkResolved(ctx, "om_missing")
	if err != nil || res != NotFound {
		t.Fatalf("MarkResolved() = %v, %v; want not_found", res, err)
	}
	after, _ := os.ReadFile(s.Path())
	if !bytes.Equal(before, after) {
		t.Fatalf("file changed on not_found")
	}
}

func TestMarkResolvedUnterminatedBlock(t *testing.T) {
	s := openTestStore(t)
	raw := protocol.QueueHeader + "---\nmessage_id: om_x\nchat_id: oc_x\n**received 2026-10-15T09:30:00Z**\nhand written"
	if err := os.WriteFile(s.Path(), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if res, err := s.MarkResolved(context.Background(), "om_x"); err != nil || res != Marked {
		t.Fatalf("MarkResolved() = %v, %v", res, err)
	}
	got, ok, err := s.Get("om_x")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if !got.Resolved || got.Body != "hand written" {
		t.Fatalf("task = %+v", got)
	}

	// An append after a hand-edited file must still start on its own line.
	if _, err := s.AppendIfAbsent(context.Background(), sampleTask("om_y", "next")); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	all, _ := s.List()
	if len(all) != 2 || all[1].Key != "om_y" {
		t.Fatalf("List() = %+v", all)
	}
}

func TestAppendRejectsInvalidTask(t *testing.T) {
	s := openTestStore(t)
	tests := []Task{
		{Origin: "oc_1", Body: "x"},
		{Key: "om_1", Origin: "oc\n1"},
		{Key: "om\n1", Origin: "oc_1"},
		{Key: "om_1 ", Origin: "oc_1"},
		{Key: " om_1", Origin: "oc_1"},
		{Key: "om_1", Origin: "oc_1\t"},
	}
	for _, tt := range tests {
		if _, err := s.AppendIfAbsent(context.Background(), tt); !errors.Is(err, ErrInvalidTask) {
			t.Errorf("AppendIfAbsent(%+v) error = %v, want ErrInvalidTask", tt, err)
		}
	}
	data, _ := os.ReadFile(s.Path())
	if string(data) != protocol.QueueHeader {
		t.Fatalf("rejected tasks were written: %q", data)
	}
}

func TestAppendTrimsTrailingBlankLines(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AppendIfAbsent(ctx, sampleTask("om_1", "a\n\n  \n")); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	got, ok, err := s.Get("om_1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Body != "a" {
		t.Fatalf("body = %q, want %q", got.Body, "a")
	}
	data, _ := os.ReadFile(s.Path())
	if strings.Contains(string(data), "\n  \n") {
		t.Fatalf("trailing whitespace lines written: %q", data)
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	s := openTestStore(t)
	// A second Store on the same file exercises the file lock, not just the mutex.
	other, err := Open(s.Path())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		appended int
	)
	for i := 0; i < 16; i++ {
		st := s
		if i%2 == 1 {
			st = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.AppendIfAbsent(context.Background(), sampleTask("om_race", "hello"))
			if err != nil {
				t.Errorf("AppendIfAbsent() error = %v", err)
				return
			}
			if res == Appended {
				mu.Lock()
				appended++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if appended != 1 {
		t.Fatalf("appended %d times, want 1", appended)
	}
	all, _ := s.List()
	if len(all) != 1 {
		t.Fatalf("List() has %d tasks, want 1", len(all))
	}
}

func TestWatchReportsPending(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan []Task, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(tasks []Task) { seen <- tasks })
	}()

	if first := <-seen; len(first) != 0 {
		t.Fatalf("initial pending = %d, want 0", len(first))
	}
	if _, err := s.AppendIfAbsent(ctx, sampleTask("om_w", "watch me")); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	for {
		select {
		case tasks := <-seen:
			if len(tasks) == 1 && tasks[0].Key == "om_w" {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch() error = %v", err)
				}
				return
			}
		case <-ctx.Done():
			t.Fatalf("watch did not report the appended task")
		}
	}
}
