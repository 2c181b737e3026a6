package reply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

type fakeSender struct {
	calls []string
	uuids []string
	err   error
}

func (f *fakeSender) ReplyText(_ context.Context, messageID, text, uuid string) (*feishu.SendMessageResp, error) {
	f.calls = append(f.calls, messageID+":"+text)
	f.uuids = append(f.uuids, uuid)
	if f.err != nil {
		return nil, f.err
	}
	return &feishu.SendMessageResp{MessageID: "om_reply"}, nil
}

func storeWith(t *testing.T, keys ...string) *queue.Store {
	t.Helper()
	s, err := queue.Open(filepath.Join(t.TempDir(), "queue.md"))
	if err != nil {
		t.Fatalf("queue.Open() error = %v", err)
	}
	for _, k := range keys {
		task := queue.Task{Key: k, Origin: "oc_chat", Body: "question", ReceivedAt: time.Now()}
		if _, err := s.AppendIfAbsent(context.Background(), task); err != nil {
			t.Fatalf("AppendIfAbsent() error = %v", err)
		}
	}
	return s
}

func TestSendRepliesAndResolves(t *testing.T) {
	store := storeWith(t, "om_1")
	sender := &fakeSender{}
	d := NewDispatcher(store, sender)

	out, err := d.Send(context.Background(), "om_1", "done")
	if err != nil || out != OutcomeSent {
		t.Fatalf("Send() = %v, %v; want sent", out, err)
	}
	if len(sender.calls) != 1 || sender.calls[0] != "om_1:done" {
		t.Fatalf("reply calls = %v", sender.calls)
	}
	if sender.uuids[0] != ReplyUUID("om_1") {
		t.Errorf("uuid = %q, want deterministic %q", sender.uuids[0], ReplyUUID("om_1"))
	}
	if ok, _ := store.IsResolved("om_1"); !ok {
		t.Fatal("task not resolved after send")
	}

	// Sending again short-circuits without touching the network.
	out, err = d.Send(context.Background(), "om_1", "done")
	if err != nil || out != OutcomeAlreadyResolved {
		t.Fatalf("second Send() = %v, %v; want already_resolved", out, err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("reply endpoint called %d times, want 1", len(sender.calls))
	}
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		senderErr error
		want      Reason
	}{
		{"empty content", "   ", nil, ReasonEmptyContent},
		{"auth", "done", fmt.Errorf("%w: invalid app secret", feishu.ErrAuth), ReasonAuth},
		{"send", "done", &feishu.APIError{Op: "reply message", Code: 230002, Msg: "bot not in chat"}, ReasonSend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storeWith(t, "om_1")
			sender := &fakeSender{err: tt.senderErr}
			_, err := NewDispatcher(store, sender).Send(context.Background(), "om_1", tt.text)

			var f *Failure
			if !errors.As(err, &f) || f.Reason != tt.want {
				t.Fatalf("Send() error = %v, want reason %s", err, tt.want)
			}
			if tt.want == ReasonEmptyContent && len(sender.calls) != 0 {
				t.Fatal("empty content reached the sender")
			}
			if ok, _ := store.IsResolved("om_1"); ok {
				t.Fatal("failed send resolved the task")
			}
		})
	}
}

func TestSendEmptyKey(t *testing.T) {
	sender := &fakeSender{}
	_, err := NewDispatcher(storeWith(t, "om_1"), sender).Send(context.Background(), "  ", "done")
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonEmptyKey {
		t.Fatalf("Send() error = %v, want reason %s", err, ReasonEmptyKey)
	}
	if len(sender.calls) != 0 {
		t.Fatal("empty key reached the sender")
	}
}

func TestSendUnknownKeyStillSucceeds(t *testing.T) {
	store := storeWith(t)
	sender := &fakeSender{}
	out, err := NewDispatcher(store, sender).Send(context.Background(), "om_elsewhere", "hi")
	if err != nil || out != OutcomeSent {
		t.Fatalf("Send() = %v, %v; want sent", out, err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("reply calls = %d, want 1", len(sender.calls))
	}
}

type brokenStore struct{}

func (brokenStore) IsResolved(string) (bool, error) { return false, errors.New("permission denied") }
func (brokenStore) MarkResolved(context.Context, string) (queue.MarkResult, error) {
	return queue.NotFound, nil
}

func TestSendStoreErrorIsIO(t *testing.T) {
	sender := &fakeSender{}
	_, err := NewDispatcher(brokenStore{}, sender).Send(context.Background(), "om_1", "hi")
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonIO {
		t.Fatalf("Send() error = %v, want io failure", err)
	}
	if len(sender.calls) != 0 {
		t.Fatal("sender called after store failure")
	}
}

func TestReplyUUIDStable(t *testing.T) {
	if ReplyUUID("om_1") != ReplyUUID("om_1") {
		t.Fatal("ReplyUUID not deterministic")
	}
	if ReplyUUID("om_1") == ReplyUUID("om_2") {
		t.Fatal("ReplyUUID collides for different keys")
	}
}

func TestReadContent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "reply.txt")
	if err := os.WriteFile(file, []byte("  from file \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		arg      string
		file     string
		stdin    string
		useStdin bool
		want     string
		wantErr  bool
	}{
		{name: "inline", arg: " hi ", want: "hi"},
		{name: "file", file: file, want: "from file"},
		{name: "stdin", stdin: "piped\n", useStdin: true, want: "piped"},
		{name: "none", want: ""},
		{name: "two sources", arg: "hi", useStdin: true, wantErr: true},
		{name: "missing file", file: file + ".nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadContent(tt.arg, tt.file, strings.NewReader(tt.stdin), tt.useStdin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
