package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
	"github.com/nextlevelbuilder/larkbridge/internal/reply"
)

func TestReplyContent(t *testing.T) {
	tests := []struct {
		name     string
		rest     []string
		useStdin bool
		want     string
		wantErr  error
	}{
		{"inline", []string{" done "}, false, "done", nil},
		{"dash reads stdin", []string{"-"}, false, "from stdin", nil},
		{"stdin flag", nil, true, "from stdin", nil},
		{"dash with stdin flag", []string{"-"}, true, "from stdin", nil},
		{"inline with stdin flag", []string{"done"}, true, "", reply.ErrUsage},
		{"nothing", nil, false, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := replyContent(tt.rest, "", strings.NewReader(" from stdin\n"), tt.useStdin)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("replyContent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("replyContent() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

// useTempQueue points loadConfig at an absent config file, a queue in a temp
// dir and no credentials.
func useTempQueue(t *testing.T) *queue.Store {
	t.Helper()
	dir := t.TempDir()
	prevFile, prevOverrides := cfgFile, overrides
	t.Cleanup(func() { cfgFile, overrides = prevFile, prevOverrides })
	cfgFile = filepath.Join(dir, "config.json")
	overrides = config.Overrides{QueueFile: filepath.Join(dir, "queue.md")}
	t.Setenv("LARKBRIDGE_APP_ID", "")
	t.Setenv("LARKBRIDGE_APP_SECRET", "")

	store, err := queue.Open(overrides.QueueFile)
	if err != nil {
		t.Fatalf("queue.Open() error = %v", err)
	}
	return store
}

func TestRunReplyResolvedTaskNeedsNoCredentials(t *testing.T) {
	store := useTempQueue(t)
	ctx := context.Background()
	task := queue.Task{Key: "om_1", Origin: "oc_1", Body: "hi", ReceivedAt: time.Now()}
	if _, err := store.AppendIfAbsent(ctx, task); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}
	if _, err := store.MarkResolved(ctx, "om_1"); err != nil {
		t.Fatalf("MarkResolved() error = %v", err)
	}

	if err := runReply(ctx, "om_1", "done"); err != nil {
		t.Fatalf("runReply() on resolved task = %v, want nil", err)
	}
}

func TestRunReplyPendingTaskNeedsCredentials(t *testing.T) {
	store := useTempQueue(t)
	ctx := context.Background()
	task := queue.Task{Key: "om_1", Origin: "oc_1", Body: "hi", ReceivedAt: time.Now()}
	if _, err := store.AppendIfAbsent(ctx, task); err != nil {
		t.Fatalf("AppendIfAbsent() error = %v", err)
	}

	if err := runReply(ctx, "om_1", "done"); !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("runReply() error = %v, want ErrMissingCredentials", err)
	}
	if ok, _ := store.IsResolved("om_1"); ok {
		t.Fatal("task resolved without a reply")
	}
}
