package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

type fakeLauncher struct {
	keys []string
	err  error
}

func (f *fakeLauncher) Launch(_ context.Context, task queue.Task) error {
	f.keys = append(f.keys, task.Key)
	return f.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTriggerCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := &fakeLauncher{}
	tr := NewTrigger(l, WithClock(clock.now))
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		key     string
		launch  bool
	}{
		{0, "om_1", true},
		{5 * time.Second, "om_2", false},
		{9 * time.Second, "om_3", false},
		{2 * time.Second, "om_4", true},
		{20 * time.Second, "om_5", true},
	}
	want := 0
	for _, s := range steps {
		clock.advance(s.advance)
		tr.Fire(ctx, queue.Task{Key: s.key})
		if s.launch {
			want++
		}
		if len(l.keys) != want {
			t.Fatalf("after %s: launches = %v, want %d", s.key, l.keys, want)
		}
	}
	if !tr.LastLaunch().Equal(clock.t) {
		t.Errorf("LastLaunch() = %v, want %v", tr.LastLaunch(), clock.t)
	}
}

func TestTriggerCustomCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := &fakeLauncher{}
	tr := NewTrigger(l, WithClock(clock.now), WithCooldown(time.Minute))

	tr.Fire(context.Background(), queue.Task{Key: "om_1"})
	clock.advance(30 * time.Second)
	tr.Fire(context.Background(), queue.Task{Key: "om_2"})
	clock.advance(31 * time.Second)
	tr.Fire(context.Background(), queue.Task{Key: "om_3"})

	if strings.Join(l.keys, ",") != "om_1,om_3" {
		t.Fatalf("launches = %v", l.keys)
	}
}

func TestTriggerLaunchErrorSwallowed(t *testing.T) {
	tr := NewTrigger(&fakeLauncher{err: errors.New("no such file")})
	tr.Fire(context.Background(), queue.Task{Key: "om_1"})
	if tr.LastLaunch().IsZero() {
		t.Fatal("failed launch did not start the cooldown")
	}
}

func TestNilTriggerIsDisabled(t *testing.T) {
	var tr *Trigger
	tr.Fire(context.Background(), queue.Task{Key: "om_1"})
	if !tr.LastLaunch().IsZero() {
		t.Fatal("nil trigger reported a launch")
	}
}

func TestCommandLauncherPassesEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")
	l := &CommandLauncher{
		Argv:      []string{"sh", "-c", `printf '%s %s' "$LARKBRIDGE_QUEUE_FILE" "$LARKBRIDGE_TASK_KEY" > env.txt`},
		QueueFile: "/tmp/queue.md",
		Dir:       dir,
	}
	if err := l.Launch(context.Background(), queue.Task{Key: "om_9"}); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(out)
		if err == nil && len(data) > 0 {
			if string(data) != "/tmp/queue.md om_9" {
				t.Fatalf("worker env = %q", data)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worker did not run")
}

func TestCommandLauncherEmpty(t *testing.T) {
	if err := (&CommandLauncher{}).Launch(context.Background(), queue.Task{Key: "om_1"}); err == nil {
		t.Fatal("Launch() error = nil for empty command")
	}
}
