// Package worker launches the external worker process when new tasks arrive.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/larkbridge/internal/queue"
	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

// DefaultCooldown is the minimum gap between two worker launches.
const DefaultCooldown = 15 * time.Second

// Launcher starts one worker run for task.
type Launcher interface {
	Launch(ctx context.Context, task queue.Task) error
}

// Trigger rate-limits worker launches. A nil *Trigger is a disabled trigger.
type Trigger struct {
	launcher Launcher
	cooldown time.Duration
	now      func() time.Time

	mu         sync.Mutex
	limiter    *rate.Limiter
	lastLaunch time.Time
}

type Option func(*Trigger)

func WithCooldown(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

func NewTrigger(l Launcher, opts ...Option) *Trigger {
	t := &Trigger{launcher: l, cooldown: DefaultCooldown, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.limiter = rate.NewLimiter(rate.Every(t.cooldown), 1)
	return t
}

// Fire launches the worker unless one was launched within the cooldown.
// Launch errors are logged only.
func (t *Trigger) Fire(ctx context.Context, task queue.Task) {
	if t == nil || t.launcher == nil {
		return
	}

	t.mu.Lock()
	now := t.now()
	if !t.limiter.AllowN(now, 1) {
		remaining := t.cooldown - now.Sub(t.lastLaunch)
		t.mu.Unlock()
		slog.Info("worker launch skipped, cooldown active",
			"message_id", task.Key, "remaining", remaining.Round(time.Second))
		return
	}
	t.lastLaunch = now
	t.mu.Unlock()

	if err := t.launcher.Launch(ctx, task); err != nil {
		slog.Error("worker launch failed", "message_id", task.Key, "error", err)
		return
	}
	slog.Info("worker launched", "message_id", task.Key)
}

// LastLaunch reports when the worker was last started.
func (t *Trigger) LastLaunch() time.Time {
	if t == nil {
		return time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLaunch
}

// CommandLauncher runs an external command detached from the bridge, with
// the queue path and task key in its environment.
type CommandLauncher struct {
	Argv      []string
	QueueFile string
	Dir       string
}

func (c *CommandLauncher) Launch(_ context.Context, task queue.Task) error {
	if len(c.Argv) == 0 {
		return errors.New("worker: empty command")
	}
	// Not CommandContext: the worker outlives the event that started it.
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(),
		protocol.EnvQueueFile+"="+c.QueueFile,
		protocol.EnvTaskKey+"="+task.Key,
	)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Argv[0], err)
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		slog.Debug("worker exited", "pid", pid, "error", err)
	}()
	return nil
}
