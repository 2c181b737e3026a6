package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/ingest"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
	"github.com/nextlevelbuilder/larkbridge/internal/supervisor"
	"github.com/nextlevelbuilder/larkbridge/internal/tracing"
	"github.com/nextlevelbuilder/larkbridge/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Lark and queue inbound messages (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", resolveConfigPath(), err)
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	store, err := queue.Open(cfg.QueuePath())
	if err != nil {
		return fmt.Errorf("open queue %s: %w", cfg.QueuePath(), err)
	}
	slog.Info("queue ready", "path", store.Path())

	baseURL := feishu.ResolveDomain(cfg.Lark.Domain)
	client := feishu.NewLarkClient(cfg.Lark.AppID, cfg.Lark.AppSecret, baseURL)

	opts := []ingest.Option{}
	if cfg.Ingest.StripMention() {
		if openID := probeBot(ctx, client); openID != "" {
			opts = append(opts, ingest.WithBotOpenID(openID))
		}
	}
	if cfg.Ingest.AckText != "" {
		opts = append(opts, ingest.WithAck(client, cfg.Ingest.AckText))
	}
	if len(cfg.Worker.Command) > 0 {
		launcher := &worker.CommandLauncher{
			Argv:      cfg.Worker.Command,
			QueueFile: store.Path(),
			Dir:       config.ExpandHome(cfg.Worker.Dir),
		}
		cooldown := cfg.Worker.CooldownDuration(worker.DefaultCooldown)
		opts = append(opts, ingest.WithTrigger(worker.NewTrigger(launcher, worker.WithCooldown(cooldown))))
		slog.Info("worker trigger enabled", "command", cfg.Worker.Command[0], "cooldown", cooldown)
	}

	dispatcher := feishu.NewEventDispatcher()
	ingest.New(store, opts...).Register(dispatcher)

	dialer := feishu.NewWSDialer(cfg.Lark.AppID, cfg.Lark.AppSecret, baseURL, dispatcher)
	sup := supervisor.New(
		func(ctx context.Context) (supervisor.Session, error) {
			sess, err := dialer.Dial(ctx)
			if err != nil {
				return nil, err
			}
			slog.Debug("lark session opened", "session_id", sess.ID())
			return sess, nil
		},
		supervisor.WithBackoff(backoffFromConfig(cfg.Connection)),
		supervisor.OnStateChange(func(st supervisor.State) {
			slog.Debug("connection state", "state", st)
		}),
	)

	slog.Info("larkbridge starting", "version", Version, "domain", baseURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("larkbridge stopped")
	return nil
}

// probeBot learns the bot's open_id so its own @mention can be stripped.
// Failure only disables stripping.
func probeBot(ctx context.Context, client *feishu.LarkClient) string {
	pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	info, err := client.GetBotInfo(pctx)
	if err != nil {
		slog.Warn("bot info probe failed, mentions will not be stripped", "error", err)
		return ""
	}
	slog.Info("bot identity", "name", info.AppName, "open_id", info.OpenID)
	return info.OpenID
}

func backoffFromConfig(cc config.ConnectionConfig) supervisor.Backoff {
	if cc.Backoff == "exponential" {
		return supervisor.Exponential{Base: cc.DelayDuration(), Max: cc.MaxDelayDuration()}
	}
	return supervisor.Fixed{Delay: cc.DelayDuration()}
}
