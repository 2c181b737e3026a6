package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/larkbridge/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile   string
	verbose   bool
	overrides config.Overrides
)

var rootCmd = &cobra.Command{
	Use:   "larkbridge",
	Short: "larkbridge — Lark/Feishu messages to a file-backed task queue",
	Long: "larkbridge keeps a long connection to Lark/Feishu, records every inbound message as a pending task " +
		"in a markdown queue file, optionally starts a worker, and delivers the worker's reply back to the chat.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: config.json or $LARKBRIDGE_CONFIG)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&overrides.AppID, "app-id", "", "Lark app id (overrides config and env)")
	pf.StringVar(&overrides.AppSecret, "app-secret", "", "Lark app secret (overrides config and env)")
	pf.StringVar(&overrides.Domain, "domain", "", `API domain: "lark", "feishu" or a base URL`)
	pf.StringVar(&overrides.QueueFile, "queue", "", "queue file path (default tasks/queue.md)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(replyCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("larkbridge %s\n", Version)
		},
	}
}

// setupLogging sends structured logs to stderr so stdout stays clean for
// command output read by workers.
func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// loadConfig reads the config file, env overlay, then command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.Override(overrides)
	return cfg, nil
}

// Execute runs the root cobra command. SIGINT and SIGTERM cancel the
// command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("command failed", "command", commandName(), "error", err)
		os.Exit(1)
	}
}

// commandName is the subcommand named on the command line, or the root.
func commandName() string {
	if cmd, _, err := rootCmd.Find(os.Args[1:]); err == nil {
		return cmd.Name()
	}
	return rootCmd.Name()
}
