package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
	"github.com/nextlevelbuilder/larkbridge/internal/reply"
)

func replyCmd() *cobra.Command {
	var (
		file     string
		useStdin bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reply <message_id> [text]",
		Short: "Reply to a queued message and mark it resolved",
		Long: "Reply to the Lark message identified by message_id with text given inline, with --file, or on stdin " +
			"(--stdin or a text of \"-\"), then mark its task resolved. Replying to an already resolved task is a successful no-op.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := replyContent(args[1:], file, os.Stdin, useStdin)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runReply(ctx, args[0], text)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the reply text from a file")
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "read the reply text from stdin")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the reply")
	return cmd
}

// replyContent resolves the reply text from the optional positional text,
// --file or stdin. A positional "-" reads stdin.
func replyContent(rest []string, file string, stdin io.Reader, useStdin bool) (string, error) {
	inline := ""
	if len(rest) > 0 {
		inline = rest[0]
	}
	if inline == "-" {
		inline, useStdin = "", true
	}
	return reply.ReadContent(inline, file, stdin, useStdin)
}

func runReply(ctx context.Context, key, text string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := queue.Open(cfg.QueuePath())
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	// A resolved task needs no credentials: the reply is a no-op.
	if resolved, err := store.IsResolved(key); err == nil && resolved {
		slog.Info("task already resolved, reply skipped", "message_id", key)
		fmt.Println(reply.OutcomeAlreadyResolved)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client := feishu.NewLarkClient(cfg.Lark.AppID, cfg.Lark.AppSecret, feishu.ResolveDomain(cfg.Lark.Domain))
	out, err := reply.NewDispatcher(store, client).Send(ctx, key, text)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
