package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

const bodyColumnWidth = 60

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task queue",
	}
	cmd.AddCommand(tasksListCmd("list", "List all tasks", false))
	cmd.AddCommand(tasksListCmd("pending", "List unresolved tasks", true))
	cmd.AddCommand(tasksShowCmd())
	cmd.AddCommand(tasksWatchCmd())
	return cmd
}

func openQueue() (*queue.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg.QueuePath())
}

func tasksListCmd(use, short string, pendingOnly bool) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue()
			if err != nil {
				return err
			}
			var tasks []queue.Task
			if pendingOnly {
				tasks, err = store.Pending()
			} else {
				tasks, err = store.List()
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeTasksJSON(os.Stdout, tasks)
			}
			writeTaskTable(os.Stdout, tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func tasksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <message_id>",
		Short: "Print one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue()
			if err != nil {
				return err
			}
			t, ok, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s not found in %s", args[0], store.Path())
			}
			fmt.Printf("message_id: %s\n", t.Key)
			fmt.Printf("chat_id:    %s\n", t.Origin)
			fmt.Printf("received:   %s\n", t.ReceivedAt.Format(time.RFC3339))
			fmt.Printf("status:     %s\n", taskStatus(t))
			fmt.Println()
			fmt.Println(t.Body)
			return nil
		},
	}
}

func tasksWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print pending tasks whenever the queue file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue()
			if err != nil {
				return err
			}
			return store.Watch(cmd.Context(), func(tasks []queue.Task) {
				fmt.Printf("-- %s: %d pending\n", time.Now().Format(time.TimeOnly), len(tasks))
				writeTaskTable(os.Stdout, tasks)
			})
		},
	}
}

func taskStatus(t queue.Task) string {
	if t.Resolved {
		return "resolved"
	}
	return "pending"
}

// writeTaskTable prints one line per task with the first body line cut to a
// fixed display width, so CJK text keeps the columns aligned.
func writeTaskTable(w io.Writer, tasks []queue.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "(no tasks)")
		return
	}
	fmt.Fprintf(w, "%-36s %-9s %-20s %s\n", "MESSAGE_ID", "STATUS", "RECEIVED", "BODY")
	for _, t := range tasks {
		body, _, _ := strings.Cut(t.Body, "\n")
		body = runewidth.Truncate(body, bodyColumnWidth, "…")
		fmt.Fprintf(w, "%-36s %-9s %-20s %s\n",
			t.Key, taskStatus(t), t.ReceivedAt.Local().Format("2006-01-02 15:04:05"), body)
	}
}

type taskJSON struct {
	MessageID  string    `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	ReceivedAt time.Time `json:"received_at"`
	Resolved   bool      `json:"resolved"`
	Body       string    `json:"body"`
}

func writeTasksJSON(w io.Writer, tasks []queue.Task) error {
	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskJSON{
			MessageID:  t.Key,
			ChatID:     t.Origin,
			ReceivedAt: t.ReceivedAt,
			Resolved:   t.Resolved,
			Body:       t.Body,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
