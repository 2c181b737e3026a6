package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, queue file and Lark credentials",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) {
	fmt.Println("larkbridge doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults and env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Hash:     %s\n", cfg.Hash())

	// Queue
	fmt.Println()
	fmt.Println("  Queue:")
	store, err := queue.Open(cfg.QueuePath())
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "File:", err)
	} else {
		fmt.Printf("    %-12s %s\n", "File:", store.Path())
		all, err := store.List()
		if err != nil {
			fmt.Printf("    %-12s READ FAILED (%s)\n", "Tasks:", err)
		} else {
			pending := 0
			for _, t := range all {
				if !t.Resolved {
					pending++
				}
			}
			fmt.Printf("    %-12s %d (%d pending)\n", "Tasks:", len(all), pending)
		}
	}

	// Worker
	fmt.Println()
	fmt.Println("  Worker:")
	if len(cfg.Worker.Command) == 0 {
		fmt.Printf("    %-12s disabled\n", "Command:")
	} else if path, err := exec.LookPath(cfg.Worker.Command[0]); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", "Command:", cfg.Worker.Command[0])
	} else {
		fmt.Printf("    %-12s %s\n", "Command:", path)
	}

	// Lark
	fmt.Println()
	fmt.Println("  Lark:")
	fmt.Printf("    %-12s %s\n", "API:", feishu.ResolveDomain(cfg.Lark.Domain))
	if err := cfg.Validate(); err != nil {
		fmt.Printf("    %-12s %s\n", "Config:", err)
		return
	}
	masked := cfg.MaskedCopy()
	fmt.Printf("    %-12s %s (secret %s)\n", "App:", masked.Lark.AppID, masked.Lark.AppSecret)

	info, err := verifyCredentials(cmd.Context(), cfg.Lark)
	var verr *credentialVerifyError
	switch {
	case err == nil:
		fmt.Printf("    %-12s OK\n", "Token:")
		fmt.Printf("    %-12s %s (%s)\n", "Bot:", info.AppName, info.OpenID)
	case errors.As(err, &verr) && verr.fatal:
		fmt.Printf("    %-12s FAILED (%s)\n", "Token:", verr.message)
	default:
		fmt.Printf("    %-12s %s\n", "Check:", err)
	}
}
