package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

func onboardCmd() *cobra.Command {
	var skipVerify bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd, skipVerify)
		},
	}
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "save without checking the credentials against Lark")
	return cmd
}

func runOnboard(cmd *cobra.Command, skipVerify bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		domain     = cfg.Lark.Domain
		customURL  string
		workerLine = strings.Join(cfg.Worker.Command, " ")
	)
	switch strings.ToLower(strings.TrimSpace(domain)) {
	case "", "lark", "larksuite":
		domain = "lark"
	case "feishu":
		domain = "feishu"
	default:
		customURL, domain = domain, "custom"
	}

	notEmpty := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Platform").
				Options(
					huh.NewOption("Lark (open.larksuite.com)", "lark"),
					huh.NewOption("Feishu (open.feishu.cn)", "feishu"),
					huh.NewOption("Custom base URL", "custom"),
				).
				Value(&domain),
			huh.NewInput().
				Title("App ID").
				Placeholder("cli_xxxxxxxxxxxx").
				Value(&cfg.Lark.AppID).
				Validate(notEmpty("app id")),
			huh.NewInput().
				Title("App Secret").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Lark.AppSecret).
				Validate(notEmpty("app secret")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Custom base URL").
				Placeholder("https://open.example.com").
				Value(&customURL).
				Validate(notEmpty("base URL")),
		).WithHideFunc(func() bool { return domain != "custom" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Queue file").
				Value(&cfg.Queue.File).
				Validate(notEmpty("queue file")),
			huh.NewInput().
				Title("Worker command").
				Description("Started on new tasks; leave empty to run workers yourself.").
				Value(&workerLine),
			huh.NewInput().
				Title("Acknowledgment reply").
				Description("Sent when a message is queued; leave empty for none.").
				Value(&cfg.Ingest.AckText),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	cfg.Lark.Domain = domain
	if domain == "custom" {
		cfg.Lark.Domain = strings.TrimSpace(customURL)
	}
	cfg.Worker.Command = strings.Fields(workerLine)

	if !skipVerify {
		fmt.Println("Checking credentials...")
		info, err := verifyCredentials(cmd.Context(), cfg.Lark)
		if err != nil {
			var verr *credentialVerifyError
			if errors.As(err, &verr) && verr.fatal {
				fmt.Printf("  %s\n", verr.message)
				return err
			}
			fmt.Printf("  Warning: %s\n", err)
		} else {
			fmt.Printf("  OK: bot %q (%s)\n", info.AppName, info.OpenID)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Start the bridge with:  larkbridge serve")
	if _, err := os.Stat(cfg.QueuePath()); os.IsNotExist(err) {
		fmt.Printf("The queue file %s will be created on first start.\n", cfg.QueuePath())
	}
	return nil
}
