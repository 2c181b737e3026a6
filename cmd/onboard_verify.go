package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

// credentialVerifyError holds the result of a credential probe.
type credentialVerifyError struct {
	fatal   bool   // true = bad credentials, do not save
	message string // human-readable description
}

func (e *credentialVerifyError) Error() string { return e.message }

// verifyCredentials fetches a tenant token and the bot identity with the
// configured app. Network failures are reported but not fatal; rejected
// credentials are.
func verifyCredentials(ctx context.Context, lc config.LarkConfig) (*feishu.BotInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := feishu.NewLarkClient(lc.AppID, lc.AppSecret, feishu.ResolveDomain(lc.Domain))
	if _, err := client.Token(ctx); err != nil {
		var apiErr *feishu.APIError
		if errors.As(err, &apiErr) {
			return nil, &credentialVerifyError{fatal: true, message: fmt.Sprintf("credentials rejected: %v", err)}
		}
		return nil, &credentialVerifyError{message: fmt.Sprintf("could not reach %s: %v", client.BaseURL(), err)}
	}

	info, err := client.GetBotInfo(ctx)
	if err != nil {
		return nil, &credentialVerifyError{message: fmt.Sprintf("token ok, bot info failed (is the bot capability enabled?): %v", err)}
	}
	return info, nil
}
