package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// --- IM API: Messages ---

type SendMessageResp struct {
	MessageID string `json:"message_id"`
}

// ReplyMessage replies to messageID. uuid, when set, lets the platform drop
// duplicate replies carrying the same value.
func (c *LarkClient) ReplyMessage(ctx context.Context, messageID, msgType, content, uuid string) (*SendMessageResp, error) {
	path := "/open-apis/im/v1/messages/" + url.PathEscape(messageID) + "/reply"
	body := map[string]string{
		"msg_type": msgType,
		"content":  content,
	}
	if uuid != "" {
		body["uuid"] = uuid
	}
	resp, err := c.doJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, &APIError{Op: "reply message", Code: resp.Code, Msg: resp.Msg}
	}
	var data SendMessageResp
	json.Unmarshal(resp.Data, &data)
	return &data, nil
}

// ReplyText replies to messageID with a plain text message.
func (c *LarkClient) ReplyText(ctx context.Context, messageID, text, uuid string) (*SendMessageResp, error) {
	return c.ReplyMessage(ctx, messageID, "text", BuildTextContent(text), uuid)
}

// BuildTextContent encodes text as a Lark text message content string.
func BuildTextContent(text string) string {
	data, _ := json.Marshal(map[string]string{"text": text})
	return string(data)
}

// --- Bot API ---

// BotInfo is the bot identity returned by /open-apis/bot/v3/info.
type BotInfo struct {
	AppName string `json:"app_name"`
	OpenID  string `json:"open_id"`
}

// GetBotInfo fetches the bot's identity. The open_id is needed to recognise
// mentions of the bot itself.
func (c *LarkClient) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/open-apis/bot/v3/info", nil)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, &APIError{Op: "get bot info", Code: resp.Code, Msg: resp.Msg}
	}
	// This endpoint returns the bot at the top level, not under data.
	var bot BotInfo
	if err := json.Unmarshal(resp.Bot, &bot); err != nil {
		return nil, fmt.Errorf("decode bot info: %w", err)
	}
	return &bot, nil
}
