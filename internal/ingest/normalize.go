package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/channels"
	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

// rawContentLimit caps fallback renderings of unparseable or non-text content.
const rawContentLimit = 200

// Normalize turns a received message into a Task. ok is false when the event
// carries no message id and must be dropped.
func Normalize(ev *feishu.MessageReceiveEvent, botOpenID string, now time.Time) (queue.Task, bool) {
	if ev == nil || strings.TrimSpace(ev.MessageID) == "" {
		return queue.Task{}, false
	}
	return queue.Task{
		Key:        strings.TrimSpace(ev.MessageID),
		Origin:     strings.TrimSpace(ev.ChatID),
		Body:       normalizeBody(ev, botOpenID),
		ReceivedAt: now,
	}, true
}

func normalizeBody(ev *feishu.MessageReceiveEvent, botOpenID string) string {
	if ev.MessageType == protocol.MessageTypeText {
		text, ok := feishu.ParseTextContent(ev.Content)
		if !ok {
			raw := strings.TrimSpace(ev.Content)
			if raw == "" {
				return protocol.PlaceholderNonText
			}
			return channels.Truncate(raw, rawContentLimit)
		}
		text = strings.TrimSpace(feishu.StripMention(text, ev.Mentions, botOpenID))
		if text == "" {
			return protocol.PlaceholderNonText
		}
		return text
	}

	placeholder := protocol.PlaceholderNonText
	if ev.MessageType != "" {
		placeholder = fmt.Sprintf("[%s message]", ev.MessageType)
	}
	rendered := strings.TrimSpace(feishu.RenderContent(ev.Content, ev.MessageType))
	if rendered == "" {
		return placeholder
	}
	return placeholder + " " + channels.Truncate(rendered, rawContentLimit)
}
