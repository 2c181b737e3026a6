package feishu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

// ErrUnhandledEvent is returned by Dispatch for event kinds with no handler.
var ErrUnhandledEvent = errors.New("feishu: unhandled event")

// EventKind tags the variant held by an Event.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindMessageReceive
	KindMessageRead
	KindBotEntered
)

func (k EventKind) String() string {
	switch k {
	case KindMessageReceive:
		return protocol.EventMessageReceive
	case KindMessageRead:
		return protocol.EventMessageRead
	case KindBotEntered:
		return protocol.EventBotEntered
	default:
		return "unrecognized"
	}
}

// EventHeader is the v2 event envelope header.
type EventHeader struct {
	EventID    string
	EventType  string
	CreateTime string
	AppID      string
	TenantKey  string
}

// Event is a decoded long-connection event. Exactly one of the variant
// pointers is set, matching Kind; KindUnrecognized sets none.
type Event struct {
	Kind   EventKind
	Header EventHeader

	MessageReceive *MessageReceiveEvent
	MessageRead    *MessageReadEvent
	BotEntered     *BotEnteredEvent
}

// MessageReceiveEvent is im.message.receive_v1.
type MessageReceiveEvent struct {
	MessageID   string
	ChatID      string
	ChatType    string // "p2p" or "group"
	MessageType string // "text", "post", "image", ...
	Content     string // raw JSON content string
	RootID      string
	ParentID    string
	CreateTime  string
	SenderID    string // sender_id.open_id
	SenderType  string
	Mentions    []Mention
}

// Mention is one @-mention in a message.
type Mention struct {
	Key    string // @_user_N placeholder
	OpenID string
	Name   string
}

// MessageReadEvent is im.message.message_read_v1.
type MessageReadEvent struct {
	ReaderID   string
	ReadTime   string
	MessageIDs []string
}

// BotEnteredEvent is im.chat.access_event.bot_p2p_chat_entered_v1.
type BotEnteredEvent struct {
	ChatID     string
	OperatorID string
}

// DecodeEvent decodes a v2 event payload into its typed variant. Fields are
// extracted individually so a partially malformed payload still yields
// whatever identifiers it carries.
func DecodeEvent(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, fmt.Errorf("feishu: event payload is not valid JSON")
	}
	root := gjson.ParseBytes(payload)
	h := root.Get("header")
	ev := Event{
		Header: EventHeader{
			EventID:    h.Get("event_id").String(),
			EventType:  h.Get("event_type").String(),
			CreateTime: h.Get("create_time").String(),
			AppID:      h.Get("app_id").String(),
			TenantKey:  h.Get("tenant_key").String(),
		},
	}
	body := root.Get("event")

	switch ev.Header.EventType {
	case protocol.EventMessageReceive:
		ev.Kind = KindMessageReceive
		ev.MessageReceive = decodeMessageReceive(body)
	case protocol.EventMessageRead:
		ev.Kind = KindMessageRead
		ev.MessageRead = &MessageReadEvent{
			ReaderID: body.Get("reader.reader_id.open_id").String(),
			ReadTime: body.Get("reader.read_time").String(),
		}
		for _, id := range body.Get("message_id_list").Array() {
			ev.MessageRead.MessageIDs = append(ev.MessageRead.MessageIDs, id.String())
		}
	case protocol.EventBotEntered:
		ev.Kind = KindBotEntered
		ev.BotEntered = &BotEnteredEvent{
			ChatID:     body.Get("chat_id").String(),
			OperatorID: body.Get("operator_id.open_id").String(),
		}
	default:
		ev.Kind = KindUnrecognized
	}
	return ev, nil
}

func decodeMessageReceive(body gjson.Result) *MessageReceiveEvent {
	msg := body.Get("message")
	m := &MessageReceiveEvent{
		MessageID:   msg.Get("message_id").String(),
		ChatID:      msg.Get("chat_id").String(),
		ChatType:    msg.Get("chat_type").String(),
		MessageType: msg.Get("message_type").String(),
		Content:     msg.Get("content").String(),
		RootID:      msg.Get("root_id").String(),
		ParentID:    msg.Get("parent_id").String(),
		CreateTime:  msg.Get("create_time").String(),
		SenderID:    body.Get("sender.sender_id.open_id").String(),
		SenderType:  body.Get("sender.sender_type").String(),
	}
	for _, mention := range msg.Get("mentions").Array() {
		m.Mentions = append(m.Mentions, Mention{
			Key:    mention.Get("key").String(),
			OpenID: mention.Get("id.open_id").String(),
			Name:   mention.Get("name").String(),
		})
	}
	return m
}

// EventHandler consumes raw event payloads from the long connection.
type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// EventDispatcher routes decoded events to per-kind handlers.
// Safe for concurrent use.
type EventDispatcher struct {
	mu             sync.RWMutex
	messageReceive func(context.Context, *MessageReceiveEvent) error
	messageRead    func(context.Context, *MessageReadEvent) error
	botEntered     func(context.Context, *BotEnteredEvent) error
}

func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

func (d *EventDispatcher) OnMessageReceive(fn func(context.Context, *MessageReceiveEvent) error) *EventDispatcher {
	d.mu.Lock()
	d.messageReceive = fn
	d.mu.Unlock()
	return d
}

func (d *EventDispatcher) OnMessageRead(fn func(context.Context, *MessageReadEvent) error) *EventDispatcher {
	d.mu.Lock()
	d.messageRead = fn
	d.mu.Unlock()
	return d
}

func (d *EventDispatcher) OnBotEntered(fn func(context.Context, *BotEnteredEvent) error) *EventDispatcher {
	d.mu.Lock()
	d.botEntered = fn
	d.mu.Unlock()
	return d
}

// HandleEvent decodes payload and calls the matching handler.
func (d *EventDispatcher) HandleEvent(ctx context.Context, payload []byte) error {
	ev, err := DecodeEvent(payload)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, ev)
}

// Dispatch calls the handler registered for ev.Kind, or returns
// ErrUnhandledEvent.
func (d *EventDispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch {
	case ev.Kind == KindMessageReceive && d.messageReceive != nil:
		return d.messageReceive(ctx, ev.MessageReceive)
	case ev.Kind == KindMessageRead && d.messageRead != nil:
		return d.messageRead(ctx, ev.MessageRead)
	case ev.Kind == KindBotEntered && d.botEntered != nil:
		return d.botEntered(ctx, ev.BotEntered)
	}
	slog.Debug("feishu: no handler for event", "event_type", ev.Header.EventType, "event_id", ev.Header.EventID)
	return fmt.Errorf("%w: %s", ErrUnhandledEvent, ev.Header.EventType)
}
