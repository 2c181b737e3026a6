// Package ingest turns inbound Lark messages into queued tasks.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/larkbridge/internal/ingest")

// TaskStore is the part of queue.Store the ingestor writes to.
type TaskStore interface {
	AppendIfAbsent(ctx context.Context, t queue.Task) (queue.AppendResult, error)
}

// Replier sends the optional acknowledgment reply.
type Replier interface {
	ReplyText(ctx context.Context, messageID, text, uuid string) (*feishu.SendMessageResp, error)
}

// Trigger is notified once per newly queued task.
type Trigger interface {
	Fire(ctx context.Context, t queue.Task)
}

// Result reports what happened to one event.
type Result int

const (
	Dropped Result = iota
	Duplicate
	Appended
)

func (r Result) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Appended:
		return "appended"
	default:
		return "dropped"
	}
}

// Ingestor is safe for concurrent use; the store serializes writers.
type Ingestor struct {
	store     TaskStore
	replier   Replier
	ackText   string
	trigger   Trigger
	botOpenID string
	now       func() time.Time
}

type Option func(*Ingestor)

// WithAck sends text as a reply to every newly queued message.
func WithAck(r Replier, text string) Option {
	return func(in *Ingestor) {
		in.replier = r
		in.ackText = text
	}
}

func WithTrigger(t Trigger) Option {
	return func(in *Ingestor) { in.trigger = t }
}

// WithBotOpenID enables stripping the bot's own @mention from text bodies.
func WithBotOpenID(openID string) Option {
	return func(in *Ingestor) { in.botOpenID = openID }
}

func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

func New(store TaskStore, opts ...Option) *Ingestor {
	in := &Ingestor{store: store, now: time.Now}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Register installs the ingestor on d. Read receipts and bot-entered events are
// accepted and ignored so the connection acknowledges them.
func (in *Ingestor) Register(d *feishu.EventDispatcher) {
	d.OnMessageReceive(func(ctx context.Context, ev *feishu.MessageReceiveEvent) error {
		_, err := in.Ingest(ctx, ev)
		return err
	})
	d.OnMessageRead(func(context.Context, *feishu.MessageReadEvent) error { return nil })
	d.OnBotEntered(func(_ context.Context, ev *feishu.BotEnteredEvent) error {
		slog.Debug("bot entered p2p chat", "chat_id", ev.ChatID)
		return nil
	})
}

// Ingest records ev as a pending task unless it lacks a message id or was
// already queued.
func (in *Ingestor) Ingest(ctx context.Context, ev *feishu.MessageReceiveEvent) (Result, error) {
	task, ok := Normalize(ev, in.botOpenID, in.now().UTC())
	if !ok {
		slog.Debug("message event without message_id dropped")
		return Dropped, nil
	}

	ctx, span := tracer.Start(ctx, "ingest.message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("lark.message_id", task.Key),
		attribute.String("lark.chat_id", task.Origin),
		attribute.String("lark.message_type", ev.MessageType),
	)

	res, err := in.store.AppendIfAbsent(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		slog.Error("queue append failed", "message_id", task.Key, "error", err)
		return Dropped, fmt.Errorf("append %s: %w", task.Key, err)
	}
	if res == queue.Duplicate {
		span.SetAttributes(attribute.Bool("queue.duplicate", true))
		slog.Info("duplicate message ignored", "message_id", task.Key)
		return Duplicate, nil
	}

	slog.Info("task queued", "message_id", task.Key, "chat_id", task.Origin, "type", ev.MessageType)

	if in.replier != nil && in.ackText != "" {
		if _, err := in.replier.ReplyText(ctx, task.Key, in.ackText, ""); err != nil {
			slog.Warn("ack reply failed", "message_id", task.Key, "error", err)
		}
	}
	if in.trigger != nil {
		in.trigger.Fire(ctx, task)
	}
	return Appended, nil
}
