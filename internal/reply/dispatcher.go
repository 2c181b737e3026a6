// Package reply delivers a worker's answer to the originating Lark message and
// marks the task resolved.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/queue"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/larkbridge/internal/reply")

// replyNamespace scopes the deterministic reply uuids.
var replyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("larkbridge/reply"))

// Store is the part of queue.Store the dispatcher needs.
type Store interface {
	IsResolved(key string) (bool, error)
	MarkResolved(ctx context.Context, key string) (queue.MarkResult, error)
}

// Sender posts a text reply to a message.
type Sender interface {
	ReplyText(ctx context.Context, messageID, text, uuid string) (*feishu.SendMessageResp, error)
}

// Outcome is a successful Send result.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeAlreadyResolved
)

func (o Outcome) String() string {
	if o == OutcomeAlreadyResolved {
		return "already_resolved"
	}
	return "sent"
}

type Reason string

const (
	ReasonEmptyKey     Reason = "empty_key"
	ReasonEmptyContent Reason = "empty_content"
	ReasonAuth         Reason = "auth"
	ReasonSend         Reason = "send"
	ReasonIO           Reason = "io"
)

// Failure is the error returned by Send.
type Failure struct {
	Reason Reason
	Key    string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("reply %s: %s", f.Key, f.Reason)
	}
	return fmt.Sprintf("reply %s: %s: %v", f.Key, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Dispatcher struct {
	store  Store
	sender Sender
}

func NewDispatcher(store Store, sender Sender) *Dispatcher {
	return &Dispatcher{store: store, sender: sender}
}

// ReplyUUID is the idempotency uuid sent with the reply for key, so the
// platform drops a resend of the same answer.
func ReplyUUID(key string) string {
	return uuid.NewSHA1(replyNamespace, []byte(key)).String()
}

// Send replies to the message identified by key with text, then marks the
// task resolved. An already resolved task returns OutcomeAlreadyResolved
// without any network call.
func (d *Dispatcher) Send(ctx context.Context, key, text string) (Outcome, error) {
	key, text = strings.TrimSpace(key), strings.TrimSpace(text)
	if key == "" {
		return OutcomeSent, &Failure{Reason: ReasonEmptyKey}
	}
	if text == "" {
		return OutcomeSent, &Failure{Reason: ReasonEmptyContent, Key: key}
	}

	ctx, span := tracer.Start(ctx, "reply.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("lark.message_id", key))

	fail := func(f *Failure) (Outcome, error) {
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Reason))
		return OutcomeSent, f
	}

	resolved, err := d.store.IsResolved(key)
	if err != nil {
		return fail(&Failure{Reason: ReasonIO, Key: key, Err: err})
	}
	if resolved {
		slog.Info("task already resolved, reply skipped", "message_id", key)
		span.SetAttributes(attribute.Bool("reply.already_resolved", true))
		return OutcomeAlreadyResolved, nil
	}

	resp, err := d.sender.ReplyText(ctx, key, text, ReplyUUID(key))
	if err != nil {
		if errors.Is(err, feishu.ErrAuth) {
			return fail(&Failure{Reason: ReasonAuth, Key: key, Err: err})
		}
		return fail(&Failure{Reason: ReasonSend, Key: key, Err: err})
	}
	slog.Info("reply sent", "message_id", key, "reply_id", resp.MessageID)

	res, err := d.store.MarkResolved(ctx, key)
	switch {
	case err != nil:
		slog.Error("reply sent but marking resolved failed", "message_id", key, "error", err)
	case res == queue.NotFound:
		slog.Warn("reply sent for a message not in the queue", "message_id", key)
	}
	return OutcomeSent, nil
}
