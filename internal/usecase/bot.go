package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"upload-files-skill/internal/domain"
)

const (
	errorTraceName      = "OnTurnError Trace"
	errorTraceValueType = "https://www.botframework.com/schemas/error"
	errorTraceLabel     = "TurnError"
)

// Bot dispatches activities to a Runner and owns the unexpected fault path.
type Bot struct {
	runner Runner
	log    *slog.Logger
}

func NewBot(runner Runner, log *slog.Logger) (*Bot, error) {
	if runner == nil {
		return nil, errors.New("usecase: runner must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bot{runner: runner, log: log.With(slog.String("component", "bot"))}, nil
}

// OnTurn handles one activity. Faults raised by the runner are reported to
// the conversation and not returned; the returned error only signals an
// unusable activity.
func (b *Bot) OnTurn(ctx context.Context, tc TurnContext) error {
	act := tc.Activity()
	if strings.TrimSpace(act.Type) == "" {
		return errors.New("usecase: activity type is required")
	}
	log := b.log.With(
		slog.String("activity_type", act.Type),
		slog.String("conversation_id", act.ConversationID()),
	)

	var err error
	switch act.Type {
	case domain.ActivityTypeMessage:
		err = b.runner.Run(ctx, tc)
	case domain.ActivityTypeEndOfConversation:
		log.Info("conversation ended by caller", slog.String("code", act.Code))
		if c, ok := b.runner.(Canceler); ok && act.ConversationID() != "" {
			err = c.Cancel(ctx, act.ConversationID())
		}
	default:
		log.Info("received non-message activity")
	}
	if err != nil {
		b.onTurnError(ctx, log, tc, err)
	}
	return nil
}

func (b *Bot) onTurnError(ctx context.Context, log *slog.Logger, tc TurnContext, turnErr error) {
	log.Error("unhandled turn error", slog.Any("error", turnErr))

	for _, text := range []string{msgSkillError, msgFixSource} {
		msg := domain.MessageActivity(text)
		msg.InputHint = domain.InputHintExpectingInput
		if err := tc.Send(ctx, msg); err != nil {
			log.Error("send error notice", slog.Any("error", err))
		}
	}
	if err := tc.SendTrace(ctx, errorTraceName, turnErr.Error(), errorTraceValueType, errorTraceLabel); err != nil {
		log.Error("send error trace", slog.Any("error", err))
	}
	eoc := domain.EndOfConversationActivity(domain.EndOfConversationSkillError, turnErr.Error())
	if err := tc.Send(ctx, eoc); err != nil {
		log.Error("send end of conversation", slog.Any("error", err))
	}
}
