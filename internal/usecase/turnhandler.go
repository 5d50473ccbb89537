package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"upload-files-skill/internal/domain"
)

// TurnHandler relays the first attachment of every message turn inline,
// without keeping any state between turns.
type TurnHandler struct {
	resolver *AttachmentResolver
	relay    Relayer
	log      *slog.Logger
}

func NewTurnHandler(resolver *AttachmentResolver, relay Relayer, log *slog.Logger) (*TurnHandler, error) {
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if relay == nil {
		return nil, errors.New("usecase: relay must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &TurnHandler{resolver: resolver, relay: relay, log: log.With(slog.String("component", "turn_handler"))}, nil
}

func (h *TurnHandler) Run(ctx context.Context, tc TurnContext) error {
	attachments := tc.Attachments()
	log := h.log.With(slog.String("conversation_id", tc.Activity().ConversationID()))
	for i, a := range attachments {
		log.Info("received attachment",
			slog.Int("index", i),
			slog.String("name", a.Name),
			slog.String("content_type", a.ContentType),
		)
	}

	var result domain.RelayResult
	if len(attachments) == 0 {
		result = outcomeOf(newError(ErrorMissingSource, "no_attachments", nil))
	} else {
		logIgnoredAttachments(log, attachments)
		result = relayAttachment(ctx, h.resolver, h.relay, attachments[0])
	}

	if err := tc.Send(ctx, replyFor(result)); err != nil {
		return fmt.Errorf("usecase: send reply: %w", err)
	}
	if err := tc.Send(ctx, endOfConversation()); err != nil {
		return fmt.Errorf("usecase: send end of conversation: %w", err)
	}
	return nil
}
