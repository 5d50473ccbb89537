package usecase

import (
	"context"

	"upload-files-skill/internal/domain"
)

// TurnContext is the view of one incoming activity the bot logic works on.
type TurnContext interface {
	Activity() domain.Activity
	Attachments() []domain.Attachment
	Send(ctx context.Context, activity domain.Activity) error
	SendTrace(ctx context.Context, name string, value any, valueType, label string) error
}

// Runner processes a message turn end to end.
type Runner interface {
	Run(ctx context.Context, tc TurnContext) error
}

// Canceler is implemented by runners that keep per-conversation state.
type Canceler interface {
	Cancel(ctx context.Context, conversationID string) error
}
