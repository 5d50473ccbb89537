package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"upload-files-skill/internal/domain"
)

// SessionStore persists relay sessions per conversation. All writes are
// conditional on what is stored:
//   - Begin fails with domain.ErrSessionExists when any session is stored.
//   - Takeover replaces stale only if it is still stored unchanged (same ID
//     and UpdatedAt) or the conversation has no session; otherwise it fails
//     with domain.ErrSessionExists.
//   - Save fails with domain.ErrSessionNotFound unless a session with the
//     same ID is stored.
//   - Release removes the session only if its ID matches.
//   - Clear removes whatever is stored.
type SessionStore interface {
	Get(ctx context.Context, conversationID string) (domain.RelaySession, bool, error)
	Begin(ctx context.Context, session domain.RelaySession) error
	Takeover(ctx context.Context, stale, fresh domain.RelaySession) error
	Save(ctx context.Context, session domain.RelaySession) error
	Release(ctx context.Context, session domain.RelaySession) error
	Clear(ctx context.Context, conversationID string) error
}

type DialogOptions struct {
	// StaleAfter is the age after which a stored session is considered
	// abandoned and replaced by a new one.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// RelayDialog runs one relay per conversation through Intake, Relaying and
// Finalized.
type RelayDialog struct {
	resolver   *AttachmentResolver
	relay      Relayer
	sessions   SessionStore
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
}

type intakeOutput struct {
	attachment *domain.Attachment
	result     domain.RelayResult
}

type relayingOutput struct {
	result domain.RelayResult
}

var transitions = map[domain.Step][]domain.Step{
	domain.StepIntake:   {domain.StepRelaying, domain.StepFinalized},
	domain.StepRelaying: {domain.StepFinalized},
}

func NewRelayDialog(resolver *AttachmentResolver, relay Relayer, sessions SessionStore, opts DialogOptions) (*RelayDialog, error) {
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if relay == nil {
		return nil, errors.New("usecase: relay must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultRelayTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &RelayDialog{
		resolver:   resolver,
		relay:      relay,
		sessions:   sessions,
		staleAfter: opts.StaleAfter,
		log:        log.With(slog.String("component", "dialog")),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (d *RelayDialog) Run(ctx context.Context, tc TurnContext) error {
	convID := tc.Activity().ConversationID()
	if convID == "" {
		return newError(ErrorInternal, "missing_conversation_id", nil)
	}
	log := d.log.With(slog.String("conversation_id", convID))

	session, err := d.begin(ctx, log, convID)
	if err != nil {
		if CodeOf(err) == ErrorSessionBusy {
			return tc.Send(ctx, replyFor(outcomeOf(err)))
		}
		return err
	}

	in := d.intake(log, tc)
	result := in.result
	if in.attachment != nil {
		if err := d.advance(&session, domain.StepRelaying); err != nil {
			return d.abort(ctx, log, session, err)
		}
		session.Attachment = in.attachment
		if err := d.sessions.Save(ctx, session); err != nil {
			return d.abort(ctx, log, session, newError(ErrorInternal, "session_save_error", err))
		}
		result = d.relaying(ctx, in.attachment).result
	}

	if err := d.advance(&session, domain.StepFinalized); err != nil {
		return d.abort(ctx, log, session, err)
	}
	return d.finalize(ctx, log, tc, session, result)
}

// Cancel drops the conversation's session, if any.
func (d *RelayDialog) Cancel(ctx context.Context, conversationID string) error {
	if err := d.sessions.Clear(ctx, conversationID); err != nil {
		return newError(ErrorInternal, "session_clear_error", err)
	}
	return nil
}

func (d *RelayDialog) begin(ctx context.Context, log *slog.Logger, convID string) (domain.RelaySession, error) {
	existing, ok, err := d.sessions.Get(ctx, convID)
	if err != nil {
		return domain.RelaySession{}, newError(ErrorInternal, "session_load_error", err)
	}
	now := d.now()
	session := domain.RelaySession{
		ID:             d.newID(),
		ConversationID: convID,
		Step:           domain.StepIntake,
		StartedAt:      now,
		UpdatedAt:      now,
	}

	if ok {
		age := now.Sub(existing.UpdatedAt)
		if age < d.staleAfter {
			log.Info("relay already in progress", slog.String("step", string(existing.Step)))
			return domain.RelaySession{}, newError(ErrorSessionBusy, "session_active", nil)
		}
		log.Warn("replacing stale relay session",
			slog.String("stale_session_id", existing.ID),
			slog.String("step", string(existing.Step)),
			slog.Duration("age", age),
		)
		err = d.sessions.Takeover(ctx, existing, session)
	} else {
		err = d.sessions.Begin(ctx, session)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSessionExists) {
			return domain.RelaySession{}, newError(ErrorSessionBusy, "session_active", err)
		}
		return domain.RelaySession{}, newError(ErrorInternal, "session_begin_error", err)
	}
	return session, nil
}

func (d *RelayDialog) intake(log *slog.Logger, tc TurnContext) intakeOutput {
	attachments := tc.Attachments()
	if len(attachments) == 0 {
		log.Info("no attachment received")
		return intakeOutput{result: outcomeOf(newError(ErrorMissingSource, "no_attachments", nil))}
	}
	logIgnoredAttachments(log, attachments)
	att := attachments[0]
	return intakeOutput{attachment: &att}
}

func (d *RelayDialog) relaying(ctx context.Context, att *domain.Attachment) relayingOutput {
	return relayingOutput{result: relayAttachment(ctx, d.resolver, d.relay, *att)}
}

// finalize replies, releases the session and signals the end of the
// conversation, in that order.
func (d *RelayDialog) finalize(ctx context.Context, log *slog.Logger, tc TurnContext, session domain.RelaySession, result domain.RelayResult) error {
	sendErr := tc.Send(ctx, replyFor(result))
	if err := d.sessions.Release(ctx, session); err != nil {
		return newError(ErrorInternal, "session_release_error", err)
	}
	if sendErr != nil {
		return fmt.Errorf("usecase: send reply: %w", sendErr)
	}
	log.Info("relay dialog finished",
		slog.Bool("ok", result.OK),
		slog.Duration("elapsed", d.now().Sub(session.StartedAt)),
	)
	if err := tc.Send(ctx, endOfConversation()); err != nil {
		return fmt.Errorf("usecase: send end of conversation: %w", err)
	}
	return nil
}

func (d *RelayDialog) advance(session *domain.RelaySession, to domain.Step) error {
	for _, next := range transitions[session.Step] {
		if next == to {
			session.Step = to
			session.UpdatedAt = d.now()
			return nil
		}
	}
	return newError(ErrorInternal, "invalid_transition", fmt.Errorf("%s -> %s", session.Step, to))
}

func (d *RelayDialog) abort(ctx context.Context, log *slog.Logger, session domain.RelaySession, cause error) error {
	if err := d.sessions.Release(ctx, session); err != nil {
		log.Error("clear session after failure", slog.Any("error", err))
	}
	return cause
}
