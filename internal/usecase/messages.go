package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"upload-files-skill/internal/domain"
)

const (
	msgMissingSource   = "No attachment found. Please upload a file to process."
	msgUnsupported     = "Unsupported file type."
	msgRelayFailed     = "Error while processing the file: %s"
	msgSessionBusy     = "A file is already being processed. Please wait for it to finish."
	msgUploadedFileURL = "Here is the URL of the uploaded file: %s"
	msgSkillError      = "The skill encountered an error or bug."
	msgFixSource       = "To continue to run this bot, please fix the bot source code."
)

// replyFor maps the terminal outcome of a relay to the message sent back.
func replyFor(res domain.RelayResult) domain.Activity {
	if res.OK {
		reply := domain.MessageActivity(fmt.Sprintf(msgUploadedFileURL, res.URL))
		reply.Value = map[string]string{"url": res.URL}
		return reply
	}
	switch CodeOf(res.Err) {
	case ErrorMissingSource:
		return domain.MessageActivity(msgMissingSource)
	case ErrorUnsupportedAttachment:
		return domain.MessageActivity(msgUnsupported)
	case ErrorSessionBusy:
		return domain.MessageActivity(msgSessionBusy)
	default:
		return domain.MessageActivity(fmt.Sprintf(msgRelayFailed, res.ErrorMessage))
	}
}

// outcomeOf turns a resolver error into a failed result so both runners
// reply through replyFor.
func outcomeOf(err error) domain.RelayResult {
	return domain.RelayFailedWith(err)
}

// relayAttachment resolves att and relays it.
func relayAttachment(ctx context.Context, resolver *AttachmentResolver, relay Relayer, att domain.Attachment) domain.RelayResult {
	src, err := resolver.Resolve(att)
	if err != nil {
		return outcomeOf(err)
	}
	return relay.Relay(ctx, src.SourceURL, src.DisplayName)
}

func logIgnoredAttachments(log *slog.Logger, attachments []domain.Attachment) {
	if len(attachments) < 2 {
		return
	}
	names := make([]string, 0, len(attachments)-1)
	for _, a := range attachments[1:] {
		names = append(names, a.Name)
	}
	log.Info("only the first attachment is processed", slog.Any("ignored", names))
}

func endOfConversation() domain.Activity {
	return domain.EndOfConversationActivity(domain.EndOfConversationCompleted, "")
}
