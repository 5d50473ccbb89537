// Package turn implements the per-activity context handed to the bot.
package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"upload-files-skill/internal/domain"
)

// Sender delivers an outgoing activity to the channel.
type Sender interface {
	SendActivity(ctx context.Context, activity domain.Activity) (string, error)
}

// Context addresses outgoing activities to the conversation of the incoming
// one. With deliveryMode expectReplies it buffers them instead of sending.
type Context struct {
	incoming domain.Activity
	sender   Sender
	now      func() time.Time

	mu       sync.Mutex
	buffered []domain.Activity
}

func New(incoming domain.Activity, sender Sender) *Context {
	return &Context{incoming: incoming, sender: sender, now: time.Now}
}

func (c *Context) Activity() domain.Activity {
	return c.incoming
}

func (c *Context) Attachments() []domain.Attachment {
	return c.incoming.Attachments
}

func (c *Context) Send(ctx context.Context, activity domain.Activity) error {
	out := c.address(activity)
	if c.incoming.ExpectsReplies() {
		c.mu.Lock()
		c.buffered = append(c.buffered, out)
		c.mu.Unlock()
		return nil
	}
	if c.sender == nil {
		return errors.New("turn: no sender configured")
	}
	_, err := c.sender.SendActivity(ctx, out)
	return err
}

// SendTrace is a no-op outside the emulator channel.
func (c *Context) SendTrace(ctx context.Context, name string, value any, valueType, label string) error {
	if c.incoming.ChannelID != domain.ChannelEmulator {
		return nil
	}
	return c.Send(ctx, domain.Activity{
		Type:      domain.ActivityTypeTrace,
		Name:      name,
		Value:     value,
		ValueType: valueType,
		Label:     label,
	})
}

// BufferedReplies returns the activities collected under expectReplies.
func (c *Context) BufferedReplies() []domain.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Activity(nil), c.buffered...)
}

func (c *Context) address(a domain.Activity) domain.Activity {
	in := c.incoming
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Timestamp = c.now().UTC().Format(time.RFC3339Nano)
	a.ServiceURL = in.ServiceURL
	a.ChannelID = in.ChannelID
	a.Conversation = in.Conversation
	a.From = in.Recipient
	a.Recipient = in.From
	a.ReplyToID = in.ID
	if a.Type == domain.ActivityTypeMessage && a.InputHint == "" {
		a.InputHint = domain.InputHintAcceptingInput
	}
	return a
}
