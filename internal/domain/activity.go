package domain

import "strings"

// Activity types handled by the skill.
const (
	ActivityTypeMessage            = "message"
	ActivityTypeEndOfConversation  = "endOfConversation"
	ActivityTypeTrace              = "trace"
	ActivityTypeConversationUpdate = "conversationUpdate"
)

const (
	InputHintAcceptingInput = "acceptingInput"
	InputHintExpectingInput = "expectingInput"
)

// End-of-conversation codes sent back to the calling bot.
const (
	EndOfConversationCompleted  = "completedSuccessfully"
	EndOfConversationSkillError = "SkillError"
)

// DeliveryModeExpectReplies asks the skill to return replies in the HTTP
// response instead of posting them to the service URL.
const DeliveryModeExpectReplies = "expectReplies"

// ChannelEmulator is the channel id used by the local Bot Framework emulator.
const ChannelEmulator = "emulator"

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies the conversation a turn belongs to.
type ConversationAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	IsGroup  bool   `json:"isGroup,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

// Activity is the subset of the Bot Framework activity schema the skill reads
// and writes.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Timestamp    string               `json:"timestamp,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	From         *ChannelAccount      `json:"from,omitempty"`
	Recipient    *ChannelAccount      `json:"recipient,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Text         string               `json:"text,omitempty"`
	Speak        string               `json:"speak,omitempty"`
	InputHint    string               `json:"inputHint,omitempty"`
	Attachments  []Attachment         `json:"attachments,omitempty"`
	Value        any                  `json:"value,omitempty"`
	Name         string               `json:"name,omitempty"`
	ValueType    string               `json:"valueType,omitempty"`
	Label        string               `json:"label,omitempty"`
	Code         string               `json:"code,omitempty"`
	DeliveryMode string               `json:"deliveryMode,omitempty"`
}

// ConversationID returns the trimmed conversation id, or "" when absent.
func (a Activity) ConversationID() string {
	if a.Conversation == nil {
		return ""
	}
	return strings.TrimSpace(a.Conversation.ID)
}

// ExpectsReplies reports whether replies must be buffered into the response.
func (a Activity) ExpectsReplies() bool {
	return strings.EqualFold(a.DeliveryMode, DeliveryModeExpectReplies)
}

// MessageActivity builds a plain text message activity.
func MessageActivity(text string) Activity {
	return Activity{Type: ActivityTypeMessage, Text: text, Speak: text}
}

// EndOfConversationActivity builds an end-of-conversation signal.
func EndOfConversationActivity(code, text string) Activity {
	return Activity{Type: ActivityTypeEndOfConversation, Code: code, Text: text}
}
