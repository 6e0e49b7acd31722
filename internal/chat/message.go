package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
)

// ErrorText is the fixed content of every synthesized error turn.
const ErrorText = "There was an error generating a response. Chat history can't be saved at this time. If the problem persists, please contact the site administrator."

// Family distinguishes the two independently-lived conversation families.
// It doubles as the filter tag sent with generation requests.
type Family string

const (
	FamilyPrivate Family = "private"
	FamilyPublic  Family = "public"
)

// MaskPosition marks one identified token inside masked content.
type MaskPosition struct {
	Key string `json:"key"`
}

// Message is a single conversational turn. Dates are fixed-width ISO-8601
// strings so the wire format round-trips untouched and lexicographic
// comparison agrees with chronological order.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversationId,omitempty"`
	Role              Role           `json:"role"`
	Content           string         `json:"content"`
	DisplayContent    string         `json:"displayContent,omitempty"`
	Date              string         `json:"date"`
	IsFileContent     bool           `json:"isFileContent,omitempty"`
	MaskedContentUser string         `json:"masked_content_user,omitempty"`
	IdentifiedTokens  []MaskPosition `json:"identified_tokens,omitempty"`
	IdentifiedPII     []string       `json:"identified_pii,omitempty"`
	EndTurn           bool           `json:"end_turn,omitempty"`
}

// Display returns the rendering override when present, the raw content otherwise.
func (m Message) Display() string {
	if m.DisplayContent != "" {
		return m.DisplayContent
	}
	return m.Content
}

// dateLayout keeps the fractional seconds at a fixed three digits. A
// variable-width fraction would break the lexicographic date comparison
// ("...00.12Z" sorts after "...00.123Z").
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Now formats the current instant in the timestamp format used on the wire.
func Now() string {
	return formatDate(time.Now())
}

// NewID returns a fresh opaque message/conversation identifier.
func NewID() string {
	return uuid.NewString()
}

// NewUserMessage builds a user turn with the question as its own display form.
func NewUserMessage(id, question, date string) Message {
	return Message{
		ID:             id,
		Role:           RoleUser,
		Content:        question,
		DisplayContent: question,
		Date:           date,
	}
}

// NewErrorMessage builds the fixed-text error turn used on every failure path.
func NewErrorMessage(id, date string) Message {
	return Message{
		ID:      id,
		Role:    RoleError,
		Content: ErrorText,
		Date:    date,
	}
}

// NewFileMessage builds the synthetic user turn that seeds a conversation with
// extracted document text. The display form names the file instead of dumping
// the extraction.
func NewFileMessage(id, text, fileName, date string) Message {
	return Message{
		ID:             id,
		Role:           RoleUser,
		Content:        text,
		DisplayContent: "You are now chatting based on your uploaded document: " + fileName,
		Date:           date,
		IsFileContent:  true,
	}
}
