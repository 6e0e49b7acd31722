package chat

// DefaultTitle is assigned to a conversation synthesized before the backend
// has issued its own metadata.
const DefaultTitle = "New Conversation"

// Conversation is an ordered sequence of turns. Insertion order is
// conversation order; Date is the last-touched timestamp.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	Date     string    `json:"date"`
}

// NewConversation synthesizes an empty conversation with a fresh identity, for
// registration as "current" before the first request is issued.
func NewConversation(id, date string) *Conversation {
	return &Conversation{
		ID:    id,
		Title: DefaultTitle,
		Date:  date,
	}
}

// FileMessageID returns the id of the document-seeding turn, if one exists.
func (c *Conversation) FileMessageID() string {
	for _, m := range c.Messages {
		if m.IsFileContent {
			return m.ID
		}
	}
	return ""
}
