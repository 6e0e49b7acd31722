package stream

import (
	"encoding/json"

	"github.com/veilchat/veil-go/internal/chat"
)

// HistoryMetadata is the response-level conversation identity carried by every
// complete stream object.
type HistoryMetadata struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Date           string `json:"date"`
}

// Choice wraps the message deltas of one complete stream object.
type Choice struct {
	Messages []chat.Message `json:"messages"`
}

// Response is one complete newline-delimited object from the generation body.
// Error arrives as either a bare string or an object with a message field, so
// it is held raw and interpreted lazily.
type Response struct {
	HistoryMetadata HistoryMetadata `json:"history_metadata"`
	Choices         []Choice        `json:"choices"`
	Error           json.RawMessage `json:"error,omitempty"`
}

// ErrorMessage extracts the error text from either wire shape. Empty when the
// response carries no error.
func (r *Response) ErrorMessage() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(r.Error)
}

// Kind tags a decoded stream event.
type Kind int

const (
	KindMessages Kind = iota
	KindError
)

// Event is the tagged variant surfaced for each complete stream object:
// either a batch of message deltas with metadata, or a backend-reported error.
type Event struct {
	Kind     Kind
	Deltas   []chat.Message
	Metadata HistoryMetadata
	Message  string
}
