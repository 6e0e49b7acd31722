// Package stream decodes generation bodies: a sequence of JSON objects
// delimited by newlines, where a single object may be flushed across several
// network writes and several objects may land in one read. The decoder
// accumulates candidate text per line and re-attempts a whole-buffer parse
// after every append; a parse failure just means the object is still partial.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/veilchat/veil-go/internal/chat"
)

const readChunkSize = 4 * 1024

// Decoder turns raw body chunks into Events. Each recovered message delta is
// stamped with a fresh id and timestamp; privacy annotations riding on a delta
// are surfaced through OnAnnotations so the caller can attach them to the
// originating user turn.
type Decoder struct {
	r   io.Reader
	buf strings.Builder

	// OnAnnotations, when set, receives every delta carrying identified PII.
	OnAnnotations func(delta chat.Message)

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() string
}

// NewDecoder wraps a response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		NewID: chat.NewID,
		Now:   chat.Now,
	}
}

// Run consumes the body until completion, invoking onEvent once per complete
// object in arrival order. Any buffered bytes that never formed a complete
// object are discarded silently at stream end; that leniency is part of the
// wire contract. Cancellation is checked between reads and surfaced as
// ctx.Err().
func (d *Decoder) Run(ctx context.Context, onEvent func(Event)) error {
	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.r.Read(chunk)
		if n > 0 {
			for _, line := range strings.Split(string(chunk[:n]), "\n") {
				d.buf.WriteString(line)
				var resp Response
				if jerr := json.Unmarshal([]byte(d.buf.String()), &resp); jerr != nil {
					// Partial object, keep accumulating.
					continue
				}
				onEvent(d.event(&resp))
				d.buf.Reset()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (d *Decoder) event(resp *Response) Event {
	if msg := resp.ErrorMessage(); msg != "" {
		return Event{Kind: KindError, Message: msg}
	}
	var deltas []chat.Message
	if len(resp.Choices) > 0 {
		deltas = resp.Choices[0].Messages
	}
	for i := range deltas {
		deltas[i].ID = d.NewID()
		deltas[i].Date = d.Now()
		if len(deltas[i].IdentifiedPII) > 0 && d.OnAnnotations != nil {
			d.OnAnnotations(deltas[i])
		}
	}
	return Event{Kind: KindMessages, Deltas: deltas, Metadata: resp.HistoryMetadata}
}
