package reconciler

import (
	"context"
	"errors"
	"net/http"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/state"
	"github.com/veilchat/veil-go/internal/stream"
)

// Send runs one full request/response cycle for a question. With an empty
// conversationID a new conversation is synthesized and registered as current
// before the request is issued, so there is always a live conversation to
// append to even when the call fails immediately. All failures are absorbed:
// they resolve to an error turn or, on cancellation, to a discarded partial
// turn.
func (r *Reconciler) Send(ctx context.Context, question, conversationID string) {
	r.send(ctx, question, "", conversationID)
}

// Regenerate strips the trailing error turns left by a failed cycle and
// re-sends the originating user turn under its original id, so the
// regenerated turn supersedes rather than duplicates it. Returns false when
// the tail carries no regenerable error shape.
func (r *Reconciler) Regenerate(ctx context.Context) bool {
	conv := r.store.CurrentChat(r.family)
	if conv == nil {
		return false
	}
	idx, ok := chat.TrailingError(conv.Messages)
	if !ok {
		return false
	}
	userMsg := conv.Messages[idx]
	conv.Messages = chat.FilterErrors(conv.Messages)
	r.updateConversation(conv)
	r.send(ctx, userMsg.Content, userMsg.ID, conv.ID)
	return true
}

func (r *Reconciler) send(ctx context.Context, question, messageID, conversationID string) {
	if messageID == "" {
		messageID = r.newID()
	}
	userMsg := chat.NewUserMessage(messageID, question, r.now())

	var conv *chat.Conversation
	if conversationID == "" {
		conv = chat.NewConversation(r.newID(), r.now())
		r.store.Dispatch(state.UpdateCurrentChat{Family: r.family, Conversation: conv})
		r.store.Dispatch(state.UpsertChatHistory{Family: r.family, Conversation: conv})
	} else {
		conv = r.store.FindConversation(r.family, conversationID)
		if conv == nil {
			logger.L.Error("conversation not found", "family", r.family, "conversation", conversationID)
			return
		}
	}
	userMsg.ConversationID = conv.ID
	// A regenerated turn reuses its id; dedupe keeps one copy in place.
	conv.Messages = chat.Dedupe(append(conv.Messages, userMsg))
	r.updateConversation(conv)
	r.store.Dispatch(state.SetLoading{Family: r.family, Loading: true})

	reqCtx, cancel := context.WithCancel(ctx)
	tok := r.pushCancel(cancel)
	defer func() {
		cancel()
		r.removeCancel(tok)
		r.store.Dispatch(state.SetLoading{Family: r.family, Loading: false})
		r.fire(ctx, triggerCycleFinished)
	}()

	upload := r.store.Upload(r.family)
	req := api.GenerateRequest{
		Messages:       chat.FilterErrors(conv.Messages),
		Filter:         string(r.family),
		IsFileUploaded: upload != nil && upload.IsFileUploaded,
		ConversationID: conversationID,
	}

	resp, err := r.backend.Generate(reqCtx, req)
	if err != nil {
		if canceled(reqCtx, err) {
			r.truncateAfter(conv, userMsg.ID)
			return
		}
		logger.L.Error("generation request failed", "family", r.family, "error", err)
		r.recordError(conv)
		r.setPending(conv)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// No body contract on a non-OK status; record the failure and leave
		// the remote store untouched.
		logger.L.Warn("generation returned non-OK status", "family", r.family, "status", resp.StatusCode)
		r.recordError(conv)
		return
	}

	dec := stream.NewDecoder(resp.Body)
	dec.NewID = r.newID
	dec.Now = r.now
	dec.OnAnnotations = func(delta chat.Message) {
		// Privacy annotations ride on an assistant delta but describe the
		// user's input; lift them onto the originating user turn.
		if i := indexOf(conv.Messages, userMsg.ID); i >= 0 {
			conv.Messages[i].MaskedContentUser = delta.MaskedContentUser
			if len(delta.IdentifiedTokens) > 0 {
				conv.Messages[i].IdentifiedTokens = delta.IdentifiedTokens
			}
		}
	}

	var lastMeta stream.HistoryMetadata
	var backendErr string
	first := true
	runErr := dec.Run(reqCtx, func(ev stream.Event) {
		if first {
			first = false
			r.fire(ctx, triggerChunkReceived)
		}
		switch ev.Kind {
		case stream.KindError:
			backendErr = ev.Message
		case stream.KindMessages:
			if r.OnDelta != nil {
				for _, d := range ev.Deltas {
					r.OnDelta(d)
				}
			}
			// Server-assigned ids can coincide with locally-held
			// placeholders; re-deduplicate after every merge.
			conv.Messages = chat.Dedupe(append(conv.Messages, ev.Deltas...))
			if ev.Metadata.ConversationID != "" {
				lastMeta = ev.Metadata
			}
			r.updateConversation(conv)
		}
	})
	if runErr != nil {
		if canceled(reqCtx, runErr) {
			r.truncateAfter(conv, userMsg.ID)
			return
		}
		logger.L.Error("stream read failed", "family", r.family, "error", runErr)
		r.recordError(conv)
		r.setPending(conv)
		return
	}
	if backendErr != "" {
		logger.L.Warn("backend reported generation error", "family", r.family, "error", backendErr)
		r.recordError(conv)
		r.setPending(conv)
		return
	}

	if conversationID == "" && lastMeta.ConversationID != "" {
		r.adoptIdentity(conv, userMsg.ID, lastMeta)
	}
	r.updateConversation(conv)
	r.setPending(conv)
}

// adoptIdentity replaces a synthesized conversation identity with the
// server-assigned one once the stream has delivered its metadata.
func (r *Reconciler) adoptIdentity(conv *chat.Conversation, userID string, meta stream.HistoryMetadata) {
	conv.ID = meta.ConversationID
	if meta.Title != "" {
		conv.Title = meta.Title
	}
	if meta.Date != "" {
		conv.Date = meta.Date
	}
	if i := indexOf(conv.Messages, userID); i >= 0 {
		conv.Messages[i].ConversationID = conv.ID
	}
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
