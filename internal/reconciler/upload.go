package reconciler

import (
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/state"
)

// SeedDocument records an extracted document in the family's upload slot and
// injects the synthetic file-content turn that grounds the conversation,
// creating the conversation first when none is active. A conversation carries
// at most one file turn; repeat seeding is a no-op.
func (r *Reconciler) SeedDocument(text, fileName string, tokens []chat.MaskPosition) *chat.Conversation {
	r.store.Dispatch(state.SetUpload{Family: r.family, Upload: &state.Upload{
		IsFileUploaded:   true,
		FileName:         fileName,
		Text:             text,
		IdentifiedTokens: tokens,
	}})

	conv := r.store.CurrentChat(r.family)
	if conv == nil {
		conv = chat.NewConversation(r.newID(), r.now())
		r.store.Dispatch(state.UpdateCurrentChat{Family: r.family, Conversation: conv})
	}
	if conv.FileMessageID() != "" {
		logger.L.Debug("conversation already seeded with a document", "family", r.family, "conversation", conv.ID)
		return conv
	}
	msg := chat.NewFileMessage(r.newID(), text, fileName, r.now())
	msg.ConversationID = conv.ID
	conv.Messages = append(conv.Messages, msg)
	r.updateConversation(conv)
	r.store.Dispatch(state.UpsertChatHistory{Family: r.family, Conversation: conv})
	return conv
}

// NewChat discards the active conversation without persisting it, cancels any
// in-flight request, and clears the upload slot.
func (r *Reconciler) NewChat() {
	r.Stop()
	r.store.Dispatch(state.DeleteCurrentChat{Family: r.family})
	r.store.Dispatch(state.ClearUpload{Family: r.family})
}
