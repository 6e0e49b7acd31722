// Package history is the dual-mode persistence adapter. The reconciler
// commits through one contract regardless of whether a remote history store is
// reachable; both modes dedupe and error-filter the message list and funnel
// through the same state-store notifications, so downstream consumers never
// learn which mode is active.
//
// A failed remote upsert after a successful generation is surfaced by
// appending an error turn synthesized here, distinct in origin from the
// reconciler's generation-failure turn even though both carry the same fixed
// text.
package history

import (
	"context"
	"fmt"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/config"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/state"
)

// Adapter commits a conversation at the end of a request cycle.
type Adapter interface {
	Commit(ctx context.Context, family chat.Family, conv *chat.Conversation) error
}

// Upserter is the slice of the backend client the remote adapter needs.
type Upserter interface {
	HistoryUpdate(ctx context.Context, conversationID string, messages []chat.Message) error
}

// New selects the adapter matching the persistence-mode classification.
func New(status api.DBStatus, client Upserter, store *state.Store, cfg config.HistoryConfig) Adapter {
	if status.Working() {
		return &Remote{api: client, store: store}
	}
	return NewLocal(store, cfg.LocalDB)
}

// prepare produces the list actually persisted: deduplicated, error turns
// stripped.
func prepare(messages []chat.Message) []chat.Message {
	return chat.Dedupe(chat.FilterErrors(messages))
}

func errorTurn() chat.Message {
	return chat.NewErrorMessage(chat.NewID(), chat.Now())
}

func notify(store *state.Store, family chat.Family, conv *chat.Conversation) {
	store.Dispatch(state.UpdateCurrentChat{Family: family, Conversation: conv})
	store.Dispatch(state.UpsertChatHistory{Family: family, Conversation: conv})
}

// Remote mirrors every commit to the remote history store.
type Remote struct {
	api   Upserter
	store *state.Store
}

// Commit forwards the prepared message list to the remote upsert. A failed
// upsert appends an error turn to the conversation instead of losing the
// exchange, and still notifies downstream consumers.
func (r *Remote) Commit(ctx context.Context, family chat.Family, conv *chat.Conversation) error {
	if err := r.api.HistoryUpdate(ctx, conv.ID, prepare(conv.Messages)); err != nil {
		logger.L.Error("history upsert failed", "conversation", conv.ID, "error", err)
		conv.Messages = append(conv.Messages, errorTurn())
		notify(r.store, family, conv)
		return fmt.Errorf("commit conversation %s: %w", conv.ID, err)
	}
	notify(r.store, family, conv)
	return nil
}
