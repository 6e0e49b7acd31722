// Package reconciler orchestrates one request/response/persist cycle per user
// turn: it issues the generation request, drives the stream decoder over the
// body, merges deltas into the conversation, and recovers from partial
// failures. Every recoverable failure is absorbed here, resolving either to a
// fixed-text error turn or to a silently discarded partial turn (cancellation).
package reconciler

import (
	"context"
	"net/http"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/history"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/state"
)

// Processing status of a conversation family.
type ProcessingState stateless.State

var (
	StateNotRunning ProcessingState = "NotRunning"
	StateProcessing ProcessingState = "Processing"
	StateDone       ProcessingState = "Done"
)

type processingTrigger stateless.Trigger

var (
	triggerChunkReceived  processingTrigger = "ChunkReceived"
	triggerCycleFinished  processingTrigger = "CycleFinished"
	triggerFlushCompleted processingTrigger = "FlushCompleted"
)

// Backend is the slice of the API client the reconciler drives.
type Backend interface {
	Generate(ctx context.Context, req api.GenerateRequest) (*http.Response, error)
}

// Reconciler runs request cycles for one conversation family. The two
// families share mechanics and differ only in the filter tag and the state
// slice they target, so the same type is instantiated twice.
type Reconciler struct {
	family  chat.Family
	backend Backend
	adapter history.Adapter
	store   *state.Store

	// OnDelta, when set, observes every streamed message delta as it lands.
	OnDelta func(chat.Message)

	// newID and now are overridable for tests.
	newID func() string
	now   func() string

	mu      sync.Mutex
	nextTok uint64
	cancels []cancelEntry
	pending *chat.Conversation

	fsm *stateless.StateMachine
}

// cancelEntry is one in-flight request's abort handle on the stack.
type cancelEntry struct {
	tok    uint64
	cancel context.CancelFunc
}

// New wires a reconciler for one family. The state container is injected
// rather than ambient so each family can be tested in isolation.
func New(family chat.Family, backend Backend, adapter history.Adapter, store *state.Store) *Reconciler {
	r := &Reconciler{
		family:  family,
		backend: backend,
		adapter: adapter,
		store:   store,
		newID:   chat.NewID,
		now:     chat.Now,
	}

	// Processing is entered on the first streamed chunk; Done is entered in
	// the cycle's finally path and performs the persistence flush; flush
	// completion returns the machine to NotRunning. One cycle drives the
	// machine at a time per family.
	sm := stateless.NewStateMachine(StateNotRunning)
	sm.Configure(StateNotRunning).
		Permit(triggerChunkReceived, StateProcessing).
		Permit(triggerCycleFinished, StateDone)
	sm.Configure(StateProcessing).
		PermitReentry(triggerChunkReceived).
		Permit(triggerCycleFinished, StateDone)
	sm.Configure(StateDone).
		OnEntry(func(ctx context.Context, args ...any) error {
			r.flush(ctx)
			return sm.FireCtx(ctx, triggerFlushCompleted)
		}).
		Permit(triggerFlushCompleted, StateNotRunning)
	r.fsm = sm

	return r
}

// Family returns the conversation family this reconciler serves.
func (r *Reconciler) Family() chat.Family {
	return r.family
}

// Status returns the current processing state.
func (r *Reconciler) Status() ProcessingState {
	return r.fsm.MustState().(ProcessingState)
}

func (r *Reconciler) fire(ctx context.Context, trigger processingTrigger) {
	if err := r.fsm.FireCtx(ctx, trigger); err != nil {
		logger.L.Warn("processing state machine fire error", "family", r.family, "trigger", trigger, "error", err)
	}
}

// pushCancel puts an abort handle on top of the in-flight stack and returns
// its removal token.
func (r *Reconciler) pushCancel(cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTok++
	r.cancels = append([]cancelEntry{{tok: r.nextTok, cancel: cancel}}, r.cancels...)
	return r.nextTok
}

func (r *Reconciler) removeCancel(tok uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.cancels[:0]
	for _, e := range r.cancels {
		if e.tok != tok {
			kept = append(kept, e)
		}
	}
	r.cancels = kept
}

// Stop aborts every in-flight request of this family. Cancellation is
// cooperative: no error turn is synthesized for an aborted cycle.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()
	for _, e := range cancels {
		e.cancel()
	}
	r.store.Dispatch(state.SetLoading{Family: r.family, Loading: false})
}

// setPending schedules the conversation for a persistence commit on the next
// flush.
func (r *Reconciler) setPending(conv *chat.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = conv
}

func (r *Reconciler) takePending() *chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv := r.pending
	r.pending = nil
	return conv
}

// flush runs on entry to Done: commit the pending conversation through the
// persistence adapter and refresh the history projection either way.
func (r *Reconciler) flush(ctx context.Context) {
	if conv := r.takePending(); conv != nil {
		if err := r.adapter.Commit(ctx, r.family, conv); err != nil {
			logger.L.Error("persistence commit failed", "family", r.family, "conversation", conv.ID, "error", err)
		}
		return
	}
	if cur := r.store.CurrentChat(r.family); cur != nil {
		r.store.Dispatch(state.UpsertChatHistory{Family: r.family, Conversation: cur})
	}
}

// updateConversation applies the passive duplicate-error collapse and
// publishes the conversation as current. Runs after every message-list
// mutation.
func (r *Reconciler) updateConversation(conv *chat.Conversation) {
	conv.Messages = chat.CollapseErrors(conv.Messages)
	r.store.Dispatch(state.UpdateCurrentChat{Family: r.family, Conversation: conv})
}

// recordError appends the fixed-text error turn.
func (r *Reconciler) recordError(conv *chat.Conversation) {
	conv.Messages = append(conv.Messages, chat.NewErrorMessage(r.newID(), r.now()))
	r.updateConversation(conv)
}

func indexOf(messages []chat.Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}

// truncateAfter drops everything streamed after the user turn, keeping the
// turn itself exactly once. Used on cancellation.
func (r *Reconciler) truncateAfter(conv *chat.Conversation, userID string) {
	if i := indexOf(conv.Messages, userID); i >= 0 {
		conv.Messages = conv.Messages[:i+1]
	}
	r.updateConversation(conv)
}
