package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/state"
)

type fakeBackend struct {
	status   int
	body     string
	err      error
	requests []api.GenerateRequest
}

func (f *fakeBackend) Generate(ctx context.Context, req api.GenerateRequest) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

type fakeAdapter struct {
	commits []*chat.Conversation
	err     error
}

func (f *fakeAdapter) Commit(ctx context.Context, family chat.Family, conv *chat.Conversation) error {
	f.commits = append(f.commits, conv)
	return f.err
}

func newTestReconciler(t *testing.T, backend Backend) (*Reconciler, *state.Store, *fakeAdapter) {
	t.Helper()
	store := state.NewStore()
	adapter := &fakeAdapter{}
	r := New(chat.FamilyPrivate, backend, adapter, store)
	ids := 0
	r.newID = func() string { ids++; return fmt.Sprintf("id-%d", ids) }
	ticks := 0
	r.now = func() string { ticks++; return fmt.Sprintf("2024-06-01T00:00:%02dZ", ticks) }
	return r, store, adapter
}

func assistantObject(content string) string {
	return `{"history_metadata":{"conversation_id":"srv-conv","title":"Server Title","date":"2024-06-02T00:00:00Z"},` +
		`"choices":[{"messages":[{"role":"assistant","content":"` + content + `"}]}]}` + "\n"
}

func TestSendNewConversationServerError(t *testing.T) {
	backend := &fakeBackend{status: http.StatusInternalServerError, body: "ignored"}
	r, store, adapter := newTestReconciler(t, backend)

	r.Send(context.Background(), "Hello", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.NotNil(t, conv, "a conversation exists even though the call failed")
	require.Equal(t, chat.DefaultTitle, conv.Title)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, chat.RoleUser, conv.Messages[0].Role)
	require.Equal(t, "Hello", conv.Messages[0].Content)
	require.Equal(t, chat.RoleError, conv.Messages[1].Role)
	require.Equal(t, chat.ErrorText, conv.Messages[1].Content)

	require.Empty(t, adapter.commits, "no persistence commit beyond the recorded error turn")
	require.Equal(t, StateNotRunning, r.Status())
	require.False(t, store.Loading(chat.FamilyPrivate))
}

func TestSendStreamsTwoObjects(t *testing.T) {
	prior := &chat.Conversation{
		ID:       "conv-1",
		Title:    "existing",
		Messages: []chat.Message{{ID: "old-a", Role: chat.RoleAssistant, Content: "earlier", Date: "2024-01-01T00:00:00Z"}},
	}
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("first") + assistantObject("second")}
	r, store, adapter := newTestReconciler(t, backend)
	store.Dispatch(state.UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: prior})
	store.Dispatch(state.UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: prior})

	var streamed []string
	r.OnDelta = func(m chat.Message) { streamed = append(streamed, m.Content) }

	r.Send(context.Background(), "Hello", "conv-1")

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.Len(t, conv.Messages, 4)
	require.Equal(t, "earlier", conv.Messages[0].Content)
	require.Equal(t, "Hello", conv.Messages[1].Content)
	require.Equal(t, "first", conv.Messages[2].Content)
	require.Equal(t, "second", conv.Messages[3].Content)
	require.Equal(t, []string{"first", "second"}, streamed)

	// Deltas were re-stamped client-side.
	require.NotEmpty(t, conv.Messages[2].ID)
	require.NotEmpty(t, conv.Messages[2].Date)
	require.NotEqual(t, conv.Messages[2].ID, conv.Messages[3].ID)

	// Existing identity is kept; server metadata does not displace it.
	require.Equal(t, "conv-1", conv.ID)
	require.Equal(t, "existing", conv.Title)

	require.Len(t, adapter.commits, 1)
	require.Same(t, conv, adapter.commits[0])
	require.Equal(t, StateNotRunning, r.Status())
}

func TestSendAdoptsServerIdentityForNewConversation(t *testing.T) {
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("answer")}
	r, store, adapter := newTestReconciler(t, backend)

	r.Send(context.Background(), "Hello", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.Equal(t, "srv-conv", conv.ID)
	require.Equal(t, "Server Title", conv.Title)
	require.Equal(t, "2024-06-02T00:00:00Z", conv.Date)
	require.Equal(t, "srv-conv", conv.Messages[0].ConversationID)
	require.Len(t, adapter.commits, 1)

	// The request itself carried no conversation id.
	require.Empty(t, backend.requests[0].ConversationID)
	require.Equal(t, "private", backend.requests[0].Filter)
}

func TestSendAbortDiscardsPartialTurn(t *testing.T) {
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("partial") + assistantObject("never")}
	r, store, adapter := newTestReconciler(t, backend)

	r.OnDelta = func(chat.Message) { r.Stop() }
	r.Send(context.Background(), "Hello", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.NotNil(t, conv)
	users := 0
	for _, m := range conv.Messages {
		require.NotEqual(t, chat.RoleError, m.Role, "cancellation must not synthesize an error turn")
		if m.Role == chat.RoleUser {
			users++
		}
	}
	require.Equal(t, 1, users, "the user turn remains exactly once")
	require.Len(t, conv.Messages, 1, "streamed partials are discarded")
	require.Empty(t, adapter.commits)
	require.Equal(t, StateNotRunning, r.Status())
}

func TestStopFromAnotherGoroutineAbortsSend(t *testing.T) {
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("partial")}
	r, store, adapter := newTestReconciler(t, backend)

	firstDelta := make(chan struct{})
	resume := make(chan struct{})
	r.OnDelta = func(chat.Message) {
		firstDelta <- struct{}{}
		<-resume
	}

	done := make(chan struct{})
	go func() {
		r.Send(context.Background(), "Hello", "")
		close(done)
	}()

	<-firstDelta
	r.Stop()
	close(resume)
	<-done

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.Len(t, conv.Messages, 1, "partial turn discarded")
	require.Equal(t, chat.RoleUser, conv.Messages[0].Role)
	require.Empty(t, adapter.commits)
	require.Equal(t, StateNotRunning, r.Status())
	require.False(t, store.Loading(chat.FamilyPrivate))
}

func TestSendTransportErrorCommitsErrorTurn(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection reset")}
	r, store, adapter := newTestReconciler(t, backend)

	r.Send(context.Background(), "Hello", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.Equal(t, chat.RoleError, conv.Messages[len(conv.Messages)-1].Role)
	require.Len(t, adapter.commits, 1, "a transport failure is committed so the turn is not lost")
}

func TestSendFiltersErrorTurnsFromRequest(t *testing.T) {
	prior := &chat.Conversation{
		ID: "conv-1",
		Messages: []chat.Message{
			{ID: "u0", Role: chat.RoleUser, Content: "before", Date: "1"},
			{ID: "e0", Role: chat.RoleError, Content: chat.ErrorText, Date: "2"},
		},
	}
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("ok")}
	r, store, _ := newTestReconciler(t, backend)
	store.Dispatch(state.UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: prior})

	r.Send(context.Background(), "Hello", "conv-1")

	require.Len(t, backend.requests, 1)
	for _, m := range backend.requests[0].Messages {
		require.NotEqual(t, chat.RoleError, m.Role, "error turns are never replayed upstream")
	}
}

func TestRegeneratePreservesUserTurnID(t *testing.T) {
	prior := &chat.Conversation{
		ID: "conv-1",
		Messages: []chat.Message{
			{ID: "Q", Role: chat.RoleUser, Content: "X", Date: "2024-01-01T00:00:00Z"},
			{ID: "e1", Role: chat.RoleError, Content: chat.ErrorText, Date: "2024-01-01T00:00:01Z"},
			{ID: "e2", Role: chat.RoleError, Content: chat.ErrorText, Date: "2024-01-01T00:00:02Z"},
		},
	}
	backend := &fakeBackend{status: http.StatusOK, body: assistantObject("reply")}
	r, store, _ := newTestReconciler(t, backend)
	store.Dispatch(state.UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: prior})
	store.Dispatch(state.UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: prior})

	require.True(t, r.Regenerate(context.Background()))

	// The request carried exactly one copy of the user turn and no errors.
	require.Len(t, backend.requests, 1)
	req := backend.requests[0].Messages
	require.Len(t, req, 1)
	require.Equal(t, "Q", req[0].ID)
	require.Equal(t, "X", req[0].Content)

	conv := store.CurrentChat(chat.FamilyPrivate)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "Q", conv.Messages[0].ID, "regenerated turn supersedes, not duplicates")
	require.Equal(t, chat.RoleAssistant, conv.Messages[1].Role)
	require.Equal(t, "reply", conv.Messages[1].Content)
}

func TestRegenerateWithoutErrorTail(t *testing.T) {
	backend := &fakeBackend{}
	r, store, _ := newTestReconciler(t, backend)
	require.False(t, r.Regenerate(context.Background()), "no conversation")

	store.Dispatch(state.UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: &chat.Conversation{
		ID:       "c",
		Messages: []chat.Message{{ID: "u", Role: chat.RoleUser}, {ID: "a", Role: chat.RoleAssistant}},
	}})
	require.False(t, r.Regenerate(context.Background()), "healthy tail")
	require.Empty(t, backend.requests)
}

func TestSendBackendReportedError(t *testing.T) {
	backend := &fakeBackend{status: http.StatusOK, body: `{"error":"model overloaded"}` + "\n"}
	r, store, adapter := newTestReconciler(t, backend)

	r.Send(context.Background(), "Hello", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	last := conv.Messages[len(conv.Messages)-1]
	require.Equal(t, chat.RoleError, last.Role)
	require.Equal(t, chat.ErrorText, last.Content, "user sees the fixed text, not the raw backend error")
	require.Len(t, adapter.commits, 1)
}

func TestSendLiftsPrivacyAnnotationsOntoUserTurn(t *testing.T) {
	body := `{"history_metadata":{"conversation_id":"srv-conv","title":"t","date":"d"},` +
		`"choices":[{"messages":[{"role":"assistant","content":"hi",` +
		`"identified_pii":["name"],"masked_content_user":"ask about [NAME]","identified_tokens":[{"key":"[NAME]"}]}]}]}` + "\n"
	backend := &fakeBackend{status: http.StatusOK, body: body}
	r, store, _ := newTestReconciler(t, backend)

	r.Send(context.Background(), "ask about Ada", "")

	conv := store.CurrentChat(chat.FamilyPrivate)
	user := conv.Messages[0]
	require.Equal(t, chat.RoleUser, user.Role)
	require.Equal(t, "ask about [NAME]", user.MaskedContentUser)
	require.Equal(t, []chat.MaskPosition{{Key: "[NAME]"}}, user.IdentifiedTokens)
}

func TestSeedDocument(t *testing.T) {
	r, store, _ := newTestReconciler(t, &fakeBackend{})

	conv := r.SeedDocument("extracted text", "doc.pdf", []chat.MaskPosition{{Key: "[NAME]"}})
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 1)
	require.True(t, conv.Messages[0].IsFileContent)
	require.Equal(t, "extracted text", conv.Messages[0].Content)
	require.NotEqual(t, conv.Messages[0].Content, conv.Messages[0].Display())

	upload := store.Upload(chat.FamilyPrivate)
	require.NotNil(t, upload)
	require.True(t, upload.IsFileUploaded)

	// Seeding again does not duplicate the file turn.
	again := r.SeedDocument("extracted text", "doc.pdf", nil)
	require.Same(t, conv, again)
	require.Len(t, again.Messages, 1)
}

func TestNewChatDiscardsConversation(t *testing.T) {
	r, store, _ := newTestReconciler(t, &fakeBackend{status: http.StatusInternalServerError})
	r.Send(context.Background(), "Hello", "")
	require.NotNil(t, store.CurrentChat(chat.FamilyPrivate))

	r.NewChat()
	require.Nil(t, store.CurrentChat(chat.FamilyPrivate))
	require.Nil(t, store.Upload(chat.FamilyPrivate))
}
