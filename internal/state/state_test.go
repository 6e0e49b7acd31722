package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
)

func TestUpsertChatHistory(t *testing.T) {
	s := NewStore()
	a := &chat.Conversation{ID: "1", Title: "a"}
	b := &chat.Conversation{ID: "2", Title: "b"}

	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: a})
	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: b})
	require.Len(t, s.History(chat.FamilyPrivate), 2)

	replacement := &chat.Conversation{ID: "1", Title: "a2"}
	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: replacement})
	hist := s.History(chat.FamilyPrivate)
	require.Len(t, hist, 2)
	require.Equal(t, "a2", hist[0].Title)

	// Families are independent.
	require.Empty(t, s.History(chat.FamilyPublic))
}

func TestCurrentChatLifecycle(t *testing.T) {
	s := NewStore()
	c := &chat.Conversation{ID: "1", Messages: []chat.Message{{ID: "m"}}}
	s.Dispatch(UpdateCurrentChat{Family: chat.FamilyPublic, Conversation: c})
	require.Same(t, c, s.CurrentChat(chat.FamilyPublic))
	require.Nil(t, s.CurrentChat(chat.FamilyPrivate))

	s.Dispatch(ClearCurrentMessages{Family: chat.FamilyPublic})
	require.Empty(t, s.CurrentChat(chat.FamilyPublic).Messages)

	s.Dispatch(DeleteCurrentChat{Family: chat.FamilyPublic})
	require.Nil(t, s.CurrentChat(chat.FamilyPublic))
}

func TestDeleteChatEntry(t *testing.T) {
	s := NewStore()
	a := &chat.Conversation{ID: "1"}
	b := &chat.Conversation{ID: "2"}
	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: a})
	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: b})
	s.Dispatch(UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: a})

	s.Dispatch(DeleteChatEntry{Family: chat.FamilyPrivate, ID: "1"})
	hist := s.History(chat.FamilyPrivate)
	require.Len(t, hist, 1)
	require.Equal(t, "2", hist[0].ID)
	require.Nil(t, s.CurrentChat(chat.FamilyPrivate), "deleting the current entry drops it")
}

func TestFindConversation(t *testing.T) {
	s := NewStore()
	a := &chat.Conversation{ID: "1"}
	s.Dispatch(UpsertChatHistory{Family: chat.FamilyPrivate, Conversation: a})
	require.Same(t, a, s.FindConversation(chat.FamilyPrivate, "1"))
	require.Nil(t, s.FindConversation(chat.FamilyPublic, "1"))

	// A current conversation not yet in history is still findable.
	cur := &chat.Conversation{ID: "9"}
	s.Dispatch(UpdateCurrentChat{Family: chat.FamilyPrivate, Conversation: cur})
	require.Same(t, cur, s.FindConversation(chat.FamilyPrivate, "9"))
}

func TestStatusAndUploadSlots(t *testing.T) {
	s := NewStore()
	s.Dispatch(SetDBStatus{Status: api.DBStatus{Available: true, Status: api.StatusWorking}})
	require.True(t, s.DBStatus().Working())

	s.Dispatch(SetUpload{Family: chat.FamilyPrivate, Upload: &Upload{IsFileUploaded: true, FileName: "doc.pdf"}})
	require.True(t, s.Upload(chat.FamilyPrivate).IsFileUploaded)
	require.Nil(t, s.Upload(chat.FamilyPublic))

	s.Dispatch(ClearUpload{Family: chat.FamilyPrivate})
	require.Nil(t, s.Upload(chat.FamilyPrivate))

	s.Dispatch(SetLoading{Family: chat.FamilyPublic, Loading: true})
	require.True(t, s.Loading(chat.FamilyPublic))
	require.False(t, s.Loading(chat.FamilyPrivate))
}
