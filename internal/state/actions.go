package state

import (
	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
)

// UpdateCurrentChat replaces the active conversation of a family. A nil
// conversation clears it.
type UpdateCurrentChat struct {
	Family       chat.Family
	Conversation *chat.Conversation
}

func (a UpdateCurrentChat) apply(s *AppState) {
	if a.Conversation == nil {
		delete(s.CurrentChat, a.Family)
		return
	}
	s.CurrentChat[a.Family] = a.Conversation
}

// UpsertChatHistory inserts the conversation into the family's history list,
// or replaces the entry with a matching id.
type UpsertChatHistory struct {
	Family       chat.Family
	Conversation *chat.Conversation
}

func (a UpsertChatHistory) apply(s *AppState) {
	if a.Conversation == nil {
		return
	}
	list := s.ChatHistory[a.Family]
	for i, c := range list {
		if c.ID == a.Conversation.ID {
			list[i] = a.Conversation
			return
		}
	}
	s.ChatHistory[a.Family] = append(list, a.Conversation)
}

// DeleteChatEntry removes one conversation from a family's history list and
// drops it as current.
type DeleteChatEntry struct {
	Family chat.Family
	ID     string
}

func (a DeleteChatEntry) apply(s *AppState) {
	list := s.ChatHistory[a.Family]
	kept := list[:0]
	for _, c := range list {
		if c.ID != a.ID {
			kept = append(kept, c)
		}
	}
	s.ChatHistory[a.Family] = kept
	if cur := s.CurrentChat[a.Family]; cur != nil && cur.ID == a.ID {
		delete(s.CurrentChat, a.Family)
	}
}

// DeleteChatHistory clears a family's history list and current conversation.
type DeleteChatHistory struct {
	Family chat.Family
}

func (a DeleteChatHistory) apply(s *AppState) {
	s.ChatHistory[a.Family] = nil
	delete(s.CurrentChat, a.Family)
}

// ClearCurrentMessages empties the active conversation's turns but keeps the
// conversation itself.
type ClearCurrentMessages struct {
	Family chat.Family
}

func (a ClearCurrentMessages) apply(s *AppState) {
	if cur := s.CurrentChat[a.Family]; cur != nil {
		cur.Messages = nil
	}
}

// DeleteCurrentChat discards the active conversation without touching history.
type DeleteCurrentChat struct {
	Family chat.Family
}

func (a DeleteCurrentChat) apply(s *AppState) {
	delete(s.CurrentChat, a.Family)
}

// SetDBStatus records the persistence-mode classification.
type SetDBStatus struct {
	Status api.DBStatus
}

func (a SetDBStatus) apply(s *AppState) {
	s.DBStatus = a.Status
}

// SetUpload fills or replaces a family's upload slot.
type SetUpload struct {
	Family chat.Family
	Upload *Upload
}

func (a SetUpload) apply(s *AppState) {
	s.Uploads[a.Family] = a.Upload
}

// ClearUpload empties a family's upload slot.
type ClearUpload struct {
	Family chat.Family
}

func (a ClearUpload) apply(s *AppState) {
	delete(s.Uploads, a.Family)
}

// SetLoading flips the in-flight indicator of a family.
type SetLoading struct {
	Family  chat.Family
	Loading bool
}

func (a SetLoading) apply(s *AppState) {
	s.Loading[a.Family] = a.Loading
}

// SetMenus caches the navigation entries.
type SetMenus struct {
	Menus []api.Menu
}

func (a SetMenus) apply(s *AppState) {
	s.Menus = a.Menus
}

// SetLoggedIn records a successful identity probe.
type SetLoggedIn struct{}

func (a SetLoggedIn) apply(s *AppState) {
	s.LoggedIn = true
}
