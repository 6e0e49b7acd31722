// Package state holds the process-wide conversation state behind a typed
// dispatch/reducer contract. All mutation funnels through Store.Dispatch, one
// action at a time; readers get the pointers the store holds, and the
// component driving a request cycle owns the conversation contents for the
// duration of that cycle.
package state

import (
	"sync"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
)

// Upload is the per-family document-upload slot.
type Upload struct {
	IsFileUploaded   bool
	FileName         string
	Text             string
	IdentifiedTokens []chat.MaskPosition
	Error            string
}

// AppState is the reducer-managed application state. Both conversation
// families live side by side and never share entries.
type AppState struct {
	CurrentChat map[chat.Family]*chat.Conversation
	ChatHistory map[chat.Family][]*chat.Conversation
	DBStatus    api.DBStatus
	Uploads     map[chat.Family]*Upload
	Menus       []api.Menu
	LoggedIn    bool
	Loading     map[chat.Family]bool
}

// Action is one state mutation.
type Action interface {
	apply(*AppState)
}

// Store is the injectable state container.
type Store struct {
	mu    sync.Mutex
	state AppState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: AppState{
		CurrentChat: make(map[chat.Family]*chat.Conversation),
		ChatHistory: make(map[chat.Family][]*chat.Conversation),
		Uploads:     make(map[chat.Family]*Upload),
		Loading:     make(map[chat.Family]bool),
	}}
}

// Dispatch applies one action under the store lock.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.apply(&s.state)
}

// CurrentChat returns the active conversation of a family, nil when none.
func (s *Store) CurrentChat(f chat.Family) *chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentChat[f]
}

// History returns the conversation list of a family.
func (s *Store) History(f chat.Family) []*chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*chat.Conversation(nil), s.state.ChatHistory[f]...)
}

// FindConversation looks a conversation up by id within a family.
func (s *Store) FindConversation(f chat.Family, id string) *chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.ChatHistory[f] {
		if c.ID == id {
			return c
		}
	}
	if c := s.state.CurrentChat[f]; c != nil && c.ID == id {
		return c
	}
	return nil
}

// DBStatus returns the persistence-mode classification.
func (s *Store) DBStatus() api.DBStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DBStatus
}

// Upload returns the upload slot of a family, nil when no document is loaded.
func (s *Store) Upload(f chat.Family) *Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Uploads[f]
}

// Loading reports whether a request cycle is in flight for a family.
func (s *Store) Loading(f chat.Family) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Loading[f]
}

// LoggedIn reports the auth probe outcome.
func (s *Store) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LoggedIn
}

// Menus returns the cached navigation entries.
func (s *Store) Menus() []api.Menu {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Menus
}
