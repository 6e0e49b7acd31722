package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCitations(t *testing.T) {
	m := Message{
		Role:    RoleTool,
		Content: `{"citations":[{"content":"body","id":"c1","title":"doc"}],"intent":"lookup"}`,
	}
	cites := ParseCitations(m)
	require.Len(t, cites, 1)
	require.Equal(t, "c1", cites[0].ID)
	require.Equal(t, "doc", cites[0].Title)
}

func TestParseCitationsLenient(t *testing.T) {
	require.Nil(t, ParseCitations(Message{Role: RoleTool, Content: "not json"}))
	require.Nil(t, ParseCitations(Message{Role: RoleAssistant, Content: `{"citations":[]}`}))
}
