package chat

import "encoding/json"

// Citation is one grounding reference carried inside a tool turn's payload.
type Citation struct {
	Content   string `json:"content"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Filepath  string `json:"filepath"`
	URL       string `json:"url"`
	Metadata  string `json:"metadata"`
	ChunkID   string `json:"chunk_id"`
	ReindexID string `json:"reindex_id"`
}

type toolPayload struct {
	Citations []Citation `json:"citations"`
	Intent    string     `json:"intent"`
}

// ParseCitations decodes the citation payload of a tool turn. Any other role
// or a malformed payload yields nil.
func ParseCitations(m Message) []Citation {
	if m.Role != RoleTool {
		return nil
	}
	var p toolPayload
	if err := json.Unmarshal([]byte(m.Content), &p); err != nil {
		return nil
	}
	return p.Citations
}
