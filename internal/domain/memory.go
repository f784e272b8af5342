package domain

import "time"

// MemoryRecord: запись агента памяти (save_timestamped_memory).
type MemoryRecord struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	Type       string                 `json:"type"`
	Content    map[string]interface{} `json:"content"`
	Importance string                 `json:"importance"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// MemoryQuery: параметры get_recent_memories. Пустой Type означает любой тип.
type MemoryQuery struct {
	AgentID  string
	Type     string
	Limit    int
	DaysBack int
}
