package models

import "time"

// RetrievalRun is one persisted retrieval cycle.
type RetrievalRun struct {
	ID                string    `db:"id" json:"id"`
	Question          string    `db:"question" json:"question"`
	QuestionID        string    `db:"question_id" json:"question_id,omitempty"`
	Intent            string    `db:"intent" json:"intent"`
	Confidence        string    `db:"confidence" json:"confidence"`
	RouteSource       string    `db:"route_source" json:"route_source"`
	Status            string    `db:"status" json:"status"`
	DispatchMode      string    `db:"dispatch_mode" json:"dispatch_mode"`
	FallbackUsed      bool      `db:"fallback_used" json:"fallback_used"`
	FallbackReason    string    `db:"fallback_reason" json:"fallback_reason,omitempty"`
	InvokedAgentCount int       `db:"invoked_agent_count" json:"invoked_agent_count"`
	LatencyMS         int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// AgentRunRecord is one AgentRun of a RetrievalRun.
type AgentRunRecord struct {
	RunID      string `db:"run_id"`
	Seq        int    `db:"seq"`
	Agent      string `db:"agent"`
	Branch     string `db:"branch"`
	Status     string `db:"status"`
	Reason     string `db:"reason"`
	TemplateID string `db:"template_id"`
	TableName  string `db:"table_name"`
	RowCount   *int   `db:"row_count"`
	DurationMS int64  `db:"duration_ms"`
	Fallback   bool   `db:"fallback"`
}
