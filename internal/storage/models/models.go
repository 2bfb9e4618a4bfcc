package models

import "time"

// DiagnosticRecord is one completed diagnostic run, kept for QA and
// feedback correlation.
type DiagnosticRecord struct {
	ID               string
	SessionID        string
	Query            string
	Intent           string
	IntentMethod     string
	Confidence       float64
	DeviceID         string
	SourcesSucceeded int
	SourcesFailed    int
	Summary          string
	LatencyMS        int
	CreatedAt        time.Time
}

// ConversationMessage is one turn of a chat session.
type ConversationMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Mode      string
	CreatedAt time.Time
}

// Feedback ties a user verdict to a diagnostic run.
type Feedback struct {
	ID            int
	DiagnosticID  string
	Helpful       bool
	IssueCategory string
	Comment       string
	CreatedAt     time.Time
}

// SystemMetric is an ad-hoc measurement row, used by QA scripts that read
// the database directly.
type SystemMetric struct {
	ID          int
	MetricName  string
	MetricValue float64
	Tags        string
	Timestamp   time.Time
}
