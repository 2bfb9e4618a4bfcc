package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/storage/models"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS diagnostics (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		query_text TEXT NOT NULL,
		intent TEXT,
		intent_method TEXT,
		confidence REAL,
		device_id TEXT,
		sources_succeeded INTEGER DEFAULT 0,
		sources_failed INTEGER DEFAULT 0,
		summary TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_session ON diagnostics(session_id);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_device ON diagnostics(device_id);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_created ON diagnostics(created_at);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		mode TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON conversation_messages(created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		diagnostic_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		issue_category TEXT,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (diagnostic_id) REFERENCES diagnostics(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_diagnostic ON feedback(diagnostic_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);

	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL,
		tags TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_name ON system_metrics(metric_name);
	CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON system_metrics(timestamp);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDiagnosticRecord(record *models.DiagnosticRecord) error {
	query := `
		INSERT INTO diagnostics (id, session_id, query_text, intent, intent_method, confidence,
			device_id, sources_succeeded, sources_failed, summary, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.SessionID,
		record.Query,
		record.Intent,
		record.IntentMethod,
		record.Confidence,
		record.DeviceID,
		record.SourcesSucceeded,
		record.SourcesFailed,
		record.Summary,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert diagnostic record: %w", err)
	}

	logger.Info("Diagnostic recorded",
		zap.String("diagnostic_id", record.ID),
		zap.String("intent", record.Intent),
		zap.Float64("confidence", record.Confidence),
	)

	return nil
}

func (c *Client) GetDiagnosticRecord(id string) (*models.DiagnosticRecord, error) {
	query := `
		SELECT id, session_id, query_text, intent, intent_method, confidence,
			device_id, sources_succeeded, sources_failed, summary, latency_ms, created_at
		FROM diagnostics WHERE id = ?
	`

	var r models.DiagnosticRecord
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&r.ID,
		&r.SessionID,
		&r.Query,
		&r.Intent,
		&r.IntentMethod,
		&r.Confidence,
		&r.DeviceID,
		&r.SourcesSucceeded,
		&r.SourcesFailed,
		&r.Summary,
		&r.LatencyMS,
		&createdAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostic record: %w", err)
	}

	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

func (c *Client) GetDiagnosticHistory(sessionID string, limit int) ([]models.DiagnosticRecord, error) {
	query := `
		SELECT id, query_text, intent, intent_method, confidence, summary, created_at
		FROM diagnostics
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostic history: %w", err)
	}
	defer rows.Close()

	var records []models.DiagnosticRecord
	for rows.Next() {
		var r models.DiagnosticRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Query, &r.Intent, &r.IntentMethod, &r.Confidence, &r.Summary, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.SessionID = sessionID
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, nil
}

func (c *Client) InsertConversationMessage(msg *models.ConversationMessage) error {
	query := `
		INSERT INTO conversation_messages (id, session_id, role, content, mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		msg.ID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		msg.Mode,
		msg.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}

	return nil
}

func (c *Client) GetConversation(sessionID string, limit int) ([]models.ConversationMessage, error) {
	query := `
		SELECT id, role, content, mode, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := c.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var createdAt int64

		err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Mode, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.SessionID = sessionID
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}

	return messages, nil
}

func (c *Client) StoreFeedback(feedback *models.Feedback) error {
	query := `INSERT INTO feedback (diagnostic_id, helpful, issue_category, comment, created_at) VALUES (?, ?, ?, ?, ?)`

	helpful := 0
	if feedback.Helpful {
		helpful = 1
	}

	_, err := c.db.Exec(
		query,
		feedback.DiagnosticID,
		helpful,
		feedback.IssueCategory,
		feedback.Comment,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("diagnostic_id", feedback.DiagnosticID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}

func (c *Client) RecordMetric(name string, value float64, tags map[string]string) error {
	tagsJSON, _ := json.Marshal(tags)

	query := `INSERT INTO system_metrics (metric_name, metric_value, tags, timestamp) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, name, value, string(tagsJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}

	return nil
}
