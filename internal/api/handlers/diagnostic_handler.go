package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/diagnostic"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/storage/models"
	"github.com/smarthome-agent/backend/internal/storage/sqlite"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type DiagnosticHandler struct {
	workflow   *diagnostic.Workflow
	classifier *intent.Classifier
	db         *sqlite.Client
}

func NewDiagnosticHandler(workflow *diagnostic.Workflow, classifier *intent.Classifier, db *sqlite.Client) *DiagnosticHandler {
	return &DiagnosticHandler{
		workflow:   workflow,
		classifier: classifier,
		db:         db,
	}
}

func (h *DiagnosticHandler) HandleDiagnose(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Query     string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	start := time.Now()
	classification := h.classifier.Classify(c.Context(), req.Query)
	metrics.IntentClassifications.WithLabelValues(string(classification.Intent), classification.Method).Inc()

	report, err := h.workflow.Execute(c.Context(), req.Query, classification)
	elapsed := time.Since(start)
	metrics.DiagnosticDuration.Observe(elapsed.Seconds())

	if err != nil {
		logger.Error("Diagnostic workflow failed",
			zap.String("query", req.Query),
			zap.Error(err))
		if errors.Is(err, diagnostic.ErrAllSourcesFailed) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "No diagnostic data source is available",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run diagnostic",
		})
	}

	metrics.DiagnosticConfidence.Observe(report.Confidence)
	for _, source := range report.Context.FailedSources {
		metrics.DiagnosticSourceFailures.WithLabelValues(source).Inc()
	}

	diagnosticID := uuid.New().String()
	h.persistReport(diagnosticID, req.SessionID, req.Query, classification, report, elapsed)

	return c.JSON(fiber.Map{
		"diagnostic_id":   diagnosticID,
		"intent":          classification.Intent,
		"intent_method":   classification.Method,
		"entities":        classification.Entities,
		"summary":         report.Summary,
		"confidence":      report.Confidence,
		"context":         report.Context,
		"recommendations": report.Recommendations,
		"latency_ms":      elapsed.Milliseconds(),
	})
}

// persistReport is best effort; losing the audit row never fails the request.
func (h *DiagnosticHandler) persistReport(id, sessionID, query string, classification intent.Classification, report *diagnostic.Report, elapsed time.Duration) {
	if h.db == nil {
		return
	}

	deviceID := ""
	if report.Context.Device != nil {
		deviceID = report.Context.Device.ID
	}
	failed := len(report.Context.FailedSources)
	succeeded := 0
	if report.Context.Health != nil {
		succeeded++
	}
	if len(report.Context.RecentEvents) > 0 {
		succeeded++
	}
	if len(report.Context.SimilarDevices) > 0 {
		succeeded++
	}

	record := models.DiagnosticRecord{
		ID:               id,
		SessionID:        sessionID,
		Query:            query,
		Intent:           string(classification.Intent),
		IntentMethod:     classification.Method,
		Confidence:       report.Confidence,
		DeviceID:         deviceID,
		SourcesSucceeded: succeeded,
		SourcesFailed:    failed,
		Summary:          report.Summary,
		LatencyMS:        int(elapsed.Milliseconds()),
		CreatedAt:        time.Now(),
	}
	if err := h.db.InsertDiagnosticRecord(&record); err != nil {
		logger.Warn("Failed to persist diagnostic record",
			zap.String("diagnostic_id", id),
			zap.Error(err))
	}
}

func (h *DiagnosticHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}
	limit := c.QueryInt("limit", 20)

	if h.db == nil {
		return c.JSON(fiber.Map{"diagnostics": []models.DiagnosticRecord{}})
	}

	records, err := h.db.GetDiagnosticHistory(sessionID, limit)
	if err != nil {
		logger.Error("Failed to load diagnostic history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id":  sessionID,
		"diagnostics": records,
	})
}
