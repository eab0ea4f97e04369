package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// NewHTTPSubmitter posts mandatory reports to the external reporting
// endpoint. Non-2xx responses are errors so the retry loop can engage.
func NewHTTPSubmitter(endpoint string, client *http.Client, logger zerolog.Logger) Submitter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	submitLogger := logger.With().Str("component", "report_submitter").Logger()

	return SubmitterFunc(func(ctx context.Context, report models.SafetyReport) error {
		payload, err := json.Marshal(map[string]interface{}{
			"report_number": report.ReportNumber,
			"report_type":   report.ReportType,
			"urgency":       report.Urgency,
			"description":   report.Description,
			"created_at":    report.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build submission request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("submit report %s: %w", report.ReportNumber, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("submit report %s: authority endpoint returned %d", report.ReportNumber, resp.StatusCode)
		}

		submitLogger.Info().Str("report_number", report.ReportNumber).Msg("report delivered to authority endpoint")
		return nil
	})
}

// NewLogSubmitter records submissions in the log only. It stands in when no
// authority endpoint is configured, e.g. in development.
func NewLogSubmitter(logger zerolog.Logger) Submitter {
	submitLogger := logger.With().Str("component", "report_submitter").Logger()
	return SubmitterFunc(func(_ context.Context, report models.SafetyReport) error {
		submitLogger.Warn().
			Str("report_number", report.ReportNumber).
			Str("report_type", report.ReportType).
			Str("urgency", report.Urgency).
			Msg("no authority endpoint configured, report logged only")
		return nil
	})
}
