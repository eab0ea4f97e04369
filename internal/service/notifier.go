package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// Notifier is the outbound notification collaborator. Delivery failures are
// observed by callers but, except where noted, do not block the triggering
// state transition.
type Notifier interface {
	NotifyGuardian(ctx context.Context, record models.ConsentRecord, reason string) error
	AlertFailedSubmission(ctx context.Context, report models.SafetyReport, cause string) error
}

const (
	guardianNotifySubject  = "safeguard.consent.guardian"
	submissionAlertSubject = "safeguard.reporting.submission_failed"
)

type guardianNotification struct {
	ConsentRef    string    `json:"consent_ref"`
	StudentID     string    `json:"student_id"`
	GuardianEmail string    `json:"guardian_email"`
	GuardianName  string    `json:"guardian_name"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	SentAt        time.Time `json:"sent_at"`
}

type submissionAlert struct {
	ReportNumber string    `json:"report_number"`
	ReportType   string    `json:"report_type"`
	Urgency      string    `json:"urgency"`
	Cause        string    `json:"cause"`
	RaisedAt     time.Time `json:"raised_at"`
}

type natsNotifier struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSNotifier publishes notification events for the delivery subsystem to
// consume. The actual email/SMS delivery lives outside this service.
func NewNATSNotifier(conn *nats.Conn, logger zerolog.Logger) Notifier {
	return &natsNotifier{
		conn:   conn,
		logger: logger.With().Str("component", "nats_notifier").Logger(),
	}
}

func (n *natsNotifier) NotifyGuardian(_ context.Context, record models.ConsentRecord, reason string) error {
	payload, err := json.Marshal(guardianNotification{
		ConsentRef:    record.ReferenceID,
		StudentID:     record.StudentID,
		GuardianEmail: record.GuardianEmail,
		GuardianName:  record.GuardianName,
		Reason:        reason,
		Status:        record.Status,
		SentAt:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(guardianNotifySubject, payload); err != nil {
		n.logger.Warn().Err(err).Str("consent_ref", record.ReferenceID).Msg("guardian notification publish failed")
		return err
	}
	return nil
}

func (n *natsNotifier) AlertFailedSubmission(_ context.Context, report models.SafetyReport, cause string) error {
	payload, err := json.Marshal(submissionAlert{
		ReportNumber: report.ReportNumber,
		ReportType:   report.ReportType,
		Urgency:      report.Urgency,
		Cause:        cause,
		RaisedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(submissionAlertSubject, payload); err != nil {
		n.logger.Error().Err(err).Str("report_number", report.ReportNumber).Msg("submission failure alert publish failed")
		return err
	}
	return nil
}

type logNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier is the fallback used when no broker is configured.
func NewLogNotifier(logger zerolog.Logger) Notifier {
	return &logNotifier{logger: logger.With().Str("component", "log_notifier").Logger()}
}

func (n *logNotifier) NotifyGuardian(_ context.Context, record models.ConsentRecord, reason string) error {
	n.logger.Info().
		Str("consent_ref", record.ReferenceID).
		Str("guardian_email", record.GuardianEmail).
		Str("reason", reason).
		Msg("guardian notification (log only)")
	return nil
}

func (n *logNotifier) AlertFailedSubmission(_ context.Context, report models.SafetyReport, cause string) error {
	n.logger.Error().
		Str("report_number", report.ReportNumber).
		Str("cause", cause).
		Msg("report submission failure alert (log only)")
	return nil
}
