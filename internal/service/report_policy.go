package service

import (
	"strings"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// PolicyRule maps a keyword category to a report classification. The table is
// data, not code, so reviewers and deployments can adjust it without touching
// the evaluator.
type PolicyRule struct {
	Keywords   []string `mapstructure:"keywords" json:"keywords"`
	ReportType string   `mapstructure:"report_type" json:"report_type"`
	Urgency    string   `mapstructure:"urgency" json:"urgency"`
}

// ReportPolicy is the ordered rule table consulted by Evaluate. Earlier rules
// win, so the most severe categories come first.
type ReportPolicy []PolicyRule

// DefaultReportPolicy is the built-in rule table. Deployments may replace it
// via configuration.
func DefaultReportPolicy() ReportPolicy {
	return ReportPolicy{
		{
			Keywords:   []string{"kill myself", "suicide", "end my life", "hurt myself", "weapon at school", "going to hurt"},
			ReportType: models.ReportTypeImminentDanger,
			Urgency:    models.UrgencyEmergency,
		},
		{
			Keywords:   []string{"touches me", "touched me", "inappropriate photos", "asked for pictures", "online stranger"},
			ReportType: models.ReportTypeExploitation,
			Urgency:    models.UrgencyUrgent,
		},
		{
			Keywords:   []string{"hits me", "beats me", "bruises", "afraid to go home", "locked me in"},
			ReportType: models.ReportTypeChildAbuse,
			Urgency:    models.UrgencyUrgent,
		},
		{
			Keywords:   []string{"no food at home", "left alone for days", "nobody takes care", "no clean clothes"},
			ReportType: models.ReportTypeNeglect,
			Urgency:    models.UrgencyRoutine,
		},
	}
}

// Evaluate classifies a crisis signal against the rule table. A "crisis"
// safety level or any imminent-danger keyword always yields emergency
// urgency and mandatory reporting.
func (p ReportPolicy) Evaluate(content, safetyLevel string) dto.SignalEvaluation {
	normalized := strings.ToLower(content)

	for _, rule := range p {
		for _, keyword := range rule.Keywords {
			if strings.Contains(normalized, keyword) {
				urgency := rule.Urgency
				if safetyLevel == "crisis" {
					urgency = models.UrgencyEmergency
				}
				return dto.SignalEvaluation{
					Required:   true,
					ReportType: rule.ReportType,
					Urgency:    urgency,
				}
			}
		}
	}

	if safetyLevel == "crisis" {
		return dto.SignalEvaluation{
			Required:   true,
			ReportType: models.ReportTypeImminentDanger,
			Urgency:    models.UrgencyEmergency,
		}
	}

	return dto.SignalEvaluation{Required: false}
}
