package service

import "regexp"

// Incident descriptions are anonymized before storage: external reports need
// the facts of the incident, not the identities inside it.
var (
	redactEmail   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	redactPhone   = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`)
	redactAddress = regexp.MustCompile(`(?i)\b\d{1,5}\s+[a-z0-9.\s]{2,40}\s(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way)\b\.?`)
	redactName    = regexp.MustCompile(`(?i)\b(my name is|i am|i'm|this is)\s+([A-Z][a-z]+(\s[A-Z][a-z]+)?)`)
)

// RedactPII replaces names, addresses, phone numbers and email addresses with
// typed placeholders.
func RedactPII(text string) string {
	out := redactEmail.ReplaceAllString(text, "[EMAIL]")
	out = redactAddress.ReplaceAllString(out, "[ADDRESS]")
	out = redactPhone.ReplaceAllString(out, "[PHONE]")
	out = redactName.ReplaceAllString(out, "$1 [NAME]")
	return out
}
