package service

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// Detail payloads are a closed, versioned schema per event type so downstream
// consumers never need to duck-type. Every payload carries schema_version.
var auditDetailSchemas = map[string]string{
	models.AuditConsentLifecycle: `{
		"type": "object",
		"required": ["schema_version", "transition"],
		"properties": {
			"schema_version": {"const": "v1"},
			"transition": {"type": "string"},
			"consent_status": {"type": "string"},
			"reason": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.AuditEmergencyContactAccess: `{
		"type": "object",
		"required": ["schema_version"],
		"properties": {
			"schema_version": {"const": "v1"},
			"key_id": {"type": "string"},
			"fields": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	models.AuditIdentityUnmask: `{
		"type": "object",
		"required": ["schema_version", "request_ref"],
		"properties": {
			"schema_version": {"const": "v1"},
			"request_ref": {"type": "string"},
			"urgency": {"type": "string"},
			"approver_ids": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	models.AuditCounselorAction: `{
		"type": "object",
		"required": ["schema_version", "action_kind"],
		"properties": {
			"schema_version": {"const": "v1"},
			"action_kind": {"type": "string"},
			"request_ref": {"type": "string"},
			"urgency": {"type": "string"},
			"justification_present": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	models.AuditMandatoryReport: `{
		"type": "object",
		"required": ["schema_version", "transition"],
		"properties": {
			"schema_version": {"const": "v1"},
			"transition": {"type": "string"},
			"report_type": {"type": "string"},
			"urgency": {"type": "string"},
			"procedure_type": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.AuditNotification: `{
		"type": "object",
		"required": ["schema_version", "channel"],
		"properties": {
			"schema_version": {"const": "v1"},
			"channel": {"type": "string"},
			"delivered": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	models.AuditCrisisDataAccess: `{
		"type": "object",
		"required": ["schema_version"],
		"properties": {
			"schema_version": {"const": "v1"},
			"query": {"type": "string"},
			"result_count": {"type": "integer"},
			"blocked": {"type": "boolean"},
			"consent_status": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

func compileAuditSchemas() (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(auditDetailSchemas))
	for eventType, raw := range auditDetailSchemas {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("mem://audit/%s.json", eventType)
		if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to load schema for %s: %w", eventType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", eventType, err)
		}
		compiled[eventType] = schema
	}
	return compiled, nil
}
