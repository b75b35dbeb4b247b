package domain

import (
	"errors"
	"strings"
	"time"
)

// WorkflowStatus is the serving status of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusDisabled WorkflowStatus = "DISABLED"
)

// SourceKind records where a workflow definition came from.
type SourceKind string

const (
	SourceKindDeclared SourceKind = "DECLARED"
	SourceKindManual   SourceKind = "MANUAL"
)

// Schedule is a cron expression evaluated in an IANA timezone.
type Schedule struct {
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// WorkflowDefinition is the local mirror of a declared workflow. Name is the identity.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Owner          string         `json:"owner"`
	Team           string         `json:"team"`
	Description    string         `json:"description"`
	Schedule       Schedule       `json:"schedule"`
	SourceLocation string         `json:"source_location"`
	SourceKind     SourceKind     `json:"source_kind"`
	Status         WorkflowStatus `json:"status"`
	ExternalRef    string         `json:"external_ref"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (d WorkflowDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("workflow name is required")
	}
	switch d.Status {
	case WorkflowStatusActive, WorkflowStatusDisabled:
	default:
		return errors.New("workflow status must be ACTIVE or DISABLED")
	}
	switch d.SourceKind {
	case SourceKindDeclared, SourceKindManual:
	default:
		return errors.New("workflow source kind must be DECLARED or MANUAL")
	}
	return nil
}

// NewDeclaredDefinition builds the record created on the first successful parse of a name.
func NewDeclaredDefinition(id string, incoming WorkflowDefinition, at time.Time) WorkflowDefinition {
	def := incoming
	def.ID = id
	def.Status = WorkflowStatusActive
	def.SourceKind = SourceKindDeclared
	if strings.TrimSpace(def.ExternalRef) == "" {
		def.ExternalRef = def.Name
	}
	def.CreatedAt = at.UTC()
	def.UpdatedAt = at.UTC()
	return def
}

// MergeDefinition overlays document-owned fields from incoming onto existing.
// Identity, origin and timestamps stay with existing and DISABLED is never cleared.
func MergeDefinition(existing, incoming WorkflowDefinition, at time.Time) WorkflowDefinition {
	merged := existing
	merged.Owner = incoming.Owner
	merged.Team = incoming.Team
	merged.Description = incoming.Description
	merged.Schedule = incoming.Schedule
	merged.SourceLocation = incoming.SourceLocation
	if ref := strings.TrimSpace(incoming.ExternalRef); ref != "" {
		merged.ExternalRef = ref
	}
	if strings.TrimSpace(merged.ExternalRef) == "" {
		merged.ExternalRef = merged.Name
	}
	if existing.Status != WorkflowStatusDisabled {
		merged.Status = WorkflowStatusActive
	}
	if merged.SourceKind == "" {
		merged.SourceKind = SourceKindDeclared
	}
	merged.UpdatedAt = at.UTC()
	return merged
}
