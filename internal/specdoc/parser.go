// Package specdoc parses declarative workflow documents.
package specdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/reconcile"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const SchemaV1 = "flowsync.workflow.v1"

const maxNameLength = 200

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Document is the on-disk shape of a workflow definition.
type Document struct {
	Schema      string           `yaml:"schema,omitempty"`
	Name        string           `yaml:"name"`
	Owner       string           `yaml:"owner"`
	Team        string           `yaml:"team,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Schedule    DocumentSchedule `yaml:"schedule,omitempty"`
	ExternalRef string           `yaml:"external_ref,omitempty"`
	DagID       string           `yaml:"dag_id,omitempty"`
}

type DocumentSchedule struct {
	Cron     string `yaml:"cron,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
}

// ParsedSpec is a validated document.
type ParsedSpec struct {
	Name        string
	Owner       string
	Team        string
	Description string
	Schedule    domain.Schedule
	ExternalRef string
}

// Definition converts the parsed document into the incoming side of a merge.
func (p ParsedSpec) Definition(location string) domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		Name:           p.Name,
		Owner:          p.Owner,
		Team:           p.Team,
		Description:    p.Description,
		Schedule:       p.Schedule,
		SourceLocation: location,
		ExternalRef:    p.ExternalRef,
	}
}

// Parser decodes YAML documents. The zero value is ready to use.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse never panics on malformed input. Unreadable content is a PARSE_ERROR;
// readable content that breaks a rule is a VALIDATION_ERROR carrying every issue.
func (p *Parser) Parse(content []byte) (ParsedSpec, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return ParsedSpec{}, reconcile.Validation("validate document", &ValidationError{Issues: []string{"document is empty"}})
		}
		return ParsedSpec{}, reconcile.Parse("decode document", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return ParsedSpec{}, reconcile.Validation("validate document", &ValidationError{Issues: []string{"expected exactly one YAML document"}})
	} else if !errors.Is(err, io.EOF) {
		return ParsedSpec{}, reconcile.Parse("decode document", err)
	}

	spec, err := doc.validate()
	if err != nil {
		return ParsedSpec{}, reconcile.Validation("validate document", err)
	}
	return spec, nil
}

func (d Document) validate() (ParsedSpec, error) {
	verr := &ValidationError{}

	if schema := strings.TrimSpace(d.Schema); schema != "" && schema != SchemaV1 {
		verr.Add(fmt.Sprintf("unsupported schema %q", schema))
	}

	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		verr.Add("name is required")
	case len(name) > maxNameLength:
		verr.Add(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	case !namePattern.MatchString(name):
		verr.Add(fmt.Sprintf("name %q may only contain letters, digits, '_', '.' and '-'", name))
	}

	owner := strings.TrimSpace(d.Owner)
	if owner == "" {
		verr.Add("owner is required")
	}

	ref := strings.TrimSpace(d.ExternalRef)
	dagID := strings.TrimSpace(d.DagID)
	if ref != "" && dagID != "" && ref != dagID {
		verr.Add("external_ref and dag_id disagree")
	}
	if ref == "" {
		ref = dagID
	}

	schedule := domain.Schedule{
		Cron:     strings.TrimSpace(d.Schedule.Cron),
		Timezone: strings.TrimSpace(d.Schedule.Timezone),
	}
	if schedule.Cron == "" && schedule.Timezone != "" {
		verr.Add("schedule.timezone requires schedule.cron")
	}
	if schedule.Cron != "" {
		if _, err := cronParser.Parse(schedule.Cron); err != nil {
			verr.Add(fmt.Sprintf("schedule.cron %q: %v", schedule.Cron, err))
		}
		if schedule.Timezone == "" {
			schedule.Timezone = "UTC"
		}
	}
	if schedule.Timezone != "" {
		if _, err := time.LoadLocation(schedule.Timezone); err != nil {
			verr.Add(fmt.Sprintf("schedule.timezone %q is not a known IANA zone", schedule.Timezone))
		}
	}

	if err := verr.OrNil(); err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{
		Name:        name,
		Owner:       owner,
		Team:        strings.TrimSpace(d.Team),
		Description: strings.TrimSpace(d.Description),
		Schedule:    schedule,
		ExternalRef: ref,
	}, nil
}
