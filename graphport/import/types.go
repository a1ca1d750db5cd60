package imports

import (
	"time"

	"github.com/arthur-debert/graphport/types"
)

// State is the phase of an import run.
type State string

const (
	StateParsed    State = "parsed"
	StateGrouped   State = "grouped"
	StateReplaying State = "replaying"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Warning kinds.
const (
	WarnUnresolvedReference = "unresolved_reference"
	WarnDuplicateRecord     = "duplicate_record"
)

// ImportOptions configures one import run
type ImportOptions struct {
	// URLAlias replaces the path alias of the first root record
	URLAlias string `json:"url_alias,omitempty"`

	// Author is the local user id set on every created entity's uid field
	Author string `json:"author,omitempty"`

	// RemoveTimestamps drops exported creation timestamps so the store
	// stamps the time of import instead
	RemoveTimestamps bool `json:"remove_timestamps"`

	// DryRun groups and orders the records without creating anything
	DryRun bool `json:"dry_run,omitempty"`

	// AssetDir overrides where file payloads of a non-blob archive are read
	// from. Defaults to the archive's own asset directory.
	AssetDir string `json:"asset_dir,omitempty"`
}

// DefaultImportOptions returns the options used when the caller sets none
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		RemoveTimestamps: true,
	}
}

// LevelGroup is the records of one level, in document order.
type LevelGroup struct {
	Level   int                  `json:"level"`
	Records []types.ExportRecord `json:"-"`
}

// ImportResult is the ledger of an import run
type ImportResult struct {
	State State `json:"state"`

	// Planned lists every record in replay order
	Planned []RecordRef `json:"planned"`

	// Created lists the entities created, in creation order
	Created []CreatedEntity `json:"created"`

	// Skipped lists records handled without creating an entity
	Skipped []SkippedRecord `json:"skipped"`

	// Warnings contains non-fatal issues encountered during replay
	Warnings []Warning `json:"warnings"`

	// Failed is the record that aborted the run, if any
	Failed *FailedRecord `json:"failed,omitempty"`

	Summary ImportSummary `json:"summary"`
}

// RecordRef identifies a record of the archive.
type RecordRef struct {
	Type     string           `json:"type"`
	EntityID types.PortableID `json:"entity_id"`
	Level    int              `json:"level"`
}

// CreatedEntity is one entity the run created.
type CreatedEntity struct {
	RecordRef
	ID         string        `json:"id"`
	RevisionID string        `json:"revision_id,omitempty"`
	Entity     *types.Entity `json:"-"`
}

// SkippedRecord is a record intentionally not materialized.
type SkippedRecord struct {
	RecordRef
	Reason string `json:"reason"`
}

// Warning is a non-fatal replay issue.
type Warning struct {
	Kind     string           `json:"kind"`
	Type     string           `json:"type"`
	EntityID types.PortableID `json:"entity_id"`
	Field    string           `json:"field,omitempty"`
	Target   string           `json:"target,omitempty"`
}

// FailedRecord is the record that aborted a run.
type FailedRecord struct {
	RecordRef
	Error string `json:"error"`
}

// ImportSummary provides statistics about the import operation
type ImportSummary struct {
	TotalRecords   int       `json:"total_records"`
	Levels         int       `json:"levels"`
	Created        int       `json:"created"`
	Skipped        int       `json:"skipped"`
	WarningsCount  int       `json:"warnings_count"`
	ProcessingTime string    `json:"processing_time"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Entities returns the created entities in creation order.
func (r *ImportResult) Entities() []*types.Entity {
	out := make([]*types.Entity, 0, len(r.Created))
	for _, c := range r.Created {
		out = append(out, c.Entity)
	}
	return out
}

func refOf(record types.ExportRecord) RecordRef {
	return RecordRef{Type: record.EntityType, EntityID: record.EntityID, Level: record.Level}
}
