// Package imports replays a portable archive into a content store.
//
// An import moves through the states parsed, grouped, replaying and then
// done or failed:
// 1. Records are grouped by level
// 2. Levels are replayed deepest first, records within a level in document
// order, so every reference target is created before its referrers
// 3. Each created entity's key is recorded under its portable identifier and
// later references are rewritten through that map
//
// A failure stops the replay. Entities created before it stay created and are
// listed in the result.
package imports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arthur-debert/graphport/graphport/blob"
	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/graphport/metrics"
	"github.com/arthur-debert/graphport/internal/validation"
	"github.com/arthur-debert/graphport/types"
)

// Planner replays archives into a store.
type Planner struct {
	store   types.Store
	assets  types.AssetStore
	blob    blob.Backend
	hooks   *hooks.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithBlob sets the backend that blob-mode file records are downloaded from.
func WithBlob(b blob.Backend) Option {
	return func(p *Planner) { p.blob = b }
}

// WithHooks sets the registry whose importers handle types without a
// built-in materializer.
func WithHooks(r *hooks.Registry) Option {
	return func(p *Planner) { p.hooks = r }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// NewPlanner creates a planner writing entities to store and file payloads
// to assets.
func NewPlanner(store types.Store, assets types.AssetStore, opts ...Option) *Planner {
	p := &Planner{store: store, assets: assets, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Group buckets records by level, deepest level first, keeping document
// order within a level. Records missing an identity or repeating an
// entity_id are rejected, as are negative levels and nested sub-values.
func Group(records []types.ExportRecord) ([]LevelGroup, error) {
	seen := make(map[types.PortableID]bool, len(records))
	byLevel := make(map[int][]types.ExportRecord)
	for i, record := range records {
		switch {
		case record.EntityType == "":
			return nil, fmt.Errorf("record %d has no entity_type", i)
		case record.EntityID == "":
			return nil, fmt.Errorf("record %d has no entity_id", i)
		case record.Level < 0:
			return nil, fmt.Errorf("record %d has negative level %d", i, record.Level)
		case seen[record.EntityID]:
			return nil, fmt.Errorf("record %d repeats entity_id %s", i, record.EntityID)
		}
		if err := validateValues(record); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, record.EntityID, err)
		}
		seen[record.EntityID] = true
		byLevel[record.Level] = append(byLevel[record.Level], record)
	}

	levels := make([]int, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	groups := make([]LevelGroup, 0, len(levels))
	for _, level := range levels {
		groups = append(groups, LevelGroup{Level: level, Records: byLevel[level]})
	}
	return groups, nil
}

// validateValues checks that every sub-value of a record is a scalar.
func validateValues(record types.ExportRecord) error {
	for field, values := range record.Representation {
		for _, v := range values {
			for _, p := range v.Props {
				if err := validation.ValidateSimpleType(p, field); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ImportFromPath reads the archive at path and imports it. Scratch state of
// the archive is removed afterwards.
func (p *Planner) ImportFromPath(ctx context.Context, path string, options ImportOptions, readerOpts ...ReaderOption) (*ImportResult, error) {
	readerOpts = append([]ReaderOption{WithReaderLogger(p.logger)}, readerOpts...)
	archive, err := NewReader(readerOpts...).Read(path)
	if err != nil {
		p.metrics.ObserveImport(string(StateFailed), 0)
		return nil, err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			p.logger.Warn("failed to clean up archive", "path", path, "error", err)
		}
	}()
	return p.Import(ctx, archive, options)
}

// Import replays a parsed archive. The returned result is non-nil even when
// an error is returned and reports what was created before the failure.
func (p *Planner) Import(ctx context.Context, archive *Archive, options ImportOptions) (*ImportResult, error) {
	startTime := time.Now()
	result := &ImportResult{
		State:    StateParsed,
		Planned:  make([]RecordRef, 0, len(archive.Records)),
		Created:  make([]CreatedEntity, 0),
		Skipped:  make([]SkippedRecord, 0),
		Warnings: make([]Warning, 0),
		Summary: ImportSummary{
			TotalRecords: len(archive.Records),
			StartedAt:    startTime,
		},
	}
	defer func() {
		result.Summary.Created = len(result.Created)
		result.Summary.Skipped = len(result.Skipped)
		result.Summary.WarningsCount = len(result.Warnings)
		result.Summary.CompletedAt = time.Now()
		result.Summary.ProcessingTime = result.Summary.CompletedAt.Sub(startTime).String()
		p.metrics.ObserveImport(string(result.State), result.Summary.CompletedAt.Sub(startTime))
	}()

	groups, err := Group(archive.Records)
	if err != nil {
		return result, &types.FormatError{Path: archive.Path, Err: err}
	}
	p.transition(result, StateGrouped, "levels", len(groups))
	result.Summary.Levels = len(groups)
	for _, group := range groups {
		for _, record := range group.Records {
			result.Planned = append(result.Planned, refOf(record))
		}
	}

	if options.DryRun {
		p.transition(result, StateDone, "dry_run", true)
		return result, nil
	}

	assetDir := options.AssetDir
	if assetDir == "" {
		assetDir = archive.AssetDir
	}
	run := &replay{
		Planner:  p,
		options:  options,
		assetDir: assetDir,
		keys:     NewKeyMap(),
		result:   result,
	}
	for _, record := range archive.Records {
		if record.Level == 0 {
			run.primary = record.EntityID
			break
		}
	}

	p.transition(result, StateReplaying)
	for _, group := range groups {
		for _, record := range group.Records {
			if err := ctx.Err(); err != nil {
				return run.fail(record, err)
			}
			if err := run.record(ctx, record); err != nil {
				return run.fail(record, err)
			}
		}
	}

	p.transition(result, StateDone, "created", len(result.Created), "warnings", len(result.Warnings))
	return result, nil
}

func (p *Planner) transition(result *ImportResult, state State, attrs ...any) {
	p.logger.Info("import state change", append([]any{"from", result.State, "to", state}, attrs...)...)
	result.State = state
}
