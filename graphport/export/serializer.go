package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/graphport/portableid"
	"github.com/arthur-debert/graphport/types"
)

// FileType is the entity type whose records carry a binary payload.
const FileType = "file"

// Serializer turns live entities into portable export records.
type Serializer struct {
	store  types.Store
	ids    *portableid.Registry
	hooks  *hooks.Registry
	logger *slog.Logger
}

// NewSerializer creates a serializer for one export run. The registry guards
// the run against identifier collisions.
func NewSerializer(store types.Store, ids *portableid.Registry, reg *hooks.Registry, logger *slog.Logger) *Serializer {
	if ids == nil {
		ids = portableid.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{store: store, ids: ids, hooks: reg, logger: logger}
}

// Serialize loads an entity and returns its record with the level left at
// zero. The loaded entity is returned alongside for callers that need it.
func (s *Serializer) Serialize(ctx context.Context, entityType, id string) (*types.ExportRecord, *types.Entity, error) {
	entity, err := s.store.Load(ctx, entityType, id)
	if err != nil {
		return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}
	info, err := s.store.EntityType(entityType)
	if err != nil {
		return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}
	defs, err := s.store.FieldDefinitions(entityType, entity.Bundle)
	if err != nil {
		return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}
	targets := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.IsReference() {
			targets[def.Name] = def.TargetType
		}
	}

	record := &types.ExportRecord{
		EntityType:     entityType,
		Representation: make(map[string][]types.FieldValue),
	}

	for _, name := range entity.FieldNames() {
		if excludedField(name, entityType, info) {
			continue
		}

		// Resolved once per field: "" means the target has no portable identity.
		contentTarget, resolved := "", false

		values := entity.Get(name)
		out := make([]types.FieldValue, 0, len(values))
		for _, value := range values {
			value = value.Clone()

			if value.IsReference() {
				value.Ref.TargetRevisionID = ""
				if !resolved {
					contentTarget = s.contentTarget(targets[name])
					resolved = true
				}
				if contentTarget != "" {
					pid, err := s.ids.Hash(contentTarget, value.Ref.TargetID)
					if err != nil {
						return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
					}
					value.Ref.TargetID = string(pid)
				}
			}

			if name == info.Keys.ID && !value.IsReference() {
				pid, err := s.ids.Hash(entityType, value.String())
				if err != nil {
					return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
				}
				value = types.Value(string(pid))
				record.EntityID = pid
			}
			out = append(out, value)
		}
		record.Representation[name] = out
	}

	if record.EntityID == "" {
		pid, err := s.ids.Hash(entityType, entity.ID)
		if err != nil {
			return nil, nil, &types.GraphError{Type: entityType, ID: id, Err: err}
		}
		record.EntityID = pid
	}

	if err := s.hooks.AlterExport(ctx, record, entity); err != nil {
		return nil, nil, fmt.Errorf("export alteration of %s %s: %w", entityType, id, err)
	}

	s.logger.Debug("serialized entity", "type", entityType, "id", id, "entity_id", record.EntityID)
	return record, entity, nil
}

// contentTarget returns the target type of a reference field when that type
// is a content type, or "" for configuration targets and fields whose target
// type is unknown.
func (s *Serializer) contentTarget(targetType string) string {
	if targetType == "" {
		return ""
	}
	info, err := s.store.EntityType(targetType)
	if err != nil {
		s.logger.Debug("reference target type unknown, keeping raw value", "type", targetType, "error", err)
		return ""
	}
	if info.Config {
		return ""
	}
	// A content type without any field schema is treated like config.
	if _, err := s.store.FieldDefinitions(targetType, targetType); errors.Is(err, types.ErrNoFieldSchema) {
		return ""
	}
	return targetType
}

// excludedField reports store-local fields that never leave the store:
// revision data, the revision key and the uuid. File entities keep their
// uuid so an import can restore it. Only the type's own revision key is
// dropped; the same field name may be another type's bundle key.
func excludedField(name, entityType string, info types.EntityTypeInfo) bool {
	if strings.HasPrefix(name, "revision_") {
		return true
	}
	if info.Keys.Revision != "" && name == info.Keys.Revision {
		return true
	}
	if name == "uuid" || (info.Keys.UUID != "" && name == info.Keys.UUID) {
		return entityType != FileType
	}
	return false
}
