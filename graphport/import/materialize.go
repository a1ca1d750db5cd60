package imports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/graphport/graphport/blob"
	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/types"
)

// Entity types with a built-in materializer.
const (
	FileType      = "file"
	ParagraphType = "paragraph"
	UserType      = "user"
)

// Fields never written from an archive, besides the type's own keys.
const (
	authorField  = "uid"
	pathField    = "path"
	parentField  = "parent_id"
	createdField = "created"
	changedField = "changed"
	uriField     = "uri"
)

// replay is the state of one import run. It owns the key map.
type replay struct {
	*Planner
	options  ImportOptions
	assetDir string
	keys     *KeyMap
	result   *ImportResult

	// primary is the first root of the archive, the one URLAlias applies to
	primary types.PortableID
}

// record dispatches one record to its materializer.
func (r *replay) record(ctx context.Context, record types.ExportRecord) error {
	r.logger.Debug("replaying record", "type", record.EntityType, "entity_id", record.EntityID, "level", record.Level)

	switch record.EntityType {
	case UserType:
		r.skip(record, "user entities are not imported")
		return nil
	case FileType:
		return r.importFile(ctx, record)
	case ParagraphType:
		return r.importParagraph(ctx, record)
	}
	if importers := r.hooks.ImportersFor(record.EntityType); len(importers) > 0 {
		return r.importWithHook(ctx, importers[0], record)
	}
	return r.importDefault(ctx, record)
}

// prepare returns the fields of a record ready for creation: keys stripped,
// references rewritten through the key map, the author and alias applied.
func (r *replay) prepare(record types.ExportRecord) (types.EntityTypeInfo, map[string][]types.FieldValue, error) {
	info, err := r.store.EntityType(record.EntityType)
	if err != nil {
		return info, nil, r.storeError(record, err)
	}

	fields := make(map[string][]types.FieldValue, len(record.Representation))
	for name, values := range record.Representation {
		cloned := make([]types.FieldValue, len(values))
		for i, v := range values {
			cloned[i] = v.Clone()
		}
		fields[name] = cloned
	}

	delete(fields, info.Keys.ID)
	if info.Keys.Revision != "" {
		delete(fields, info.Keys.Revision)
	}
	if info.Keys.UUID != "" && record.EntityType != FileType {
		delete(fields, info.Keys.UUID)
	}
	if r.options.RemoveTimestamps {
		delete(fields, createdField)
		delete(fields, changedField)
	}

	targets := r.referenceTargets(record.EntityType, bundleOf(info, fields))
	for name, values := range fields {
		if name == authorField && r.options.Author != "" {
			continue
		}
		for i, v := range values {
			if !v.IsReference() {
				continue
			}
			resolved, ok := r.keys.Resolve(v)
			if !ok && !r.isConfigTarget(targets[name]) {
				r.warn(record, WarnUnresolvedReference, name, v.Ref.TargetID)
			}
			values[i] = resolved
		}
	}

	if r.options.Author != "" {
		if _, ok := fields[authorField]; ok || hasField(r.store, record.EntityType, bundleOf(info, fields), authorField) {
			fields[authorField] = []types.FieldValue{types.Ref(r.options.Author)}
		}
	}
	if record.EntityID == r.primary && r.options.URLAlias != "" {
		fields[pathField] = []types.FieldValue{types.Scalar(map[string]any{"alias": r.options.URLAlias})}
	}
	return info, fields, nil
}

func bundleOf(info types.EntityTypeInfo, fields map[string][]types.FieldValue) string {
	if info.Keys.Bundle != "" {
		if values := fields[info.Keys.Bundle]; len(values) > 0 {
			return values[0].String()
		}
	}
	return info.Name
}

// referenceTargets maps reference fields of a bundle to their target types.
func (r *replay) referenceTargets(entityType, bundle string) map[string]string {
	targets := make(map[string]string)
	defs, err := r.store.FieldDefinitions(entityType, bundle)
	if err != nil {
		return targets
	}
	for _, def := range defs {
		if def.IsReference() {
			targets[def.Name] = def.TargetType
		}
	}
	return targets
}

// isConfigTarget reports whether references to targetType are raw
// configuration ids that are expected to stay unresolved.
func (r *replay) isConfigTarget(targetType string) bool {
	if targetType == "" {
		return false
	}
	info, err := r.store.EntityType(targetType)
	return err == nil && info.Config
}

func hasField(s types.Schema, entityType, bundle, field string) bool {
	defs, err := s.FieldDefinitions(entityType, bundle)
	if err != nil {
		return false
	}
	for _, def := range defs {
		if def.Name == field {
			return true
		}
	}
	return false
}

// create persists prepared fields and returns the saved entity.
func (r *replay) create(ctx context.Context, record types.ExportRecord, fields map[string][]types.FieldValue, uuid string) (*types.Entity, error) {
	entity, err := r.store.Create(ctx, record.EntityType, fields)
	if err != nil {
		return nil, r.storeError(record, err)
	}
	if uuid != "" {
		entity.UUID = uuid
	}
	if err := r.store.Save(ctx, entity); err != nil {
		return nil, r.storeError(record, err)
	}
	return entity, nil
}

func (r *replay) importDefault(ctx context.Context, record types.ExportRecord) error {
	_, fields, err := r.prepare(record)
	if err != nil {
		return err
	}
	entity, err := r.create(ctx, record, fields, "")
	if err != nil {
		return err
	}
	r.created(record, entity, types.LocalKey{ID: entity.ID})
	return nil
}

// importParagraph creates a composite child entity. Referrers pin its
// revision, so the key map holds the id and revision pair.
func (r *replay) importParagraph(ctx context.Context, record types.ExportRecord) error {
	_, fields, err := r.prepare(record)
	if err != nil {
		return err
	}
	delete(fields, parentField)

	entity, err := r.create(ctx, record, fields, "")
	if err != nil {
		return err
	}
	r.created(record, entity, types.LocalKey{ID: entity.ID, RevisionID: entity.RevisionID})
	return nil
}

// importFile stores the payload of a file record in the asset store, then
// creates the file entity with its original uuid.
func (r *replay) importFile(ctx context.Context, record types.ExportRecord) error {
	info, fields, err := r.prepare(record)
	if err != nil {
		return err
	}
	if r.assets == nil {
		return r.storeError(record, fmt.Errorf("no asset store configured"))
	}

	values := fields[uriField]
	if len(values) == 0 || values[0].String() == "" {
		return r.storeError(record, fmt.Errorf("file record has no %s", uriField))
	}
	uri, err := r.storePayload(ctx, record, values[0].String())
	if err != nil {
		return err
	}
	fields[uriField] = []types.FieldValue{types.Value(uri)}

	var uuid string
	if values := fields[info.Keys.UUID]; len(values) > 0 {
		uuid = values[0].String()
	}
	entity, err := r.create(ctx, record, fields, uuid)
	if err != nil {
		return err
	}
	r.created(record, entity, types.LocalKey{ID: entity.ID})
	return nil
}

// storePayload resolves a stored file path to its payload and saves it to the
// asset store, returning the new public:// uri. Blob pseudo-paths are
// downloaded; anything else is relative to the archive's asset directory.
func (r *replay) storePayload(ctx context.Context, record types.ExportRecord, stored string) (string, error) {
	if blob.Owns(r.blob, stored) {
		fetched, err := r.blob.Download(ctx, stored)
		var blobErr *types.BlobError
		switch {
		case err == nil:
			r.metrics.BlobDownload(fetched.Attempts, nil)
		case errors.As(err, &blobErr):
			r.metrics.BlobDownload(blobErr.Attempts, err)
			return "", err
		default:
			r.metrics.BlobDownload(0, err)
			return "", &types.BlobError{Path: stored, Err: err}
		}
		if fetched.Temp {
			defer func() { _ = os.Remove(fetched.File) }()
		}
		return r.saveAsset(record, fetched.File, fetched.Path)
	}

	if scheme, _, ok := strings.Cut(stored, "://"); ok && scheme+"://" != store.PublicScheme {
		return "", &types.BlobError{Path: stored, Err: fmt.Errorf("no blob backend configured for scheme %q", scheme)}
	}
	uri := stored
	if !strings.HasPrefix(uri, store.PublicScheme) {
		uri = store.PublicScheme + uri
	}
	rel, err := store.RelativePath(uri)
	if err != nil {
		return "", r.storeError(record, err)
	}
	if r.assetDir == "" {
		return "", r.storeError(record, fmt.Errorf("no asset directory to read %s from", rel))
	}
	return r.saveAsset(record, filepath.Join(r.assetDir, filepath.FromSlash(rel)), uri)
}

func (r *replay) saveAsset(record types.ExportRecord, local, uri string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", r.storeError(record, fmt.Errorf("failed to read payload: %w", err))
	}
	defer func() { _ = f.Close() }()

	saved, err := r.assets.Save(uri, f)
	if err != nil {
		return "", r.storeError(record, err)
	}
	r.logger.Debug("stored file payload", "entity_id", record.EntityID, "uri", saved)
	return saved, nil
}

// importWithHook hands a record of an unrecognized type to a registered
// importer. References are rewritten before the importer sees the record.
func (r *replay) importWithHook(ctx context.Context, imp hooks.EntityImporter, record types.ExportRecord) error {
	_, fields, err := r.prepare(record)
	if err != nil {
		return err
	}
	prepared := record
	prepared.Representation = fields

	entity, key, err := imp.ImportEntity(ctx, hooks.ImportRequest{
		Record: prepared,
		Level:  record.Level,
		Keys:   r.keys,
		Store:  r.store,
	})
	if err != nil {
		return r.storeError(record, err)
	}
	if entity == nil {
		r.skip(record, "handled by importer without creating an entity")
		return nil
	}
	if key.ID == "" {
		key = types.LocalKey{ID: entity.ID}
	}
	r.created(record, entity, key)
	return nil
}

func (r *replay) created(record types.ExportRecord, entity *types.Entity, key types.LocalKey) {
	if !r.keys.Put(record.EntityID, key) {
		r.warn(record, WarnDuplicateRecord, "", string(record.EntityID))
	}
	r.result.Created = append(r.result.Created, CreatedEntity{
		RecordRef:  refOf(record),
		ID:         key.ID,
		RevisionID: key.RevisionID,
		Entity:     entity,
	})
	r.metrics.EntityImported(record.EntityType)
	r.logger.Debug("created entity", "type", record.EntityType, "entity_id", record.EntityID, "id", key.ID)
}

func (r *replay) skip(record types.ExportRecord, reason string) {
	r.result.Skipped = append(r.result.Skipped, SkippedRecord{RecordRef: refOf(record), Reason: reason})
	r.logger.Debug("skipped record", "type", record.EntityType, "entity_id", record.EntityID, "reason", reason)
}

func (r *replay) warn(record types.ExportRecord, kind, field, target string) {
	r.result.Warnings = append(r.result.Warnings, Warning{
		Kind:     kind,
		Type:     record.EntityType,
		EntityID: record.EntityID,
		Field:    field,
		Target:   target,
	})
	r.metrics.ImportWarning(kind)
	r.logger.Warn("import warning", "kind", kind, "type", record.EntityType, "entity_id", record.EntityID, "field", field, "target", target)
}

func (r *replay) storeError(record types.ExportRecord, err error) error {
	var storeErr *types.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &types.StoreError{Type: record.EntityType, PortableID: record.EntityID, Err: err}
}

// fail ends the replay at record.
func (r *replay) fail(record types.ExportRecord, err error) (*ImportResult, error) {
	r.result.Failed = &FailedRecord{RecordRef: refOf(record), Error: err.Error()}
	r.transition(r.result, StateFailed, "entity_id", record.EntityID, "created", len(r.result.Created), "error", err)
	return r.result, err
}
