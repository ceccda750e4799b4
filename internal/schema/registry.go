package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sneldb/internal/common"
	"sneldb/internal/storage/block"
)

// Registry maps event-type names to (uid, field set, version) and persists
// a full snapshot after every successful DEFINE (§4.1). Readers do not
// block each other; DEFINE is rare and takes the write lock.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Schema
	byUID   map[common.UID]*Schema
	nextUID common.UID

	storage  block.Storage
	basePath string
}

// NewRegistry creates a schema registry persisting snapshots through
// storage at "<basePath>/snapshot.json".
func NewRegistry(storage block.Storage) *Registry {
	return &Registry{
		byName:   make(map[string]*Schema),
		byUID:    make(map[common.UID]*Schema),
		nextUID:  1,
		storage:  storage,
		basePath: "schema",
	}
}

// Load reads the persisted snapshot, if any, populating the registry.
func (r *Registry) Load(ctx context.Context) error {
	data, err := block.ReadAll(ctx, r.storage, r.snapshotPath())
	if err != nil {
		if block.IsNotFound(err) {
			return nil
		}
		return common.NewErrorWithCause(common.ErrSchemaInvalid, "failed to load schema snapshot", err)
	}

	var snapshot struct {
		NextUID common.UID `json:"next_uid"`
		Schemas []*Schema  `json:"schemas"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return common.NewErrorWithCause(common.ErrSchemaInvalid, "corrupt schema snapshot", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextUID = snapshot.NextUID
	for _, s := range snapshot.Schemas {
		r.byName[s.EventType] = s
		r.byUID[s.UID] = s
	}
	return nil
}

// Define registers event_type at version with fields, or evolves an
// existing definition additively. Per §4.1: fails with ErrDuplicateField if
// a field name is reused with a different type, or
// ErrSchemaVersionRegression if version goes backward.
func (r *Registry) Define(ctx context.Context, eventType string, version uint32, fields map[string]LogicalType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byName[eventType]
	if !ok {
		s := &Schema{
			EventType: eventType,
			UID:       r.nextUID,
			Version:   version,
			Fields:    cloneFields(fields),
		}
		r.nextUID++
		r.byName[eventType] = s
		r.byUID[s.UID] = s
		return r.saveLocked(ctx)
	}

	if version < existing.Version {
		return common.ErrSchemaVersionRegressionError(eventType, existing.Version, version)
	}

	merged := cloneFields(existing.Fields)
	for name, lt := range fields {
		if have, exists := merged[name]; exists && have != lt {
			return common.ErrDuplicateFieldError(eventType, name)
		}
		merged[name] = lt
	}

	existing.Version = version
	existing.Fields = merged
	return r.saveLocked(ctx)
}

// GetUID returns the uid assigned to eventType, if defined.
func (r *Registry) GetUID(eventType string) (common.UID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[eventType]
	if !ok {
		return 0, false
	}
	return s.UID, true
}

// HasSchema reports whether eventType has been DEFINEd.
func (r *Registry) HasSchema(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[eventType]
	return ok
}

// FieldsOf returns the field set for uid.
func (r *Registry) FieldsOf(uid common.UID) (map[string]LogicalType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUID[uid]
	if !ok {
		return nil, false
	}
	return cloneFields(s.Fields), true
}

// SchemaByEventType returns a copy of the full schema, used by query
// planning to know a uid's field set up front.
func (r *Registry) SchemaByEventType(eventType string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[eventType]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns a copy of every registered schema.
func (r *Registry) List() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s.Clone())
	}
	return out
}

func (r *Registry) snapshotPath() string {
	return fmt.Sprintf("%s/snapshot.json", r.basePath)
}

// saveLocked persists the full registry snapshot. Caller must hold r.mu.
func (r *Registry) saveLocked(ctx context.Context) error {
	snapshot := struct {
		NextUID common.UID `json:"next_uid"`
		Schemas []*Schema  `json:"schemas"`
	}{NextUID: r.nextUID}

	for _, s := range r.byName {
		snapshot.Schemas = append(snapshot.Schemas, s)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return common.NewErrorWithCause(common.ErrSchemaInvalid, "failed to serialize schema snapshot", err)
	}
	if err := block.WriteAll(ctx, r.storage, r.snapshotPath(), data); err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "failed to persist schema snapshot", err)
	}
	return nil
}

func cloneFields(fields map[string]LogicalType) map[string]LogicalType {
	out := make(map[string]LogicalType, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
