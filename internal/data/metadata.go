package data

import (
	"context"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// AttachMetadata links a metadata blob to a persisted value through
// its owning archive. The value must already be stored, and the
// backend must support metadata.
func (r *Registry) AttachMetadata(ctx context.Context, id value.ID, schemaName string, schema, data canon.Object) error {
	ownerID := r.OwnerArchive(id)
	if ownerID == "" {
		return fmt.Errorf("attach metadata to %s: value is not persisted", id)
	}
	a, err := r.Archive(ownerID)
	if err != nil {
		return fmt.Errorf("attach metadata to %s: %w", id, err)
	}
	ann, ok := a.(archive.Annotator)
	if !ok {
		return fmt.Errorf("attach metadata to %s: archive %q does not support metadata", id, ownerID)
	}
	return ann.AttachMetadata(ctx, id, schemaName, schema, data)
}

// MetadataForValue returns the metadata attached to a value in its
// owning archive. Values that are not persisted, or that live in a
// backend without metadata support, have none.
func (r *Registry) MetadataForValue(ctx context.Context, id value.ID) ([]archive.Metadata, error) {
	ownerID := r.OwnerArchive(id)
	if ownerID == "" {
		return nil, nil
	}
	a, err := r.Archive(ownerID)
	if err != nil {
		return nil, fmt.Errorf("metadata for %s: %w", id, err)
	}
	ann, ok := a.(archive.Annotator)
	if !ok {
		return nil, nil
	}
	return ann.MetadataForValue(ctx, id)
}
