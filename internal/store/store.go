package store

import (
	"context"
	"errors"
)

var (
	// No object with the requested name exists in the store
	ErrNotFound = errors.New("object not found in geometry store")
	// The object exists but carries no geometry document
	ErrNoDocument = errors.New("object has no geometry document")
)

// Serialized geometry of a single city object. Instanced objects share the document of
// their template and carry the 4x4 column major transform that places the template.
type Geometry struct {
	Name       string
	Doc        []byte
	Instanced  bool
	TemplateID string
	Transform  []float64
}

// Read side of the geometry store as used by the compositors. Each worker owns one handle.
type GeometryStore interface {
	Get(ctx context.Context, name string) (*Geometry, error)
	Close() error
}
