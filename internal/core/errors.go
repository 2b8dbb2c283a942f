package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a package does not exist upstream.
var ErrNotFound = errors.New("not found")

// Kind classifies why fetching or reconciling a package failed.
type Kind int

const (
	// KindUpstream covers transport failures left over after the client's
	// own retries (connection errors, exhausted 5xx, open circuit).
	KindUpstream Kind = iota
	KindNotFound
	KindSchemaDrift
	KindUnpublished
	KindGraphIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindSchemaDrift:
		return "schema_drift"
	case KindUnpublished:
		return "unpublished"
	case KindGraphIntegrity:
		return "graph_integrity"
	default:
		return "upstream"
	}
}

// Error is the typed failure for one package on one registry.
type Error struct {
	Kind     Kind
	Registry Registry
	Name     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Registry, e.Name)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Registry, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNotFound) hold for NotFound errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// NotFound builds a NotFound error.
func NotFound(reg Registry, name string) *Error {
	return &Error{Kind: KindNotFound, Registry: reg, Name: name}
}

// SchemaDrift builds a SchemaDrift error.
func SchemaDrift(reg Registry, name string, err error) *Error {
	return &Error{Kind: KindSchemaDrift, Registry: reg, Name: name, Err: err}
}

// Unpublished builds an Unpublished error.
func Unpublished(reg Registry, name string) *Error {
	return &Error{Kind: KindUnpublished, Registry: reg, Name: name}
}

// GraphIntegrity builds a GraphIntegrity error.
func GraphIntegrity(reg Registry, name string, err error) *Error {
	return &Error{Kind: KindGraphIntegrity, Registry: reg, Name: name, Err: err}
}

// KindOf returns the Kind carried by err, or KindUpstream if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}
