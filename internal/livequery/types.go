// Package livequery subscribes to a bounded window of a tenant-scoped
// collection and delivers full-replacement snapshots.
package livequery

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CollectionName is the family tree collection inside the public
	// partition of a tenant.
	CollectionName = "family_tree_entries"
	// DefaultLimit is the page size of the tree subscription.
	DefaultLimit = 5
)

// CollectionPath returns the public family tree collection for appID.
func CollectionPath(appID string) string {
	return fmt.Sprintf("artifacts/%s/public/data/%s", appID, CollectionName)
}

// Query is a live query over one collection. OrderBy empty keeps the
// backend's default order.
type Query struct {
	Path    string
	Limit   int
	OrderBy string
}

// TreeQuery is the subscription the controller opens once a session exists.
func TreeQuery(appID string) Query {
	return Query{Path: CollectionPath(appID), Limit: DefaultLimit}
}

// Record is an opaque document plus its stable identifier.
type Record struct {
	ID     string
	Fields map[string]any
}

// Name returns the "name" field when it is a string.
func (r Record) Name() string {
	s, _ := r.Fields["name"].(string)
	return s
}

// Snapshot is the ordered result window. It is replaced wholesale on every
// delivery and must not be mutated by receivers.
type Snapshot struct {
	Records    []Record
	ReceivedAt time.Time
	// Seq is the backend's delivery sequence number, 0 when the transport
	// has none.
	Seq uint64
}

func (s Snapshot) Len() int { return len(s.Records) }

// Code classifies subscription errors.
type Code string

const (
	CodePermissionDenied Code = "permission-denied"
	CodeUnavailable      Code = "unavailable"
	CodeDeadlineExceeded Code = "deadline-exceeded"
	CodeInvalidArgument  Code = "invalid-argument"
	CodeUnauthenticated  Code = "unauthenticated"
	CodeInternal         Code = "internal"
)

// Error is a classified subscription failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the classification of err; unclassified errors are
// CodeUnavailable.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnavailable
}

// IsPermissionDenied reports whether err is a permission-denied failure.
func IsPermissionDenied(err error) bool {
	return err != nil && CodeOf(err) == CodePermissionDenied
}
