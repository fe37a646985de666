// Package storage defines the polymorphic content contract shared by every
// persistence backend: put, get, delete, list-by-prefix, estimate-usage.
// Backends are keyed blob stores; package adapter layers the domain
// model's namespace conventions on top.
//
// Every Backend implementation must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"iter"
)

// Entry is a single listed key and its blob size in bytes.
type Entry struct {
	ID   string
	Size int64
}

// Usage reports a backend's space consumption.
type Usage struct {
	UsedBytes int64
	// QuotaBytes is UnknownQuota when the backend has no known limit
	// (e.g. S3 without a configured bucket quota).
	QuotaBytes int64
	Details    map[string]any
}

// UnknownQuota is the sentinel QuotaBytes value meaning "no known limit".
const UnknownQuota int64 = -1

// Backend is the capability set every storage variant must implement:
// in-memory, local-file-tree, origin-private-file-tree, and
// S3-compatible object stores.
type Backend interface {
	// Put atomically overwrites the blob at (ns, id).
	Put(ctx context.Context, ns, id string, blob []byte) error

	// Get returns the blob at (ns, id), or (nil, nil) if it does not
	// exist. Any other failure is returned as an *Error.
	Get(ctx context.Context, ns, id string) ([]byte, error)

	// Delete removes (ns, id). Missing keys are not an error.
	Delete(ctx context.Context, ns, id string) error

	// List iterates ids (and sizes) under ns whose id has the given
	// prefix, in no particular guaranteed order. The sequence is
	// restartable and finite.
	List(ctx context.Context, ns, prefix string) iter.Seq2[Entry, error]

	// EstimateUsage reports approximate space consumption for the
	// backend as a whole.
	EstimateUsage(ctx context.Context) (Usage, error)
}

// Kind classifies a storage failure so callers and the retry wrapper can
// decide how to react, per spec.md §4.3.
type Kind string

const (
	KindNotFound        Kind = "not-found"
	KindAuth            Kind = "auth"
	KindQuotaExceeded   Kind = "quota-exceeded"
	KindTransient       Kind = "transient"
	KindMalformed       Kind = "malformed"
	KindBackendSpecific Kind = "backend-specific"
)

// Error is the structured error a Backend reports for failures other than
// a clean "not found" on Get/Delete (which is not an error at all).
type Error struct {
	Kind   Kind
	Op     string
	Ns     string
	ID     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "storage: " + e.Op
	if e.Ns != "" {
		msg += " " + e.Ns + "/" + e.ID
	}
	msg += ": " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a *Error of KindTransient.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return false
}

// IsNotFound reports whether err is a *Error of KindNotFound.
func IsNotFound(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindNotFound
	}
	return false
}
