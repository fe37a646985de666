package query

import (
	"context"
	"errors"

	"github.com/nounverb/nvdb/pkg/storage"
)

// Kind classifies every error a DB method can surface to a caller, per
// the error handling design: storage-transient reaches here only after
// the retry wrapper Open installs around the backend has used up its
// attempts, and it, internal-consistency, cancellation, and the rest are
// reported verbatim with a stable code.
type Kind string

const (
	KindInvalidInput         Kind = "invalid-input"
	KindNotFound             Kind = "not-found"
	KindReadOnly             Kind = "readonly"
	KindStorageTransient     Kind = "storage-transient"
	KindStoragePermanent     Kind = "storage-permanent"
	KindQuotaExceeded        Kind = "quota-exceeded"
	KindCancelled            Kind = "cancelled"
	KindInternalConsistency  Kind = "internal-consistency"
)

// Error is the structured error every DB method returns for a failure.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "query: " + e.Op + ": " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func invalidInput(op, detail string) error {
	return &Error{Kind: KindInvalidInput, Op: op, Detail: detail}
}

func notFound(op, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Detail: "id " + id}
}

func readOnlyErr(op string) error {
	return &Error{Kind: KindReadOnly, Op: op, Detail: "database opened readOnly"}
}

// classifyStorageErr maps a lower-layer error into the public Kind
// taxonomy. ctx is consulted first so a cancellation during a storage
// call is reported as cancelled rather than storage-transient.
func classifyStorageErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: KindCancelled, Op: op, Err: ctxErr}
	}
	var se *storage.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case storage.KindQuotaExceeded:
			return &Error{Kind: KindQuotaExceeded, Op: op, Err: err}
		case storage.KindTransient:
			return &Error{Kind: KindStorageTransient, Op: op, Err: err}
		default:
			return &Error{Kind: KindStoragePermanent, Op: op, Err: err}
		}
	}
	return &Error{Kind: KindInternalConsistency, Op: op, Err: err}
}
