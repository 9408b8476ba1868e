package engine

import (
	"errors"
	"fmt"

	"github.com/decisionhub/backend/internal/criteria"
	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/matrix"
	"github.com/decisionhub/backend/internal/params"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindIntegrity    Kind = "integrity"
	KindUpstream     Kind = "upstream"
)

// Error is what every public operation fails with, apart from unexpected
// storage failures. Field names the offending input when there is one.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, field, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func invalid(field, format string, args ...interface{}) *Error {
	return newError(KindValidation, field, format, args...)
}

func precondition(field, format string, args ...interface{}) *Error {
	return newError(KindPrecondition, field, format, args...)
}

func forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, "", format, args...)
}

func notFound(what string) *Error {
	return newError(KindNotFound, "", "%s not found", what)
}

func conflict(field, format string, args ...interface{}) *Error {
	return newError(KindConflict, field, format, args...)
}

// KindOf reports the kind of err, or "" for unexpected failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classify maps errors from the lower packages onto engine kinds. Errors it
// does not recognize pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		ee       *Error
		paramErr *params.Error
		critErr  *criteria.Error
		valErr   *domains.ValueError
		incErr   *matrix.IncompleteError
		remote   *solver.RemoteError
	)
	wrap := func(kind Kind, field string) error {
		return &Error{Kind: kind, Field: field, Msg: err.Error(), Err: err}
	}

	switch {
	case errors.As(err, &ee):
		return ee
	case errors.Is(err, lifecycle.ErrNotAdmin), errors.Is(err, lifecycle.ErrNotAccepted):
		return wrap(KindForbidden, "")
	case errors.Is(err, lifecycle.ErrInactive),
		errors.Is(err, lifecycle.ErrStillActive),
		errors.Is(err, lifecycle.ErrWrongStage),
		errors.Is(err, lifecycle.ErrParticipantsIncomplete),
		errors.Is(err, lifecycle.ErrPendingInvitations),
		errors.Is(err, lifecycle.ErrNoAcceptedExperts):
		return wrap(KindPrecondition, "")
	case errors.Is(err, sqlite.ErrNotFound):
		return wrap(KindNotFound, "")
	case errors.As(err, &paramErr):
		return wrap(KindValidation, "modelParameters."+paramErr.Param)
	case errors.As(err, &critErr):
		return wrap(KindValidation, "criteria")
	case errors.As(err, &valErr), errors.Is(err, domains.ErrInvalidDomain):
		return wrap(KindValidation, "")
	case errors.As(err, &incErr), errors.Is(err, matrix.ErrMissingSnapshot),
		errors.Is(err, models.ErrHistoryOrder):
		return wrap(KindIntegrity, "")
	case errors.As(err, &remote):
		return &Error{Kind: KindUpstream, Msg: remote.Msg, Err: err}
	case errors.Is(err, solver.ErrUnavailable):
		return &Error{Kind: KindUpstream, Msg: "the model service is unavailable, try again later", Err: err}
	case sqlite.IsConflict(err):
		return wrap(KindConflict, "")
	}
	return err
}
