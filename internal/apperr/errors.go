package apperr

import (
	"context"
	"errors"

	"github.com/ppiankov/annorepair/internal/model"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrUpstream             = errors.New("upstream error")
	ErrValidationImpossible = errors.New("no safe repair")
)

// KindOf maps an error to the category reported per item
func KindOf(err error) model.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return model.ErrorKindNotFound
	case errors.Is(err, ErrConflict):
		return model.ErrorKindConflict
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindUpstreamTimeout
	case errors.Is(err, ErrUpstream):
		return model.ErrorKindUpstreamError
	case errors.Is(err, ErrValidationImpossible):
		return model.ErrorKindValidationImpossible
	default:
		return model.ErrorKindInternal
	}
}
