package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
)

func toHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, punch.ErrInvalidID),
		errors.Is(err, punch.ErrInvalidEmployeeID),
		errors.Is(err, punch.ErrInvalidTimestamp),
		errors.Is(err, punch.ErrInvalidKind),
		errors.Is(err, punch.ErrInvalidPageSize),
		errors.Is(err, punch.ErrInvalidPageToken),
		errors.Is(err, aggregate.ErrInvalidDate),
		errors.Is(err, aggregate.ErrInvalidEmployeeID):
		return http.StatusBadRequest
	case errors.Is(err, punch.ErrPunchNotFound), errors.Is(err, aggregate.ErrAggregateNotFound):
		return http.StatusNotFound
	case errors.Is(err, consolidation.ErrRunInProgress), errors.Is(err, consolidation.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, consolidation.ErrNegativeDuration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
