package aggregate

import "errors"

var (
	ErrInvalidEmployeeID      = errors.New("aggregate: invalid employee id")
	ErrInvalidDate            = errors.New("aggregate: invalid date")
	ErrAggregateNotFound      = errors.New("aggregate: not found")
	ErrAggregateAlreadyExists = errors.New("aggregate: already exists")
	ErrVersionConflict        = errors.New("aggregate: version conflict")
)
