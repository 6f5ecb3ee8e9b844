package punch

import "errors"

var (
	ErrInvalidID           = errors.New("punch: invalid id")
	ErrInvalidEmployeeID   = errors.New("punch: invalid employee id")
	ErrInvalidTimestamp    = errors.New("punch: invalid timestamp")
	ErrInvalidKind         = errors.New("punch: invalid kind")
	ErrInvalidPageSize     = errors.New("punch: invalid page size")
	ErrInvalidPageToken    = errors.New("punch: invalid page token")
	ErrPunchNotFound       = errors.New("punch: not found")
	ErrAlreadyConsolidated = errors.New("punch: already consolidated")
)
