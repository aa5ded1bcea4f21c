package dberrors

import "errors"

var (
	ErrClosed                 = errors.New("hyperdb: closed")
	ErrInvalidArgument        = errors.New("hyperdb: invalid argument")
	ErrArenaExhausted         = errors.New("hyperdb: arena allocation failed")
	ErrUnsupportedTableFormat = errors.New("hyperdb: unidentified table format")
	// ErrStallCancelled is reserved for an external cancellation
	// mechanism signalling a stall handle before a natural end of
	// stall. The core never returns it itself.
	ErrStallCancelled = errors.New("hyperdb: stall wait cancelled")
)
