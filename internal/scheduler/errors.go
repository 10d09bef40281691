package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNotSupported       = errors.New("not supported by this role")
	ErrBadCommand         = errors.New("bad command")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrFormatNotSupported = errors.New("format not supported")
	ErrIO                 = errors.New("store i/o failure")
)

func notFound(kind string, id uint64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

func notFoundName(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

func badCommand(err error) error {
	return fmt.Errorf("%w: %v", ErrBadCommand, err)
}

// storeErr keeps the driver error reachable through errors.Is/As.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
