package rpc

import (
	"errors"
	"fmt"
	"net"

	"obsched/internal/scheduler"
)

// Code is the error code carried in a reply.
type Code uint16

const (
	CodeOK                 Code = 0
	CodeNotFound           Code = 1
	CodeNotSupported       Code = 2
	CodeBadCommand         Code = 3
	CodeInvalidArgument    Code = 4
	CodeFormatNotSupported Code = 5
	CodeIO                 Code = 6
	CodeInternal           Code = 7
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeNotFound, scheduler.ErrNotFound},
	{CodeNotSupported, scheduler.ErrNotSupported},
	{CodeBadCommand, scheduler.ErrBadCommand},
	{CodeInvalidArgument, scheduler.ErrInvalidArgument},
	{CodeFormatNotSupported, scheduler.ErrFormatNotSupported},
	{CodeIO, scheduler.ErrIO},
}

// CodeOf maps a handler error to its wire code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// RemoteError is a command the peer received and declined.
type RemoteError struct {
	Command Command
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error %d: %s", e.Command, e.Code, e.Message)
}

// Unwrap exposes the matching scheduler sentinel so errors.Is works across
// the wire.
func (e *RemoteError) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err
		}
	}
	return nil
}

// TransportError is a failure to reach the peer or to exchange a frame.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "rpc " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err means the peer was unreachable rather than
// that it declined the command.
func IsTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
