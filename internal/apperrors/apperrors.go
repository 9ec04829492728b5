// Package apperrors defines the closed set of error kinds the fabric's core
// components return, together with a stable user-facing string per kind.
// Store, assembler, and cleanup code always returns a typed *Error; only the
// dispatcher translates one into a wire ack.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error tag, stable across releases so clients
// can branch on it.
type Kind string

const (
	InvalidCode           Kind = "InvalidCode"
	InvalidFileID         Kind = "InvalidFileID"
	NotFound              Kind = "NotFound"
	SessionExpired        Kind = "SessionExpired"
	NotJoined             Kind = "NotJoined"
	Forbidden             Kind = "Forbidden"
	Empty                 Kind = "Empty"
	TooLong               Kind = "TooLong"
	FileTooLarge          Kind = "FileTooLarge"
	EmptyFile             Kind = "EmptyFile"
	MessageCapReached     Kind = "MessageCapReached"
	SessionFileCapReached Kind = "SessionFileCapReached"
	OutOfMemory           Kind = "OutOfMemory"
	TooManyConcurrentUploads Kind = "TooManyConcurrentUploads"
	UploadNotFound        Kind = "UploadNotFound"
	AlreadyCompleted      Kind = "AlreadyCompleted"
	InvalidChunkIndex     Kind = "InvalidChunkIndex"
	Incomplete            Kind = "Incomplete"
	MissingChunk          Kind = "MissingChunk"
	SizeMismatch          Kind = "SizeMismatch"
	Timeout               Kind = "Timeout"
	Internal              Kind = "Internal"
)

// defaultMessages gives every kind a stable, user-facing English string so
// a UI can display it directly without the call site needing to compose one.
var defaultMessages = map[Kind]string{
	InvalidCode:              "that session code doesn't look right",
	InvalidFileID:            "that file id doesn't look right",
	NotFound:                 "not found",
	SessionExpired:           "this session has expired",
	NotJoined:                "you haven't joined a session yet",
	Forbidden:                "you don't have permission to do that",
	Empty:                    "message can't be empty",
	TooLong:                  "message is too long",
	FileTooLarge:             "file is too large",
	EmptyFile:                "file is empty",
	MessageCapReached:        "this session has reached its message limit",
	SessionFileCapReached:    "this session has reached its file limit",
	OutOfMemory:              "the server is out of storage right now",
	TooManyConcurrentUploads: "too many uploads already in progress for this session",
	UploadNotFound:           "upload not found",
	AlreadyCompleted:         "this upload was already completed",
	InvalidChunkIndex:        "that chunk index is out of range",
	Incomplete:               "not all chunks have been received yet",
	MissingChunk:             "a chunk is missing from this upload",
	SizeMismatch:             "assembled file size doesn't match what was declared",
	Timeout:                  "the server didn't respond in time",
	Internal:                 "something went wrong",
}

// Error is the error type returned by every fallible operation in the core.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind using that kind's default message.
func New(kind Kind) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind]}
}

// Newf builds an *Error of the given kind with a custom, formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], Err: err}
}

// KindOf extracts the Kind from err, returning Internal if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user-facing message for err, falling back to
// err.Error() when err is not (or does not wrap) an *Error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
