// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modified for color-api: adapted to its routes, error taxonomy and logger.

// Package apperr defines the error kinds surfaced by the prediction service.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable error classification returned to callers.
type Kind string

const (
	// KindBadRequest covers malformed JSON and a missing image field.
	KindBadRequest Kind = "BadRequest"
	// KindDecode covers base64 and image format decoding failures.
	KindDecode Kind = "DecodeError"
	// KindEmptyImage indicates a decoded image with zero width or height.
	KindEmptyImage Kind = "EmptyImageError"
	// KindInvalidInput indicates a feature vector the classifier cannot accept.
	KindInvalidInput Kind = "InvalidInputError"
	// KindModelLoad is fatal and only raised at startup.
	KindModelLoad Kind = "ModelLoadError"
	// KindMethodNotAllowed indicates an unsupported HTTP method.
	KindMethodNotAllowed Kind = "MethodNotAllowed"
	// KindNotFound indicates a request for a route that does not exist.
	KindNotFound Kind = "NotFound"
	// KindInternal is used for anything not classified above.
	KindInternal Kind = "InternalError"
)

// Error carries a Kind, a caller-safe message and the underlying cause.
// The cause is never rendered to HTTP clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *Error of the same Kind, so
// errors.Is(err, apperr.New(apperr.KindDecode, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a Kind to the status code used in error responses.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindDecode:
		return http.StatusBadRequest
	case KindEmptyImage, KindInvalidInput:
		return http.StatusUnprocessableEntity
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotFound:
		return http.StatusNotFound
	case KindModelLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
