// Copyright 2026 The Keyline Authors
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

// Package httperr defines the only errors allowed to cross the external
// API boundary with a message. Everything else collapses to an opaque 500.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes. These are stable API surface.
const (
	CodeMissingFields   = "MISSING_FIELDS"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeOrgAccessDenied = "ORG_ACCESS_DENIED"
	CodeCrossOrgRole    = "CROSS_ORG_ROLE"
	CodeGlobalOnly      = "GLOBAL_ONLY"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeRoleNotFound    = "ROLE_NOT_FOUND"
	CodeGroupNotFound   = "GROUP_NOT_FOUND"
	CodeOrgNotFound     = "ORG_NOT_FOUND"
	CodeRegionNotFound  = "REGION_NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeInternal        = "INTERNAL"
)

// Error is a domain error with a stable code and HTTP status.
type Error struct {
	Code    string `json:"error"`
	Status  int    `json:"-"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// New creates an Error with an explicit status and message.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Predefined constructors for the common cases.

func MissingFields(message string) *Error {
	return New(CodeMissingFields, http.StatusBadRequest, message)
}

func Unauthorized() *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, "authentication required")
}

func OrgAccessDenied() *Error {
	return New(CodeOrgAccessDenied, http.StatusForbidden, "organization access denied")
}

func CrossOrgRole() *Error {
	return New(CodeCrossOrgRole, http.StatusForbidden, "role belongs to a different organization")
}

func GlobalOnly() *Error {
	return New(CodeGlobalOnly, http.StatusForbidden, "operation restricted to global administrators")
}

func NotFound(code string) *Error {
	return New(code, http.StatusNotFound, "not found")
}

func Conflict(message string) *Error {
	return New(CodeConflict, http.StatusConflict, message)
}

// Internal is the opaque 500. It carries no internal detail.
func Internal() *Error {
	return New(CodeInternal, http.StatusInternalServerError, "internal error")
}

// From maps any error to the Error that may cross the boundary: a
// *httperr.Error passes through, anything else becomes the opaque 500.
func From(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	return Internal()
}
