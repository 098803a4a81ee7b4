// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package server exposes the PDP's authorization decision over HTTP,
// grounded on the teacher's server/types/types.go error-code conventions
// and server/server.go's single-handler-per-verb routing.
package server

import (
	"encoding/json"
	"fmt"
)

// Error codes mirrored from the teacher's server/types/types.go, trimmed
// to the subset this surface can actually emit (no policy-document CRUD,
// no patch operations — spec.md §1 keeps document authoring out of
// scope).
const (
	CodeInternal         = "internal_error"
	CodeEvaluation       = "evaluation_error"
	CodeInvalidParameter = "invalid_parameter"
)

// ErrorV1 models an error response sent to the client.
type ErrorV1 struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorV1 returns a new ErrorV1 object.
func NewErrorV1(code, f string, a ...interface{}) *ErrorV1 {
	return &ErrorV1{Code: code, Message: fmt.Sprintf(f, a...)}
}

// Bytes marshals e with indentation for readability, matching the
// teacher's ErrorV1.Bytes.
func (e *ErrorV1) Bytes() []byte {
	if bs, err := json.MarshalIndent(e, "", "  "); err == nil {
		return bs
	}
	return nil
}

// SubscriptionV1 is the request body of POST /v1/decisions: the subject,
// action, resource and environment attribute-values of spec.md §3's
// Authorization Subscription.
type SubscriptionV1 struct {
	Subject     interface{} `json:"subject"`
	Action      interface{} `json:"action"`
	Resource    interface{} `json:"resource"`
	Environment interface{} `json:"environment"`
}

// DecisionV1 is one emission of the response body of POST /v1/decisions:
// a single line of newline-delimited JSON per spec.md §4.8's decision
// stream (the connection stays open and additional decisions may follow
// as attributes change; a client wanting only the first decision may close
// after reading one line).
type DecisionV1 struct {
	Decision    string        `json:"decision"`
	Obligations []interface{} `json:"obligations,omitempty"`
	Advice      []interface{} `json:"advice,omitempty"`
	Resource    interface{}   `json:"resource,omitempty"`
}
