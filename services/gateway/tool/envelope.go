// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tool defines the internal tool envelope shared by the use-case
// services, the dispatcher and the MCP router.
//
// The envelope's ok field is authoritative for tool success; HTTP status only
// reflects transport success. Every error carries a stable code and a
// non-empty details.reason (the normalizer injects reason = code when a
// service omits it).
package tool

import "fmt"

// Code is a stable machine-readable error code.
type Code string

// Tool error codes.
const (
	CodeInvalidPayload        Code = "invalid_payload"
	CodeInvalidState          Code = "invalid_state"
	CodeRevisionMissing       Code = "invalid_state_revision_missing"
	CodeRevisionMismatch      Code = "invalid_state_revision_mismatch"
	CodeUnsupportedFormat     Code = "unsupported_format"
	CodeNotImplemented        Code = "not_implemented"
	CodeIOError               Code = "io_error"
	CodeNoChange              Code = "no_change"
	CodeUnknown               Code = "unknown"
	CodePersistentConflict    Code = "persistent_conflict"
	CodePersistentLockTimeout Code = "persistent_lock_timeout"
	CodeSessionExpired        Code = "session_expired"
)

// Well-known details.reason tokens beyond the codes themselves.
const (
	ReasonUnknownTool         = "unknown_tool"
	ReasonDialogInputRequired = "adapter_project_dialog_input_required"
	ReasonBoneDescendant      = "MODEL_BONE_DESCENDANT_PARENT"
)

// Error is a tool failure.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reason returns details.reason, or "".
func (e *Error) Reason() string {
	if e.Details == nil {
		return ""
	}
	r, _ := e.Details["reason"].(string)
	return r
}

// ContentBlock is an MCP content block (text or image).
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds a base64 image content block.
func ImageBlock(b64, mimeType string) ContentBlock {
	return ContentBlock{Type: "image", Data: b64, MimeType: mimeType}
}

// Ref marks a next-action argument to be filled in at execution time, either
// from a user answer or a previous tool result.
type Ref struct {
	// Kind is "user" or "tool".
	Kind string `json:"kind"`
	// Field names the dialog field or result path supplying the value.
	Field string `json:"field"`
}

// NextAction is a heuristic hint for the agent's next step.
type NextAction struct {
	// Kind is one of call-tool, ask-user, read-resource.
	Kind   string         `json:"kind"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
	Fields []string       `json:"fields,omitempty"`
	URI    string         `json:"uri,omitempty"`
}

// Response is the internal tool envelope.
type Response struct {
	OK                bool           `json:"ok"`
	Data              map[string]any `json:"data,omitempty"`
	Error             *Error         `json:"error,omitempty"`
	Content           []ContentBlock `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	NextActions       []NextAction   `json:"nextActions,omitempty"`
}

// OK builds a success response.
func OK(data map[string]any) *Response {
	if data == nil {
		data = map[string]any{}
	}
	return &Response{OK: true, Data: data}
}

// Fail builds a failure response.
func Fail(code Code, message string, details map[string]any) *Response {
	return &Response{OK: false, Error: &Error{Code: code, Message: message, Details: details}}
}

// FailErr wraps an existing *Error.
func FailErr(err *Error) *Response {
	return &Response{OK: false, Error: err}
}
