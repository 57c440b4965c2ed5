// Package protocol implements the newline-delimited JSON wire format: line
// framing with a hard byte cap, request decoding and size-bounded response
// encoding.
package protocol

import (
	"encoding/json"

	"github.com/roach88/visiontool/internal/fault"
)

// Request is a decoded and validated command envelope.
type Request struct {
	// ReqID is the compact JSON text of the client identifier. It is echoed
	// verbatim and used as the dedup key, so 1 and "1" are distinct.
	ReqID json.RawMessage

	// Command is the upper-cased command name.
	Command string

	// Args is never nil; absent or non-object args decode to an empty map.
	Args map[string]any
}

// Key returns the dedup cache key for the request.
func (r Request) Key() string {
	return string(r.ReqID)
}

// Response is the single reply written for each request line.
type Response struct {
	ReqID  json.RawMessage `json:"req_id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error member of a failed response.
type ErrorBody struct {
	Code    fault.Code `json:"code"`
	Message string     `json:"message"`
}

// Success builds an ok response.
func Success(reqID json.RawMessage, result any) Response {
	if result == nil {
		result = map[string]any{}
	}
	return Response{ReqID: reqID, OK: true, Result: result}
}

// ShortError builds a failed response. An empty message falls back to the
// code default; longer messages are clipped.
func ShortError(reqID json.RawMessage, code fault.Code, message string) Response {
	return FromFault(reqID, fault.New(code, message))
}

// FromFault builds a failed response from a typed error.
func FromFault(reqID json.RawMessage, err *fault.Error) Response {
	return Response{
		ReqID: reqID,
		OK:    false,
		Error: &ErrorBody{Code: err.Code, Message: err.WireMessage()},
	}
}
