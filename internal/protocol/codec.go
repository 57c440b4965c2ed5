package protocol

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/visiontool/internal/fault"
)

// MinimalErrorLine is the fixed last-resort envelope. It carries no dynamic
// content so its size is known.
var MinimalErrorLine = []byte(`{"req_id":null,"ok":false,"error":{"code":"BAD_REQUEST","message":"too_long"}}`)

var upper = cases.Upper(language.Und)

// NormalizeCommand upper-cases a command or mode name.
func NormalizeCommand(s string) string {
	return upper.String(s)
}

// Decode parses one request line.
//
// On failure it returns a BAD_REQUEST response. The response echoes req_id
// when it could be recovered from the line, otherwise req_id is null.
func Decode(line []byte) (Request, *Response) {
	if line == nil {
		return Request{}, badRequest(nil, "empty")
	}
	if !utf8.Valid(line) || !json.Valid(line) {
		return Request{}, badRequest(nil, "bad_json")
	}
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Request{}, badRequest(nil, "bad_obj")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Request{}, badRequest(nil, "bad_obj")
	}

	rawID, ok := fields["req_id"]
	if !ok || isNull(rawID) {
		return Request{}, badRequest(nil, "missing_req")
	}
	reqID, ok := compactScalar(rawID)
	if !ok {
		return Request{}, badRequest(nil, "bad_req_id")
	}

	rawCmd, ok := fields["cmd"]
	if !ok || isNull(rawCmd) {
		return Request{}, badRequest(reqID, "missing_cmd")
	}

	return Request{
		ReqID:   reqID,
		Command: NormalizeCommand(commandText(rawCmd)),
		Args:    decodeArgs(fields["args"]),
	}, nil
}

// Encode serializes resp compactly. If the result exceeds maxBytes it is
// replaced by BAD_REQUEST("too_long") for the same req_id, and if that still
// does not fit, by MinimalErrorLine.
func Encode(resp Response, maxBytes int) []byte {
	if data, err := marshalCompact(resp); err == nil && len(data) <= maxBytes {
		return data
	}
	fallback, err := marshalCompact(ShortError(resp.ReqID, fault.CodeBadRequest, "too_long"))
	if err == nil && len(fallback) <= maxBytes {
		return fallback
	}
	return append([]byte(nil), MinimalErrorLine...)
}

// marshalCompact encodes without HTML escaping and without the encoder's
// trailing newline.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func badRequest(reqID json.RawMessage, message string) *Response {
	resp := ShortError(reqID, fault.CodeBadRequest, message)
	return &resp
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// compactScalar accepts strings, numbers and booleans.
func compactScalar(raw json.RawMessage) (json.RawMessage, bool) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, false
	}
	out := buf.Bytes()
	if len(out) == 0 || out[0] == '{' || out[0] == '[' {
		return nil, false
	}
	return json.RawMessage(out), true
}

// commandText returns a string command as-is and any other JSON value as its
// compact text, which then fails routing as an unknown command.
func commandText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func decodeArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded == nil {
		return args
	}
	return decoded
}
