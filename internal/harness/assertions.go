package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an expectation fails.
// It includes the transcript so far to help debug the failure.
type AssertionError struct {
	Step       int // 1-based
	Expected   string
	Actual     string
	Transcript []Exchange
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "step %d failed\n", e.Step)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nTranscript:\n")
	for i, ex := range e.Transcript {
		fmt.Fprintf(&buf, "  [%d] -> %s\n", i+1, ex.Request)
		fmt.Fprintf(&buf, "      <- %s\n", ex.Response)
	}
	return buf.String()
}

// wireResponse mirrors the response envelope for decoding.
type wireResponse struct {
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// checkExpect validates the response of step i (0-based).
func checkExpect(i int, exp *Expect, transcript []Exchange) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Step: i + 1, Expected: expected, Actual: actual, Transcript: transcript}
	}
	got := transcript[i].Response

	if exp.SameAs > 0 {
		want := transcript[exp.SameAs-1].Response
		if got != want {
			return fail(fmt.Sprintf("same response as step %d: %s", exp.SameAs, want), got)
		}
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(got), &resp); err != nil {
		return fail("a JSON response", fmt.Sprintf("%s (%v)", got, err))
	}

	if exp.OK != nil && resp.OK != *exp.OK {
		return fail(fmt.Sprintf("ok=%t", *exp.OK), got)
	}
	if exp.Code != "" {
		if resp.Error == nil || resp.Error.Code != exp.Code {
			return fail(fmt.Sprintf("error code %s", exp.Code), got)
		}
	}
	if exp.Message != "" {
		if resp.Error == nil || resp.Error.Message != exp.Message {
			return fail(fmt.Sprintf("error message %q", exp.Message), got)
		}
	}
	if exp.Result != nil {
		want, err := normalize(exp.Result)
		if err != nil {
			return fail("an encodable result expectation", err.Error())
		}
		if !matchSubset(want, any(resp.Result)) {
			data, _ := json.Marshal(want)
			return fail(fmt.Sprintf("result containing %s", data), got)
		}
	}
	return nil
}

// normalize round-trips v through JSON so YAML integers compare equal to
// decoded JSON numbers.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchSubset reports whether actual contains expected. Maps match when every
// expected key matches; slices must have equal length and match element-wise.
func matchSubset(expected, actual any) bool {
	switch want := expected.(type) {
	case map[string]any:
		got, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range want {
			gv, present := got[k]
			if !present || !matchSubset(v, gv) {
				return false
			}
		}
		return true
	case []any:
		got, ok := actual.([]any)
		if !ok || len(got) != len(want) {
			return false
		}
		for i := range want {
			if !matchSubset(want[i], got[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(expected, actual)
	}
}
