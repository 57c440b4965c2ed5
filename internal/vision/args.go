package vision

import (
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// Frame defaults by mode.
const (
	fastFrames     = 1
	reliableFrames = 3
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// scanFrames resolves the frame count from args.mode and args.frames.
func scanFrames(args map[string]any, maxFrames int) int {
	frames := reliableFrames
	if mode, ok := args["mode"]; ok && upper.String(cast.ToString(mode)) == "FAST" {
		frames = fastFrames
	}
	if raw, ok := args["frames"]; ok {
		if n, err := cast.ToIntE(raw); err == nil {
			frames = n
		}
	}
	return clampInt(frames, 1, maxFrames)
}

// learnFrames resolves args.frames for LEARN.
func learnFrames(args map[string]any, def, maxFrames int) int {
	frames := def
	if raw, ok := args["frames"]; ok {
		if n, err := cast.ToIntE(raw); err == nil {
			frames = n
		}
	}
	return clampInt(frames, 1, maxFrames)
}

// BoolArg reads a flag. Strings "1", "true", "yes" and "on" are true in any
// case; numbers are true when non-zero; absent values take def.
func BoolArg(v any, def bool) bool {
	switch x := v.(type) {
	case nil:
		return def
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f != 0
	}
	return false
}
