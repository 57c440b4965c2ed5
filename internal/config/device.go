package config

import "github.com/spf13/cast"

// DeviceOverrides are the optional settings read from config.json on the
// storage root at boot. Absent or malformed fields are left nil.
type DeviceOverrides struct {
	Debug           *bool
	FaceScoreStrong *float64
	FaceScoreWeak   *float64
}

// ParseDeviceOverrides extracts known keys from a decoded config.json object.
func ParseDeviceOverrides(raw map[string]any) DeviceOverrides {
	var out DeviceOverrides
	if v, ok := raw["debug"]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			out.Debug = &b
		}
	}
	if v, ok := raw["face_score_strong"]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f >= 0 {
			out.FaceScoreStrong = &f
		}
	}
	if v, ok := raw["face_score_weak"]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f >= 0 {
			out.FaceScoreWeak = &f
		}
	}
	return out
}

// Apply copies threshold overrides into v. A pair that would leave the weak
// threshold below the strong one is ignored.
func (o DeviceOverrides) Apply(v *VisionConfig) {
	strong, weak := v.FaceScoreStrong, v.FaceScoreWeak
	if o.FaceScoreStrong != nil {
		strong = *o.FaceScoreStrong
	}
	if o.FaceScoreWeak != nil {
		weak = *o.FaceScoreWeak
	}
	if weak < strong {
		return
	}
	v.FaceScoreStrong, v.FaceScoreWeak = strong, weak
}
