// Package config holds the runtime configuration for visiontool.
//
// Configuration is a YAML file decoded over Default() and validated against
// the embedded CUE schema. Values that describe the device protocol
// (limits, timeouts, thresholds) default to the constants the appliance
// ships with.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity reported by PING and INFO.
const (
	ToolName        = "vision_k210"
	FWVersion       = "1.0.0"
	ProtocolVersion = "1"
)

// Config represents the complete runtime configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial" json:"serial"`
	Protocol ProtocolConfig `yaml:"protocol" json:"protocol"`
	Vision   VisionConfig   `yaml:"vision" json:"vision"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Status   StatusConfig   `yaml:"status" json:"status"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
}

// SerialConfig contains transport settings.
type SerialConfig struct {
	Port          string `yaml:"port" json:"port"`
	Baud          int    `yaml:"baud" json:"baud"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms" json:"read_timeout_ms"` // per read call
	LineTimeoutMS int    `yaml:"line_timeout_ms" json:"line_timeout_ms"` // per assembled line
	MaxLineBytes  int    `yaml:"max_line_bytes" json:"max_line_bytes"`
}

// ProtocolConfig contains envelope and dispatch limits.
type ProtocolConfig struct {
	MaxJSONBytes     int `yaml:"max_json_bytes" json:"max_json_bytes"`
	CommandTimeoutMS int `yaml:"command_timeout_ms" json:"command_timeout_ms"`
	DedupTTLMS       int `yaml:"dedup_ttl_ms" json:"dedup_ttl_ms"`
}

// VisionConfig contains frame limits, thresholds and model locations.
type VisionConfig struct {
	MaxObjects           int            `yaml:"max_objects" json:"max_objects"`
	MaxScanFrames        int            `yaml:"max_scan_frames" json:"max_scan_frames"`
	MaxLearnFrames       int            `yaml:"max_learn_frames" json:"max_learn_frames"`
	DefaultLearnFrames   int            `yaml:"default_learn_frames" json:"default_learn_frames"`
	FaceScoreStrong      float64        `yaml:"face_score_strong" json:"face_score_strong"`
	FaceScoreWeak        float64        `yaml:"face_score_weak" json:"face_score_weak"`
	FaceModelAddr        int            `yaml:"face_model_addr" json:"face_model_addr"`
	ObjectModelFlashAddr *int           `yaml:"object_model_flash_addr" json:"object_model_flash_addr"`
	SupportedObjects     []string       `yaml:"supported_objects" json:"supported_objects"`
	FallbackInput        InputSize      `yaml:"fallback_input" json:"fallback_input"`
	Detector             DetectorConfig `yaml:"detector" json:"detector"`
}

// InputSize is a detector input resolution.
type InputSize struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// DetectorConfig holds YOLOv2 region-layer parameters.
type DetectorConfig struct {
	Threshold float64   `yaml:"threshold" json:"threshold"`
	NMS       float64   `yaml:"nms" json:"nms"`
	Anchors   []float64 `yaml:"anchors" json:"anchors"`
}

// StorageConfig describes the persistence layout. Paths other than Root are
// relative to Root.
type StorageConfig struct {
	Root         string `yaml:"root" json:"root"`
	FacesDir     string `yaml:"faces_dir" json:"faces_dir"`
	ModelsDir    string `yaml:"models_dir" json:"models_dir"`
	ObjectModel  string `yaml:"object_model" json:"object_model"`
	ClassesFile  string `yaml:"classes_file" json:"classes_file"`
	LabelMapFile string `yaml:"label_map_file" json:"label_map_file"`
	ConfigFile   string `yaml:"config_file" json:"config_file"`
}

// StatusConfig selects the status indicator hardware.
type StatusConfig struct {
	GPIOPin string `yaml:"gpio_pin" json:"gpio_pin"` // empty disables the GPIO sink
}

// JournalConfig controls the SQLite request journal.
type JournalConfig struct {
	Path                 string `yaml:"path" json:"path"` // empty disables the journal
	RetentionHours       int    `yaml:"retention_hours" json:"retention_hours"`
	PruneIntervalMinutes int    `yaml:"prune_interval_minutes" json:"prune_interval_minutes"`
}

// DefaultSupportedObjects is the canonical object label list, in output order.
var DefaultSupportedObjects = []string{
	"door",
	"window",
	"sofa",
	"chair",
	"table",
	"cup",
	"person",
}

// DefaultAnchors are the YOLOv2 anchors of the stock face model.
var DefaultAnchors = []float64{
	1.889, 2.5245, 2.9465, 3.94056, 3.99987,
	5.3658, 5.155437, 6.92275, 6.718375, 9.01025,
}

// Default returns the configuration the appliance ships with.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          "/dev/ttyS1",
			Baud:          115200,
			ReadTimeoutMS: 120,
			LineTimeoutMS: 300,
			MaxLineBytes:  1024,
		},
		Protocol: ProtocolConfig{
			MaxJSONBytes:     768,
			CommandTimeoutMS: 5000,
			DedupTTLMS:       2000,
		},
		Vision: VisionConfig{
			MaxObjects:         16,
			MaxScanFrames:      5,
			MaxLearnFrames:     15,
			DefaultLearnFrames: 7,
			FaceScoreStrong:    12,
			FaceScoreWeak:      18,
			FaceModelAddr:      0x300000,
			SupportedObjects:   append([]string(nil), DefaultSupportedObjects...),
			FallbackInput:      InputSize{Width: 224, Height: 224},
			Detector: DetectorConfig{
				Threshold: 0.5,
				NMS:       0.3,
				Anchors:   append([]float64(nil), DefaultAnchors...),
			},
		},
		Storage: StorageConfig{
			Root:         "/sd",
			FacesDir:     "faces_data",
			ModelsDir:    "models",
			ObjectModel:  "models/objects.kmodel",
			ClassesFile:  "models/classes.txt",
			LabelMapFile: "models/label_map.json",
			ConfigFile:   "config.json",
		},
		Journal: JournalConfig{
			RetentionHours:       24,
			PruneIntervalMinutes: 60,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CommandTimeout returns the per-command deadline budget.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Protocol.CommandTimeoutMS) * time.Millisecond
}

// DedupTTL returns the idempotency window.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Protocol.DedupTTLMS) * time.Millisecond
}

// LineTimeout returns the budget for assembling one request line.
func (c *Config) LineTimeout() time.Duration {
	return time.Duration(c.Serial.LineTimeoutMS) * time.Millisecond
}

// Retention returns how long journal rows are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Journal.RetentionHours) * time.Hour
}

// PruneInterval returns how often the journal is pruned.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Journal.PruneIntervalMinutes) * time.Minute
}
