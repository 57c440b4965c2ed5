package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted request transcript.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup describes the peripherals the runtime boots with.
	Setup Setup `yaml:"setup,omitempty"`

	// Steps are sent in order, one line each.
	Steps []Step `yaml:"steps"`
}

// Setup scripts the fake device.
type Setup struct {
	// SD reports whether the card is present. Defaults to true.
	SD *bool `yaml:"sd,omitempty"`

	// Faces are the [x, y, w, h] boxes the face detector reports per frame.
	Faces [][4]int `yaml:"faces,omitempty"`

	// Objects are the class ids the object detector reports per frame.
	Objects []int `yaml:"objects,omitempty"`

	// ObjectModel places the object model file on the card.
	ObjectModel bool `yaml:"object_model,omitempty"`

	// CameraFails makes every camera init fail.
	CameraFails bool `yaml:"camera_fails,omitempty"`

	// DeviceConfig is written to config.json on the card before boot.
	DeviceConfig map[string]any `yaml:"device_config,omitempty"`
}

// Step sends one line and optionally checks the response.
type Step struct {
	Send      string  `yaml:"send"`
	AdvanceMS int     `yaml:"advance_ms,omitempty"`
	Expect    *Expect `yaml:"expect,omitempty"`
}

// Expect is a partial description of a response.
type Expect struct {
	OK      *bool          `yaml:"ok,omitempty"`
	Code    string         `yaml:"code,omitempty"`
	Message string         `yaml:"message,omitempty"`
	Result  map[string]any `yaml:"result,omitempty"`
	SameAs  int            `yaml:"same_as,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if step.Send == "" {
			return fmt.Errorf("step %d: send is required", i+1)
		}
		if step.AdvanceMS < 0 {
			return fmt.Errorf("step %d: advance_ms must not be negative", i+1)
		}
		if step.Expect != nil && step.Expect.SameAs != 0 {
			if step.Expect.SameAs < 1 || step.Expect.SameAs > i {
				return fmt.Errorf("step %d: same_as must name an earlier step", i+1)
			}
		}
	}
	return nil
}
