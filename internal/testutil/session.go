// Package testutil provides deterministic fakes for the peripherals and
// identifiers used across package tests.
package testutil

// FixedIDGenerator returns the same session identifier every time, so that
// journal rows and INFO results are stable in tests.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator. An empty id yields
// "test-session".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed identifier.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
