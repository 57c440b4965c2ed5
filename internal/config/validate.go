package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// Validate checks cfg against the #Config definition in schema.cue.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("config schema: #Config not defined")
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
