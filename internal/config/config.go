// Package config loads the optional JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"

	"patchdiff/internal/disasm"
	"patchdiff/internal/oracle/external"
	"patchdiff/internal/report"
)

// EnvPath names the variable holding the default config path.
const EnvPath = "PATCHDIFF_CONFIG"

// Config represents configuration for patchdiff. Command-line flags
// override every field.
type Config struct {
	Debug     bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	Oracle    string `json:"oracle,omitempty" jsonschema:"title=Oracle,description=Analysis backend,enum=native,enum=external,default=native"`
	Arch      string `json:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder architecture when the binary header does not name one,enum=x86,enum=x86-64,enum=arm64"`
	Cmp       string `json:"cmp,omitempty" jsonschema:"title=Comparator,description=Path to a cmp binary; empty compares in-process"`
	Format    string `json:"format,omitempty" jsonschema:"title=Format,description=Report format,enum=text,enum=json,enum=yaml,enum=markdown,default=text"`
	MaxPasses int    `json:"maxPasses,omitempty" jsonschema:"title=Max Passes,description=Upper bound on extension passes,minimum=2,default=64"`

	External external.Config `json:"external,omitempty" jsonschema:"title=External Oracle,description=Settings for the external analysis tool"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{Oracle: "native", Format: "text"}
}

// Load reads path over the defaults. An empty path falls back to
// $PATCHDIFF_CONFIG; no path at all yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c Config) Validate() error {
	switch c.Oracle {
	case "", "native", "external":
	default:
		return fmt.Errorf("unknown oracle %q", c.Oracle)
	}
	if c.Format != "" {
		if _, err := report.ParseFormat(c.Format); err != nil {
			return err
		}
	}
	if c.Arch != "" {
		if _, err := disasm.ParseArch(c.Arch); err != nil {
			return err
		}
	}
	if c.MaxPasses < 0 {
		return errors.New("maxPasses must not be negative")
	}
	return nil
}

// qualifiedName prefixes types from other packages with their package name
// so external.Config does not collide with Config.
func qualifiedName(t reflect.Type) string {
	if t.PkgPath() == reflect.TypeOf(Config{}).PkgPath() {
		return t.Name()
	}
	pkg := path.Base(t.PkgPath())
	if pkg == "" || pkg == "." {
		return t.Name()
	}
	return strings.ToUpper(pkg[:1]) + pkg[1:] + t.Name()
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := &jsonschema.Reflector{Namer: qualifiedName}
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
