package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Encode.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Encode writes cfg to w in the given format. The TOML and YAML output
// can be saved as .rerun.toml / .rerun.yaml and read back by ReadFile.
func Encode(w io.Writer, cfg *Config, format string) error {
	switch format {
	case FormatTOML, "":
		return toml.NewEncoder(w).Encode(cfg)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return &ConfigError{Key: "format", Msg: fmt.Sprintf("unknown format %q (want toml, yaml or json)", format)}
	}
}
