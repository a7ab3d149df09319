// Package config holds the runtime settings and the custom command line
// option types used to fill them, plus the optional TOML defaults file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mattn/go-isatty"

	"github.com/mapitools/mapiproxy/mapi"
)

// DefaultBriefLines is how many head and tail lines --brief keeps when
// given without a count.
const DefaultBriefLines = 3

// AppSettings is the full configuration. The fields correspond to the
// command line options; a TOML file can supply defaults for options the
// command line leaves unset.
type AppSettings struct {
	Level       mapi.Level
	ForceBinary bool
	Brief       BriefOption
	Color       When
	Flush       When
	Output      string
	PcapFile    string
	Oob         bool
	ConfigFile  string
	ShowVersion bool
}

// When is a tri-state option for features that can probe the
// environment, like --color and --flush. Auto resolves against the
// actual output stream.
type When uint8

const (
	WhenAuto When = iota
	WhenAlways
	WhenNever
)

func (w When) String() string {
	switch w {
	case WhenAlways:
		return "always"
	case WhenNever:
		return "never"
	default:
		return "auto"
	}
}

// Set implements flag.Value.
func (w *When) Set(value string) error {
	switch value {
	case "always", "yes", "on":
		*w = WhenAlways
	case "never", "no", "off":
		*w = WhenNever
	case "auto":
		*w = WhenAuto
	default:
		return fmt.Errorf("must be 'always', 'auto' or 'never', not %q", value)
	}
	return nil
}

// Evaluate resolves the tri-state against the actual output. Auto means
// on when the output is a terminal.
func (w When) Evaluate(out *os.File) bool {
	switch w {
	case WhenAlways:
		return true
	case WhenNever:
		return false
	default:
		fd := out.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
}

// BriefOption is an optional-value flag. Plain --brief enables
// abbreviation with the default line count, --brief=N picks the count,
// 0 disables it.
type BriefOption struct {
	Lines int
}

func (b *BriefOption) String() string {
	return strconv.Itoa(b.Lines)
}

// Set implements flag.Value.
func (b *BriefOption) Set(value string) error {
	switch value {
	case "true":
		b.Lines = DefaultBriefLines
		return nil
	case "false":
		b.Lines = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative line count, not %q", value)
	}
	b.Lines = n
	return nil
}

// IsBoolFlag lets --brief appear without a value.
func (b *BriefOption) IsBoolFlag() bool { return true }

// FileDefaults mirrors the TOML defaults file. Every key is optional;
// absent keys leave the built-in default in place.
type FileDefaults struct {
	Level  *string `toml:"level"`
	Binary *bool   `toml:"binary"`
	Brief  *int    `toml:"brief"`
	Color  *string `toml:"color"`
	Flush  *string `toml:"flush"`
	Output *string `toml:"output"`
	Oob    *bool   `toml:"oob"`
}

// LoadDefaults reads a TOML defaults file. Unknown keys are rejected so
// a typo does not silently fall back to the built-in default.
func LoadDefaults(path string) (*FileDefaults, error) {
	var d FileDefaults
	meta, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return &d, nil
}

// Apply copies the file defaults into the settings, skipping every
// option the command line set explicitly.
func (d *FileDefaults) Apply(s *AppSettings, explicit map[string]bool) error {
	if d.Level != nil && !explicit["messages"] && !explicit["blocks"] && !explicit["raw"] &&
		!explicit["m"] && !explicit["b"] && !explicit["r"] {
		if err := s.Level.Set(*d.Level); err != nil {
			return fmt.Errorf("config key 'level': %w", err)
		}
	}
	if d.Binary != nil && !explicit["B"] && !explicit["binary"] {
		s.ForceBinary = *d.Binary
	}
	if d.Brief != nil && !explicit["brief"] {
		if *d.Brief < 0 {
			return fmt.Errorf("config key 'brief': must be non-negative, not %d", *d.Brief)
		}
		s.Brief.Lines = *d.Brief
	}
	if d.Color != nil && !explicit["color"] {
		if err := s.Color.Set(*d.Color); err != nil {
			return fmt.Errorf("config key 'color': %w", err)
		}
	}
	if d.Flush != nil && !explicit["flush"] {
		if err := s.Flush.Set(*d.Flush); err != nil {
			return fmt.Errorf("config key 'flush': %w", err)
		}
	}
	if d.Output != nil && !explicit["o"] && !explicit["output"] {
		s.Output = *d.Output
	}
	if d.Oob != nil && !explicit["oob"] {
		s.Oob = *d.Oob
	}
	return nil
}
