package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment overrides; "__" separates levels, so
// ALGSIM_SOLVER__TOL sets solver.tol.
const EnvPrefix = "ALGSIM_"

// flagKeys maps CLI flag names to problem keys.
var flagKeys = map[string]string{
	"tol":           "solver.tol",
	"error-on-fail": "solver.error_on_fail",
	"max-iter":      "solver.max_iterations",
	"debug":         "solver.debug",
	"points":        "times.points",
	"start":         "times.start",
	"stop":          "times.stop",
}

// LoadOptions selects the layers of a problem. Later layers win:
// defaults, preset, file, environment, explicitly set flags.
type LoadOptions struct {
	Preset string
	File   string
	Flags  *pflag.FlagSet
}

func Load(opts LoadOptions) (*Problem, error) {
	k := koanf.New(".")

	// 1. defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"times.start":           DefaultStart,
		"times.stop":            DefaultStop,
		"times.points":          DefaultPoints,
		"solver.tol":            DefaultTol,
		"solver.error_on_fail":  true,
		"solver.max_iterations": DefaultMaxIterations,
		"solver.debug":          false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. preset
	if opts.Preset != "" {
		preset := GetPreset(opts.Preset)
		if preset == nil {
			return nil, fmt.Errorf("unknown preset %q (available: %s)", opts.Preset, strings.Join(ListPresets(), ", "))
		}
		m, err := toMap(preset)
		if err != nil {
			return nil, fmt.Errorf("failed to encode preset %s: %w", opts.Preset, err)
		}
		if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
			return nil, fmt.Errorf("failed to load preset %s: %w", opts.Preset, err)
		}
	}

	// 3. problem file
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading problem file %s: %w", opts.File, err)
		}
	}

	// 4. environment
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. flags that were set explicitly
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !f.Changed || !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var p Problem
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("unable to decode problem: %w", err)
	}
	if len(p.Unknowns) == 0 {
		return nil, fmt.Errorf("problem %q declares no unknowns", p.Name)
	}
	return &p, nil
}

// toMap round-trips p through YAML so koanf sees the same keys a file has.
func toMap(p *Problem) (map[string]interface{}, error) {
	data, err := yamlv3.Marshal(p)
	if err != nil {
		return nil, err
	}
	return yaml.Parser().Unmarshal(data)
}
