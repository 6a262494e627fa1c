package pacing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var presets = map[string]Params{
	"safe": {
		Mode:        ModeVariable,
		BaseDelay:   60 * time.Second,
		JitterMin:   10 * time.Second,
		JitterMax:   20 * time.Second,
		WarmUpCount: 5,
		WarmUpExtra: 90 * time.Second,
	},
	"moderate": {
		Mode:        ModeVariable,
		BaseDelay:   45 * time.Second,
		JitterMin:   5 * time.Second,
		JitterMax:   15 * time.Second,
		WarmUpCount: 3,
		WarmUpExtra: 60 * time.Second,
	},
	"fast": {
		Mode:        ModeVariable,
		BaseDelay:   30 * time.Second,
		JitterMin:   3 * time.Second,
		JitterMax:   10 * time.Second,
		WarmUpCount: 2,
		WarmUpExtra: 30 * time.Second,
	},
}

// Defaults are used when neither a preset nor explicit values are configured.
func Defaults() Params {
	return Params{
		Mode:        ModeVariable,
		BaseDelay:   60 * time.Second,
		JitterMin:   5 * time.Second,
		JitterMax:   15 * time.Second,
		WarmUpCount: 5,
		WarmUpExtra: 90 * time.Second,
	}
}

// Preset returns the named preset ("safe", "moderate", "fast").
func Preset(name string) (Params, error) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Params{}, fmt.Errorf("unknown pacing preset %q (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
