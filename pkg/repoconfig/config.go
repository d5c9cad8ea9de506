// Package repoconfig models the per-repository configuration document
// stored at .github/tickettagger.yml.
//
// A document looks like:
//
//	version: 3
//	enabled: true
//	labels:
//	  bug: {enabled: true, text: bug}
//	  enhancement: {enabled: true, text: enhancement}
//	  question: {enabled: true, text: question}
//
// Any key missing from a stored document takes its default. Edits are
// expressed as a flat list of operations (see Diff) and replayed onto the
// stored YAML node tree (see Apply) so comments and unrelated keys survive.
package repoconfig

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Path is the location of the document inside a repository.
const Path = ".github/tickettagger.yml"

// CurrentVersion is the newest schema version this build understands.
const CurrentVersion = 3

// Built-in label keys produced by the classifier.
const (
	LabelBug         = "bug"
	LabelEnhancement = "enhancement"
	LabelQuestion    = "question"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid repository config")

// Label configures how one predicted label key is written to an issue.
type Label struct {
	Enabled bool   `yaml:"enabled"`
	Text    string `yaml:"text"`
}

// Config is the parsed repository configuration.
type Config struct {
	Version int              `yaml:"version"`
	Enabled bool             `yaml:"enabled"`
	Labels  map[string]Label `yaml:"labels"`
}

// Defaults returns the configuration used when a repository has none.
func Defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		Enabled: true,
		Labels: map[string]Label{
			LabelBug:         {Enabled: true, Text: LabelBug},
			LabelEnhancement: {Enabled: true, Text: LabelEnhancement},
			LabelQuestion:    {Enabled: true, Text: LabelQuestion},
		},
	}
}

// rawConfig distinguishes absent keys from zero values.
type rawConfig struct {
	Version *int                `yaml:"version"`
	Enabled *bool               `yaml:"enabled"`
	Labels  map[string]rawLabel `yaml:"labels"`
}

type rawLabel struct {
	Enabled *bool   `yaml:"enabled"`
	Text    *string `yaml:"text"`
}

// Parse decodes a stored document and fills every missing key from
// Defaults, down to individual label fields. An empty document yields the
// defaults. Labels not known to the defaults are kept; their missing fields
// default to enabled with the key as text.
func Parse(raw []byte) (*Config, error) {
	var doc rawConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", Path, err)
	}

	cfg := Defaults()
	if doc.Version != nil {
		cfg.Version = *doc.Version
	}
	if doc.Enabled != nil {
		cfg.Enabled = *doc.Enabled
	}
	for key, stored := range doc.Labels {
		label, ok := cfg.Labels[key]
		if !ok {
			label = Label{Enabled: true, Text: key}
		}
		if stored.Enabled != nil {
			label.Enabled = *stored.Enabled
		}
		if stored.Text != nil {
			label.Text = *stored.Text
		}
		cfg.Labels[key] = label
	}
	return cfg, nil
}

// Render encodes cfg as a fresh YAML document.
func Render(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return encodeNode(&doc)
}

// Validate checks the schema version and label texts.
func (c *Config) Validate() error {
	if c.Version < 1 || c.Version > CurrentVersion {
		return fmt.Errorf("%w: version %d not in 1..%d", ErrInvalidConfig, c.Version, CurrentVersion)
	}
	for _, key := range c.LabelKeys() {
		if c.Labels[key].Text == "" {
			return fmt.Errorf("%w: label %q has empty text", ErrInvalidConfig, key)
		}
	}
	return nil
}

// Label returns the settings for key. ok is false for unknown keys.
func (c *Config) Label(key string) (label Label, ok bool) {
	label, ok = c.Labels[key]
	return label, ok
}

// LabelKeys returns the configured label keys in sorted order.
func (c *Config) LabelKeys() []string {
	keys := make([]string, 0, len(c.Labels))
	for key := range c.Labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// withDefaults returns a copy of c with missing labels and an unset version
// filled in. A nil c yields Defaults.
func withDefaults(c *Config) *Config {
	out := Defaults()
	if c == nil {
		return out
	}
	if c.Version != 0 {
		out.Version = c.Version
	}
	out.Enabled = c.Enabled
	for key, label := range c.Labels {
		out.Labels[key] = label
	}
	return out
}

// tree converts c into nested maps for diffing.
func (c *Config) tree() map[string]any {
	labels := make(map[string]any, len(c.Labels))
	for key, label := range c.Labels {
		labels[key] = map[string]any{
			"enabled": label.Enabled,
			"text":    label.Text,
		}
	}
	return map[string]any{
		"version": c.Version,
		"enabled": c.Enabled,
		"labels":  labels,
	}
}
