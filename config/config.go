// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package config implements PDP configuration file parsing and default
// injection, grounded on the teacher's config/config.go.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
)

// Config is the top-level PDP configuration file (spec.md §4.8's PDP
// Configuration), sub-sectioned the way the teacher's Config keeps plugin
// sections as json.RawMessage: defer their own parsing, so adding a new
// finder/plugin section never requires touching this struct.
type Config struct {
	ID       string            `json:"id" yaml:"id"`
	Labels   map[string]string `json:"labels" yaml:"labels"`
	Log      LogConfig         `json:"log" yaml:"log"`
	Server   json.RawMessage   `json:"server" yaml:"server"`
	Policies json.RawMessage   `json:"policies" yaml:"policies"`
	Finders  json.RawMessage   `json:"finders" yaml:"finders"`

	CombiningAlgorithm string `json:"combining_algorithm" yaml:"combining_algorithm"`
	DefaultVote        string `json:"default_vote" yaml:"default_vote"`
	ErrorsMode         string `json:"errors_mode" yaml:"errors_mode"`

	Timing TimingConfig `json:"timing" yaml:"timing"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TimingConfig mirrors attribute.TimingParams in the file's wire format
// (durations as Go duration strings, e.g. "500ms").
type TimingConfig struct {
	InitialTimeout string `json:"initial_timeout" yaml:"initial_timeout"`
	PollInterval   string `json:"poll_interval" yaml:"poll_interval"`
	Backoff        string `json:"backoff" yaml:"backoff"`
	Retries        int    `json:"retries" yaml:"retries"`
}

const (
	defaultCombiningAlgorithm = "deny-overrides"
	defaultErrorsMode         = "propagate"
)

// ParseConfig parses a YAML- or JSON-encoded configuration file and injects
// defaults (teacher config.go's ParseConfig/validateAndInjectDefaults
// shape), stamping id into Labels the way the teacher stamps its own id.
func ParseConfig(raw []byte, id string) (*Config, error) {
	var result Config
	if err := Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if err := result.validateAndInjectDefaults(id); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Config) validateAndInjectDefaults(id string) error {
	if c.CombiningAlgorithm == "" {
		c.CombiningAlgorithm = defaultCombiningAlgorithm
	}
	if c.ErrorsMode == "" {
		c.ErrorsMode = defaultErrorsMode
	}
	if c.Labels == nil {
		c.Labels = map[string]string{}
	}
	c.Labels["id"] = id
	c.ID = id
	return nil
}

// Algorithm parses CombiningAlgorithm into an ast.Algorithm.
func (c Config) Algorithm() (ast.Algorithm, error) {
	alg, ok := ast.ParseAlgorithm(c.CombiningAlgorithm)
	if !ok {
		return ast.AlgDenyOverrides, fmt.Errorf("invalid combining_algorithm: %q", c.CombiningAlgorithm)
	}
	return alg, nil
}

// DefaultVoteValue parses DefaultVote, defaulting to ast.DefaultAbstain
// when unset (spec.md §4.7's "no default" behavior).
func (c Config) DefaultVoteValue() (ast.DefaultVote, error) {
	switch c.DefaultVote {
	case "", "none", "abstain":
		return ast.DefaultAbstain, nil
	case "permit":
		return ast.DefaultPermit, nil
	case "deny":
		return ast.DefaultDeny, nil
	default:
		return ast.DefaultAbstain, fmt.Errorf("invalid default_vote: %q", c.DefaultVote)
	}
}

// ErrorsModeValue parses ErrorsMode.
func (c Config) ErrorsModeValue() (ast.ErrorsMode, error) {
	switch c.ErrorsMode {
	case "", "propagate":
		return ast.ErrorsPropagate, nil
	case "abstain":
		return ast.ErrorsAbstain, nil
	default:
		return ast.ErrorsPropagate, fmt.Errorf("invalid errors_mode: %q", c.ErrorsMode)
	}
}

// TimingParams resolves the file's duration strings into
// attribute.TimingParams, falling back to attribute.Default()'s values for
// any field left as the empty string or zero.
func (c Config) TimingParams() (attribute.TimingParams, error) {
	def := attribute.Default()
	out := def
	var err error
	if c.Timing.InitialTimeout != "" {
		if out.InitialTimeout, err = time.ParseDuration(c.Timing.InitialTimeout); err != nil {
			return def, err
		}
	}
	if c.Timing.PollInterval != "" {
		if out.PollInterval, err = time.ParseDuration(c.Timing.PollInterval); err != nil {
			return def, err
		}
	}
	if c.Timing.Backoff != "" {
		if out.Backoff, err = time.ParseDuration(c.Timing.Backoff); err != nil {
			return def, err
		}
	}
	if c.Timing.Retries != 0 {
		out.Retries = c.Timing.Retries
	}
	return out, nil
}

// Unmarshal decodes either JSON or YAML bytes into v, following the
// teacher's util.Unmarshal convention of accepting YAML-authored config
// files by round-tripping through an interface{} and re-encoding to JSON
// before the final decode — this lets every Config field use ordinary
// `json` tags regardless of which the file was authored in.
func Unmarshal(bs []byte, v interface{}) error {
	trimmed := bytes.TrimLeft(bs, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.Unmarshal(bs, v)
	}
	var generic interface{}
	if err := yaml.Unmarshal(bs, &generic); err != nil {
		return err
	}
	jsonCompatible := toJSONCompatible(generic)
	buf, err := json.Marshal(jsonCompatible)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// toJSONCompatible rewrites map[interface{}]interface{} (yaml.v2's legacy
// shape; yaml.v3 already yields map[string]interface{}, but nested values
// decoded from anchors/merges can still surface it) into map[string]interface{}
// so encoding/json can marshal it.
func toJSONCompatible(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = toJSONCompatible(vv)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = toJSONCompatible(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = toJSONCompatible(vv)
		}
		return out
	default:
		return val
	}
}
