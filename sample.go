package krun

import (
	"errors"
	"fmt"
	"strings"
)

// Input is an opaque handle to a resolved sensor input.
type Input interface {
	String() string
}

// Source resolves and reads hardware sensor inputs.
type Source interface {
	// ResolveInput maps a (chip, feature) pair to a readable input handle.
	ResolveInput(chip, feature string) (Input, error)
	// Value reads the current value of a previously resolved input.
	Value(Input) (float64, error)
}

// Sampler produces one representative temperature per governor iteration.
type Sampler interface {
	Sample() (float64, error)
}

// FeatureSpec names one sensor input as a (chip, feature) pair, e.g.
// {"coretemp-isa-0000", "temp2"}.
type FeatureSpec struct {
	Chip    string
	Feature string
}

func (s FeatureSpec) String() string {
	return s.Chip + ":" + s.Feature
}

// ParseFeatureSpecs parses a comma separated list of chip:feature pairs.
func ParseFeatureSpecs(s string) ([]FeatureSpec, error) {
	var specs []FeatureSpec
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		chip, feature, ok := strings.Cut(pair, ":")
		if !ok || chip == "" || feature == "" {
			return nil, fmt.Errorf("invalid sensor spec %q, want chip:feature", pair)
		}
		specs = append(specs, FeatureSpec{Chip: chip, Feature: feature})
	}
	if len(specs) == 0 {
		return nil, errors.New("no sensors specified")
	}
	return specs, nil
}

type resolvedInput struct {
	spec  FeatureSpec
	input Input
}

// Aggregator reads a fixed set of temperature inputs and reduces them to the
// maximum observed value.
type Aggregator struct {
	src    Source
	inputs []resolvedInput
}

// NewAggregator resolves every spec through the source.  Resolution is a
// one-time startup cost; failure of any pair is an error, as the governor has
// no partial-success mode.
func NewAggregator(src Source, specs []FeatureSpec) (*Aggregator, error) {
	if len(specs) == 0 {
		return nil, errors.New("no sensors specified")
	}
	inputs := make([]resolvedInput, 0, len(specs))
	for _, spec := range specs {
		in, err := src.ResolveInput(spec.Chip, spec.Feature)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", spec, err)
		}
		inputs = append(inputs, resolvedInput{spec: spec, input: in})
	}
	return &Aggregator{src: src, inputs: inputs}, nil
}

// Sample returns the maximum value across all inputs.  Any read failure is
// an error: a missing or stale reading is worse than stopping, as the child
// could heat up unrestrained.
func (a *Aggregator) Sample() (float64, error) {
	max := -1.0
	for _, ri := range a.inputs {
		v, err := a.src.Value(ri.input)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", ri.spec, err)
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}
