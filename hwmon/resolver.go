package hwmon

import (
	"fmt"

	"github.com/rusq/krun"
)

// Resolver adapts FS to the governor's sensor source contract.
type Resolver struct {
	fs *FS
}

// Resolver returns the krun sensor source backed by this filesystem.
func (fs *FS) Resolver() *Resolver {
	return &Resolver{fs: fs}
}

// ResolveInput finds the first detected chip matching the chip name pattern
// that carries the named feature, and resolves that feature's input.  A
// matching chip without the feature does not stop the scan; a matching
// feature without an input subquantity does.
func (r *Resolver) ResolveInput(chip, feature string) (krun.Input, error) {
	pat, err := ParseChipName(chip)
	if err != nil {
		return nil, fmt.Errorf("unable to parse chip name %q: %w", chip, err)
	}
	chips, err := r.fs.DetectedChips()
	if err != nil {
		return nil, err
	}
	for _, c := range chips {
		if !pat.Match(c.ID) {
			continue
		}
		ff, err := c.Features()
		if err != nil {
			return nil, err
		}
		for _, f := range ff {
			if f.Name != feature {
				continue
			}
			in, err := c.Input(feature)
			if err != nil {
				return nil, err
			}
			return in, nil
		}
	}
	return nil, fmt.Errorf("failed to find feature %q on chip %q", feature, chip)
}

// Value reads a previously resolved input.
func (r *Resolver) Value(in krun.Input) (float64, error) {
	hin, ok := in.(Input)
	if !ok {
		return 0, fmt.Errorf("not an hwmon input: %v", in)
	}
	return r.fs.Value(hin)
}
