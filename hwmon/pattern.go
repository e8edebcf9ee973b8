package hwmon

import (
	"errors"
	"strings"
)

// knownBuses are the bus types that can appear in a chip identifier.
var knownBuses = []string{"isa", "pci", "i2c", "spi", "acpi", "hid", "mdio", "scsi", "virtual"}

// Pattern is a parsed chip name pattern of the form name[-bus[-addr]].  Any
// component may be "*"; omitted trailing components match anything.
type Pattern struct {
	name string
	bus  string
	addr string
}

// ParseChipName parses a chip name pattern.  The chip name itself may
// contain dashes (e.g. "nvidia-gpu"), so the bus component is located by
// scanning for a known bus type from the right.
func ParseChipName(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, errors.New("empty chip name")
	}
	for _, bus := range knownBuses {
		sep := "-" + bus + "-"
		if i := strings.LastIndex(s, sep); i > 0 {
			return Pattern{name: s[:i], bus: bus, addr: s[i+len(sep):]}, nil
		}
		if suf := "-" + bus; strings.HasSuffix(s, suf) && len(s) > len(suf) {
			return Pattern{name: strings.TrimSuffix(s, suf), bus: bus, addr: "*"}, nil
		}
	}
	if i := strings.LastIndex(s, "-*-"); i > 0 {
		return Pattern{name: s[:i], bus: "*", addr: s[i+3:]}, nil
	}
	if strings.HasSuffix(s, "-*") && len(s) > 2 {
		return Pattern{name: strings.TrimSuffix(s, "-*"), bus: "*", addr: "*"}, nil
	}
	return Pattern{name: s, bus: "*", addr: "*"}, nil
}

func (p Pattern) String() string {
	return p.name + "-" + p.bus + "-" + p.addr
}

// Match reports whether a detected chip identifier matches the pattern.
// Detected identifiers are always fully qualified.
func (p Pattern) Match(chipID string) bool {
	got, err := ParseChipName(chipID)
	if err != nil {
		return false
	}
	return matchPart(p.name, got.name) && matchPart(p.bus, got.bus) && matchPart(p.addr, got.addr)
}

func matchPart(want, got string) bool {
	return want == "*" || want == got
}
