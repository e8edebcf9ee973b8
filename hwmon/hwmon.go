// Package hwmon reads hardware monitoring sensors from the Linux sysfs hwmon
// class, addressing chips by their libsensors-style identifiers, e.g.
// "coretemp-isa-0000".
package hwmon

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultRoot is the sysfs hwmon class directory.
const DefaultRoot = "/sys/class/hwmon"

// FS is a sensor source rooted at a sysfs hwmon class directory.
type FS struct {
	root string
}

// New returns the platform sensor source.
func New() *FS {
	return NewAt(DefaultRoot)
}

// NewAt returns a sensor source rooted at dir.  Tests use it with synthetic
// trees.
func NewAt(dir string) *FS {
	return &FS{root: dir}
}

// Chip is one detected monitoring chip.
type Chip struct {
	ID  string // libsensors-style identifier, e.g. "coretemp-isa-0000"
	dir string // sysfs directory holding the chip's attributes
}

// DetectedChips enumerates the chips in hwmon device order.  Entries without
// a name attribute are unaddressable and skipped.
func (fs *FS) DetectedChips() ([]Chip, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate hwmon chips: %w", err)
	}
	var chips []Chip
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "hwmon") {
			continue
		}
		dir := filepath.Join(fs.root, e.Name())
		name, err := readString(filepath.Join(dir, "name"))
		if err != nil || name == "" {
			continue
		}
		chips = append(chips, Chip{ID: chipID(name, dir), dir: dir})
	}
	sort.Slice(chips, func(i, j int) bool {
		return hwmonIndex(chips[i].dir) < hwmonIndex(chips[j].dir)
	})
	return chips, nil
}

// hwmonIndex extracts N from a .../hwmonN directory so that hwmon10 sorts
// after hwmon2.
func hwmonIndex(dir string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "hwmon"))
	if err != nil {
		return -1
	}
	return n
}

var (
	pciAddrRe = regexp.MustCompile(`^[0-9a-f]{4}:[0-9a-f]{2}:[0-9a-f]{2}\.[0-9a-f]$`)
	i2cAddrRe = regexp.MustCompile(`^\d+-[0-9a-f]{4}$`)
)

// chipID renders the libsensors-style identifier for the chip: the device
// name plus bus type and address derived from the device symlink target.
func chipID(name, dir string) string {
	dev, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
	if err != nil {
		return name + "-virtual-0"
	}
	base := filepath.Base(dev)
	switch {
	case strings.Contains(dev, "/devices/platform/"):
		// coretemp.0 -> coretemp-isa-0000
		var n int64
		if _, num, ok := strings.Cut(base, "."); ok {
			n, _ = strconv.ParseInt(num, 10, 32)
		}
		return fmt.Sprintf("%s-isa-%04x", name, n)
	case pciAddrRe.MatchString(base):
		// 0000:01:00.0 -> name-pci-0100
		return fmt.Sprintf("%s-pci-%04x", name, pciAddress(base))
	case i2cAddrRe.MatchString(base):
		// 1-004c -> name-i2c-1-4c
		bus, addr, _ := strings.Cut(base, "-")
		a, _ := strconv.ParseInt(addr, 16, 32)
		return fmt.Sprintf("%s-i2c-%s-%02x", name, bus, a)
	case strings.Contains(dev, "LNXSYSTM"):
		return name + "-acpi-0"
	default:
		return name + "-virtual-0"
	}
}

// pciAddress packs a bus:device.function triple the way libsensors renders
// PCI chip addresses.
func pciAddress(base string) int64 {
	var domain, bus, dev, fn int64
	if _, err := fmt.Sscanf(base, "%x:%x:%x.%x", &domain, &bus, &dev, &fn); err != nil {
		return 0
	}
	return bus<<8 | dev<<3 | fn
}

// Feature is a group of sysfs attributes sharing a numbered prefix, e.g.
// "temp2" covering temp2_input, temp2_max and temp2_label.
type Feature struct {
	Name string // e.g. "temp2"
	dir  string
}

var featureRe = regexp.MustCompile(`^(temp|fan|in|pwm)(\d+)_`)

// featureOf derives the feature name from an attribute file name, e.g.
// "temp2_input" -> "temp2".
func featureOf(filename string) (string, bool) {
	m := featureRe.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1] + m[2], true
}

// Features lists the chip's features in a stable order.
func (c Chip) Features() ([]Feature, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list features of %s: %w", c.ID, err)
	}
	seen := make(map[string]bool)
	var ff []Feature
	for _, e := range entries {
		name, ok := featureOf(e.Name())
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		ff = append(ff, Feature{Name: name, dir: c.dir})
	}
	sort.Slice(ff, func(i, j int) bool { return ff[i].Name < ff[j].Name })
	return ff, nil
}

// Input is a readable sensor input, backed by a "<feature>_input" attribute.
type Input struct {
	path  string
	scale float64
}

func (in Input) String() string {
	return in.path
}

// Input resolves the named feature's input subquantity.  A feature that
// exists only as a label or limit has no input and is an error.
func (c Chip) Input(feature string) (Input, error) {
	p := filepath.Join(c.dir, feature+"_input")
	if _, err := os.Stat(p); err != nil {
		return Input{}, fmt.Errorf("no input subfeature for %s:%s: %w", c.ID, feature, err)
	}
	return Input{path: p, scale: scaleOf(feature)}, nil
}

// Temperature and voltage inputs are reported in milli-units; fan speed and
// pwm are used as is.
func scaleOf(feature string) float64 {
	if strings.HasPrefix(feature, "temp") || strings.HasPrefix(feature, "in") {
		return 1000
	}
	return 1
}

// Value reads the input's current value.
func (fs *FS) Value(in Input) (float64, error) {
	raw, err := readString(in.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", in.path, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad sensor value %q in %s: %w", raw, in.path, err)
	}
	return v / in.scale, nil
}

func readString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
