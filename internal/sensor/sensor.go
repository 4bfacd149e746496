// Package sensor discovers host temperature inputs in sysfs (hwmon chips and
// thermal zones) and adapts one of them into a sample source, so the device
// can follow a real sensor instead of the synthetic waveform.
package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

// ErrNoSensors is returned by Discover when root has no temperature inputs.
var ErrNoSensors = errors.New("sensor: no temperature inputs found")

// Zone is one temperature input, reporting milli-degrees Celsius.
type Zone struct {
	Chip  string // hwmon name or thermal zone type, e.g. "coretemp", "cpu-thermal"
	Label string // e.g. "Core 0", "temp1", "thermal_zone0"
	Path  string // file holding the reading
}

// Key returns a unique identifier for this zone.
func (z Zone) Key() string {
	return z.Chip + "/" + z.Label
}

// ReadMC reads the current temperature in milli-degrees.
func (z Zone) ReadMC() (int32, error) {
	return readMC(z.Path)
}

// Discover lists every temperature input under root (normally /sys),
// hwmon inputs first, each group sorted by key.
func Discover(root string) ([]Zone, error) {
	if root == "" {
		root = DefaultRoot
	}
	zones := append(hwmonZones(root), thermalZones(root)...)
	if len(zones) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSensors, root)
	}
	return zones, nil
}

func hwmonZones(root string) []Zone {
	names, _ := filepath.Glob(filepath.Join(root, "class/hwmon/hwmon*/name"))
	var zones []Zone
	for _, namePath := range names {
		dir := filepath.Dir(namePath)
		chip, err := readLine(namePath)
		if err != nil {
			continue
		}
		inputs, _ := filepath.Glob(filepath.Join(dir, "temp*_input"))
		for _, in := range inputs {
			base := strings.TrimSuffix(filepath.Base(in), "_input")
			label, err := readLine(filepath.Join(dir, base+"_label"))
			if err != nil || label == "" {
				label = base
			}
			zones = append(zones, Zone{Chip: chip, Label: label, Path: in})
		}
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Key() < zones[j].Key() })
	return zones
}

func thermalZones(root string) []Zone {
	temps, _ := filepath.Glob(filepath.Join(root, "class/thermal/thermal_zone*/temp"))
	var zones []Zone
	for _, tp := range temps {
		dir := filepath.Dir(tp)
		typ, err := readLine(filepath.Join(dir, "type"))
		if err != nil {
			continue
		}
		zones = append(zones, Zone{Chip: typ, Label: filepath.Base(dir), Path: tp})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Key() < zones[j].Key() })
	return zones
}

// Select picks the zone whose key or chip matches name. An empty name
// picks the first zone.
func Select(zones []Zone, name string) (Zone, error) {
	if len(zones) == 0 {
		return Zone{}, ErrNoSensors
	}
	if name == "" {
		return zones[0], nil
	}
	for _, z := range zones {
		if z.Key() == name {
			return z, nil
		}
	}
	for _, z := range zones {
		if z.Chip == name {
			return z, nil
		}
	}
	return Zone{}, fmt.Errorf("sensor: no zone named %q", name)
}

func readLine(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readMC(path string) (int32, error) {
	s, err := readLine(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("sensor: parse %s: %w", path, err)
	}
	return int32(v), nil
}

// FriendlyName returns a human-readable component name for a chip.
func FriendlyName(chip string) string {
	lower := strings.ToLower(chip)
	for _, entry := range chipNames {
		if strings.HasPrefix(lower, entry.prefix) {
			return entry.name
		}
	}
	return "Sensor"
}

var chipNames = []struct {
	prefix string
	name   string
}{
	{"coretemp", "CPU"},
	{"k10temp", "CPU"},
	{"x86_pkg_temp", "CPU"},
	{"cpu", "CPU"},
	{"soc", "SoC"},
	{"imx", "SoC"},
	{"amdgpu", "GPU"},
	{"gpu", "GPU"},
	{"nvme", "NVMe SSD"},
	{"drivetemp", "HDD/SSD"},
	{"iwlwifi", "WiFi"},
	{"acpitz", "ACPI Thermal"},
	{"pch", "Chipset"},
}
