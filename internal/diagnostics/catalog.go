package diagnostics

import (
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

// ProbeName returns the catalog name of a built-in test.
func ProbeName(domain, test string) string {
	return domain + "." + test
}

// IsReserved reports whether name is in a namespace owned by built-in
// probes. Device sensors may not use such names.
func IsReserved(name string) bool {
	name = sensor.NormalizeName(name)

	return strings.HasPrefix(name, DomainNetwork+".") || strings.HasPrefix(name, DomainSystem+".")
}

// Probe is a built-in diagnostic test exposed as a sensor.
type Probe struct {
	Name    string
	Sensor  sensor.Sensor
	Timeout time.Duration
}

// Catalog resolves built-in probes first and falls back to the sensor
// registry, so probes and device sensors run through the same executor.
type Catalog struct {
	probes   map[string]sensor.Entry
	fallback executor.Lookup
}

func NewCatalog(fallback executor.Lookup, probes ...Probe) *Catalog {
	c := &Catalog{
		probes:   make(map[string]sensor.Entry, len(probes)),
		fallback: fallback,
	}

	now := time.Now()
	for _, p := range probes {
		c.probes[p.Name] = sensor.Entry{
			Name:         p.Name,
			Sensor:       p.Sensor,
			Config:       sensor.Config{Timeout: p.Timeout},
			RegisteredAt: now,
		}
	}

	return c
}

func (c *Catalog) Lookup(name string) (sensor.Entry, error) {
	if entry, ok := c.probes[name]; ok {
		return entry, nil
	}

	return c.fallback.Lookup(name)
}

// Probes returns the names of the built-in probes, sorted.
func (c *Catalog) Probes() []string {
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
