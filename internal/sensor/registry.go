package sensor

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
)

// Registry is a name-keyed, non-owning set of sensors. No lock is held while
// callers invoke a sensor returned from it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// NormalizeName is the form a name is stored and looked up under.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// Register binds name to instance. instance must implement both Collector and
// HealthChecker.
func (r *Registry) Register(name string, instance any, cfg Config) error {
	errFactory := errors.New()

	name = NormalizeName(name)
	if name == "" {
		return errFactory.WithMessage(ErrInvalidName, "sensor name must not be empty")
	}

	s, err := asSensor(instance)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errFactory.WithData(errors.ErrDuplicateName, name)
	}

	cfg.Params = cfg.Params.Clone()
	r.entries[name] = Entry{
		Name:         name,
		Sensor:       s,
		Config:       cfg,
		RegisteredAt: r.now(),
	}

	return nil
}

// Unregister removes the binding for name.
func (r *Registry) Unregister(name string) error {
	name = NormalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return errors.New().WithData(errors.ErrResourceNotFound, name)
	}

	delete(r.entries, name)

	return nil
}

// Get returns the sensor bound to name.
func (r *Registry) Get(name string) (Sensor, error) {
	entry, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	return entry.Sensor, nil
}

// Lookup returns the full entry bound to name.
func (r *Registry) Lookup(name string) (Entry, error) {
	name = NormalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, errors.New().WithData(errors.ErrResourceNotFound, name)
	}

	return entry, nil
}

// Has reports whether name is bound.
func (r *Registry) Has(name string) bool {
	name = NormalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[name]

	return ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)

	return names
}

// Snapshot returns a copy of every entry, sorted by name.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func asSensor(instance any) (Sensor, error) {
	errFactory := errors.New()

	if instance == nil || isNilPointer(instance) {
		return nil, errFactory.WithMessage(ErrInvalidSensor, "sensor instance is nil")
	}

	var missing []string
	if _, ok := instance.(Collector); !ok {
		missing = append(missing, "CollectData")
	}
	if _, ok := instance.(HealthChecker); !ok {
		missing = append(missing, "CheckHealth")
	}

	if len(missing) > 0 {
		return nil, errFactory.WithData(ErrInvalidSensor, struct {
			Type    string
			Missing []string
		}{
			Type:    reflect.TypeOf(instance).String(),
			Missing: missing,
		})
	}

	s, _ := instance.(Sensor)

	return s, nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)

	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
