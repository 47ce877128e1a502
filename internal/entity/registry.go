package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// Registry holds the immutable set of monitored cities
type Registry struct {
	entities []domain.Entity
	byName   map[string]domain.Entity
}

type citiesFile struct {
	Cities []domain.Entity `json:"cities"`
}

// Load reads a cities JSON file and keeps at most limit entries (0 = all)
func Load(path string, limit int) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cities file: %w", err)
	}

	var f citiesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse cities file: %w", err)
	}

	cities := f.Cities
	if limit > 0 && len(cities) > limit {
		cities = cities[:limit]
	}

	return New(cities)
}

// New builds a registry, rejecting blank or duplicate names and bad coordinates
func New(entities []domain.Entity) (*Registry, error) {
	r := &Registry{
		entities: make([]domain.Entity, 0, len(entities)),
		byName:   make(map[string]domain.Entity, len(entities)),
	}

	for i, e := range entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("city #%d has no name", i)
		}
		if e.Latitude < -90 || e.Latitude > 90 || e.Longitude < -180 || e.Longitude > 180 {
			return nil, fmt.Errorf("city %s has invalid coordinates (%f, %f)", e.Name, e.Latitude, e.Longitude)
		}
		key := strings.ToLower(e.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate city %s", e.Name)
		}
		r.byName[key] = e
		r.entities = append(r.entities, e)
	}

	return r, nil
}

// All returns the entities in file order
func (r *Registry) All() []domain.Entity {
	out := make([]domain.Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// Lookup finds a city by name, case-insensitively
func (r *Registry) Lookup(name string) (domain.Entity, error) {
	e, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.Entity{}, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, name)
	}
	return e, nil
}

// Names returns the sorted city names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for _, e := range r.entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cities
func (r *Registry) Len() int {
	return len(r.entities)
}
