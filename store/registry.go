package store

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// VersionedLink enrolls one reference path of a resource type for rewriting
// to the referenced resource's current version at transaction time.
type VersionedLink struct {
	// ResourceType is the type of the referring resource (e.g., "ExplanationOfBenefit").
	ResourceType string

	// Path is the flattened path of the reference (e.g., "careTeam.0.provider.reference").
	Path string
}

// Registry holds the versioned-link rules used by the reference rewrite phase.
type Registry struct {
	links  []VersionedLink
	byType map[string]map[string]struct{}
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		links:  []VersionedLink{},
		byType: make(map[string]map[string]struct{}),
	}
}

// Register adds a versioned link. Registering the same link twice is a no-op.
func (r *Registry) Register(link VersionedLink) {
	paths, ok := r.byType[link.ResourceType]
	if !ok {
		paths = make(map[string]struct{})
		r.byType[link.ResourceType] = paths
	}
	if _, exists := paths[link.Path]; exists {
		return
	}
	paths[link.Path] = struct{}{}
	r.links = append(r.links, link)
}

// PathsFor returns the enrolled paths of a resource type, sorted.
func (r *Registry) PathsFor(resourceType string) []string {
	paths := make([]string, 0, len(r.byType[resourceType]))
	for p := range r.byType[resourceType] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsVersioned reports whether path of resourceType is enrolled.
func (r *Registry) IsVersioned(resourceType, path string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byType[resourceType][path]
	return ok
}

// HasLinks returns true if the resource type has any enrolled paths.
func (r *Registry) HasLinks(resourceType string) bool {
	if r == nil {
		return false
	}
	return len(r.byType[resourceType]) > 0
}

// Empty reports whether no links are registered.
func (r *Registry) Empty() bool {
	return r == nil || len(r.links) == 0
}

// AllLinks returns all registered links in registration order.
func (r *Registry) AllLinks() []VersionedLink {
	return r.links
}

// LoadRegistry reads versioned-link rules from YAML of the form
//
//	ExplanationOfBenefit:
//	  - careTeam.0.provider.reference
//	  - patient.reference
func LoadRegistry(rd io.Reader) (*Registry, error) {
	var rules map[string][]string
	if err := yaml.NewDecoder(rd).Decode(&rules); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode versioned links: %w", err)
	}

	types := make([]string, 0, len(rules))
	for resourceType := range rules {
		types = append(types, resourceType)
	}
	sort.Strings(types)

	r := NewRegistry()
	for _, resourceType := range types {
		for _, path := range rules[resourceType] {
			if path == "" {
				return nil, fmt.Errorf("decode versioned links: empty path for %s", resourceType)
			}
			r.Register(VersionedLink{ResourceType: resourceType, Path: path})
		}
	}
	return r, nil
}
