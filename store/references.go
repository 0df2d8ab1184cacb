package store

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// referenceSuffix marks a flattened path whose value is a relationship reference.
const referenceSuffix = ".reference"

// referencePattern captures [baseUrl/]Type/id[/_history/vid].
var referencePattern = regexp.MustCompile(`^(https?://.+/)?([A-Za-z]+)/([A-Za-z0-9\-.]{1,64})(?:/_history/([A-Za-z0-9\-.]{1,64}))?$`)

// ReferenceField is one reference value found in a resource, addressed by its
// dot-separated flattened path (list elements use their index, e.g.
// "performer.0.reference").
type ReferenceField struct {
	Path  string
	Value string
}

// Reference is a parsed relationship reference.
type Reference struct {
	BaseURL      string
	ResourceType string
	ID           string
	VersionID    string
}

// ParseReference parses a "[baseUrl/]Type/id[/_history/vid]" reference.
func ParseReference(value string) (Reference, bool) {
	m := referencePattern.FindStringSubmatch(value)
	if m == nil {
		return Reference{}, false
	}
	return Reference{BaseURL: m[1], ResourceType: m[2], ID: m[3], VersionID: m[4]}, true
}

// referenceFields walks r and returns every string value whose flattened path
// ends in ".reference", sorted by path.
func referenceFields(r Resource) []ReferenceField {
	var fields []ReferenceField
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch node := v.(type) {
		case map[string]any:
			for k, child := range node {
				walk(joinPath(prefix, k), child)
			}
		case Resource:
			for k, child := range node {
				walk(joinPath(prefix, k), child)
			}
		case []any:
			for i, child := range node {
				walk(joinPath(prefix, strconv.Itoa(i)), child)
			}
		case string:
			if strings.HasSuffix(prefix, referenceSuffix) {
				fields = append(fields, ReferenceField{Path: prefix, Value: node})
			}
		}
	}
	for k, v := range r {
		walk(k, v)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// setPath replaces the string at a flattened path. It reports false when the
// path does not resolve to an existing location.
func setPath(r Resource, path, value string) bool {
	segments := strings.Split(path, ".")
	var node any = map[string]any(r)
	for i, seg := range segments {
		last := i == len(segments)-1
		switch container := node.(type) {
		case map[string]any:
			if last {
				if _, ok := container[seg]; !ok {
					return false
				}
				container[seg] = value
				return true
			}
			node = container[seg]
		case Resource:
			if last {
				if _, ok := container[seg]; !ok {
					return false
				}
				container[seg] = value
				return true
			}
			node = container[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return false
			}
			if last {
				container[idx] = value
				return true
			}
			node = container[idx]
		default:
			return false
		}
	}
	return false
}

func versionedReference(value, vid string) string {
	return value + "/_history/" + vid
}

// pendingReference is a reference that has to be resolved against the store.
type pendingReference struct {
	resource Resource
	field    ReferenceField
	target   Reference
	vid      string
}

// updateReferences rewrites enrolled references of create and update requests
// to point at the version that will be current once the bundle commits.
// It reports false if any referenced resource or reference path could not be
// resolved.
func (s *Store) updateReferences(ctx context.Context, requests []BatchRequest, lockedItems []LockedItem) bool {
	idToVersionID := make(map[string]string)
	for _, locked := range lockedItems {
		if locked.Operation == OperationUpdate && locked.VID > 0 {
			idToVersionID[resourceKey(locked.ResourceType, locked.ID)] = strconv.FormatInt(locked.VID+1, 10)
		}
	}
	for _, request := range requests {
		key := resourceKey(request.ResourceType, request.ID)
		switch request.Operation {
		case OperationCreate:
			idToVersionID[key] = "1"
		case OperationUpdate:
			// Update-as-create targets were not found while locking; they
			// will be written at version 1.
			if _, ok := idToVersionID[key]; !ok && s.config.UpdateCreateSupported {
				idToVersionID[key] = "1"
			}
		}
	}

	var lookups []*pendingReference
	for _, request := range requests {
		if request.Operation != OperationCreate && request.Operation != OperationUpdate {
			continue
		}
		if !s.registry.HasLinks(request.ResourceType) {
			continue
		}
		for _, field := range referenceFields(request.Resource) {
			if !s.registry.IsVersioned(request.ResourceType, field.Path) {
				continue
			}
			ref, ok := ParseReference(field.Value)
			if !ok || ref.VersionID != "" {
				continue
			}
			if vid, ok := idToVersionID[resourceKey(ref.ResourceType, ref.ID)]; ok {
				if !s.pinReference(request.Resource, field, vid) {
					return false
				}
				continue
			}
			lookups = append(lookups, &pendingReference{resource: request.Resource, field: field, target: ref})
		}
	}
	if len(lookups) == 0 {
		return true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, lookup := range lookups {
		g.Go(func() error {
			item, err := s.reader.GetMostRecentReadable(gctx, lookup.target.ResourceType, lookup.target.ID)
			if err != nil {
				s.logger.Error("failed to find most recent version of referenced resource",
					zap.String("resourceType", lookup.target.ResourceType),
					zap.String("id", lookup.target.ID),
					zap.Error(err),
				)
				return err
			}
			lookup.vid = strconv.FormatInt(item.VID, 10)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false
	}

	// Resources are only mutated after every concurrent lookup has returned.
	for _, lookup := range lookups {
		if !s.pinReference(lookup.resource, lookup.field, lookup.vid) {
			return false
		}
	}
	return true
}

// pinReference writes the versioned form of field back into r. It reports
// false when the flattened path cannot be addressed, e.g. because a key
// contains a dot.
func (s *Store) pinReference(r Resource, field ReferenceField, vid string) bool {
	if setPath(r, field.Path, versionedReference(field.Value, vid)) {
		return true
	}
	s.logger.Warn("failed to pin versioned reference", zap.String("path", field.Path), zap.String("reference", field.Value))
	return false
}
