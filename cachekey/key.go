// Package cachekey implements the hierarchical cache key scheme. A key is the
// colon-joined tuple
//
//	prefix : [entityType] : [entityId] : *additionalSegments : branchId
//
// The branch ID is always the last segment, which is what makes "*:{branchId}"
// whole-branch invalidation possible.
package cachekey

import (
	"fmt"
	"strings"
)

// Separator joins key segments.
const Separator = ":"

// Key is a parsed cache key. The middle segments between prefix and branch ID
// are opaque to the parser.
type Key struct {
	Prefix   string
	Segments []string
	BranchID string
}

// String renders the key back to its wire form.
func (k Key) String() string {
	parts := make([]string, 0, len(k.Segments)+2)
	parts = append(parts, k.Prefix)
	parts = append(parts, k.Segments...)
	parts = append(parts, k.BranchID)
	return strings.Join(parts, Separator)
}

// Build constructs a key for an entity-scoped cache entry. When entityType is
// empty, entityID is dropped as well and the key carries only the additional
// segments.
func Build(prefix, entityType, entityID, branchID string, additional ...string) string {
	parts := make([]string, 0, len(additional)+4)
	parts = append(parts, prefix)
	if entityType != "" {
		parts = append(parts, entityType)
		if entityID != "" {
			parts = append(parts, entityID)
		}
	}
	parts = append(parts, additional...)
	parts = append(parts, branchID)
	return strings.Join(parts, Separator)
}

// Parse splits a wire-form key. The first segment is the prefix, the last is
// the branch ID, the middle segments are opaque. Keys with fewer than two
// segments or any empty segment are rejected.
func Parse(key string) (Key, error) {
	parts := strings.Split(key, Separator)
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("cache key %q needs at least a prefix and a branch segment", key)
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("cache key %q contains an empty segment", key)
		}
	}
	return Key{
		Prefix:   parts[0],
		Segments: parts[1 : len(parts)-1],
		BranchID: parts[len(parts)-1],
	}, nil
}

// PrefixPattern matches every key of one prefix across all branches.
func PrefixPattern(prefix string) string {
	return prefix + Separator + "*"
}

// EntityPattern matches every prefix's entry for one entity on one branch.
func EntityPattern(entityType, entityID, branchID string) string {
	return strings.Join([]string{"*", entityType, entityID, branchID}, Separator)
}

// BranchPattern matches every key of one branch, regardless of prefix.
func BranchPattern(branchID string) string {
	return "*" + Separator + branchID
}
