// Package effect applies declarative patch effects to entity payloads and
// runs the encounter/event resolution workflow over its three timing phases.
package effect

import (
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

// Protected path prefixes; an operation at or under one fails the whole
// effect with an error naming the word "protected".
var protectedPrefixes = []string{
	"/id",
	"/createdAt",
	"/updatedAt",
	"/version",
	"/deletedAt",
	"/archivedAt",
	"/campaignId",
}

// Relationship keys are protected per entity type; rewiring relationships
// goes through dedicated operations, not effects.
var relationshipKeys = map[campaign.EntityType][]string{
	campaign.EntityTypeKingdom:    {"/worldId"},
	campaign.EntityTypeSettlement: {"/kingdomId", "/locationId"},
	campaign.EntityTypeStructure:  {"/settlementId"},
	campaign.EntityTypeEncounter:  {"/locationId"},
	campaign.EntityTypeEvent:      {"/locationId"},
}

// Effects may only write under these prefixes.
var allowedPrefixes = map[campaign.EntityType][]string{}

const defaultAllowedPrefix = "/variables/"

// Operations a patch effect may carry. copy and move are out: they need a
// from pointer, which PatchOperation does not model.
var allowedOps = map[string]bool{
	"add":     true,
	"replace": true,
	"remove":  true,
	"test":    true,
}

// ValidatePatch checks every operation of a patch effect. A single bad
// operation rejects the effect; nothing is partially applied.
func ValidatePatch(entityType campaign.EntityType, ops []campaign.PatchOperation) error {
	if len(ops) == 0 {
		return fmt.Errorf("patch effect has no operations")
	}
	for _, op := range ops {
		if !allowedOps[op.Op] {
			return fmt.Errorf("unsupported op %q at %q", op.Op, op.Path)
		}
		if prefix := protectedMatch(entityType, op.Path); prefix != "" {
			return fmt.Errorf("path %q touches protected field %q", op.Path, prefix)
		}
		if !allowedPath(entityType, op.Path) {
			return fmt.Errorf("path %q is outside the writable prefixes", op.Path)
		}
	}
	return nil
}

func protectedMatch(entityType campaign.EntityType, path string) string {
	check := func(prefix string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	for _, prefix := range protectedPrefixes {
		if check(prefix) {
			return prefix
		}
	}
	for _, prefix := range relationshipKeys[entityType] {
		if check(prefix) {
			return prefix
		}
	}
	return ""
}

func allowedPath(entityType campaign.EntityType, path string) bool {
	prefixes := append([]string{defaultAllowedPrefix}, allowedPrefixes[entityType]...)
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ApplyPatch applies the operations to a working copy of doc, returning the
// patched document and the touched paths. The input document is not mutated.
// Failures (missing path for replace/remove, malformed ops) leave the caller
// free to continue with the unpatched copy.
func ApplyPatch(doc campaign.Document, ops []campaign.PatchOperation) (campaign.Document, []string, error) {
	docBytes, err := encoding.BlobMarshaler.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	patchBytes, err := encoding.BlobMarshaler.Marshal(ops)
	if err != nil {
		return nil, nil, err
	}
	patch, err := jsonpatch.DecodePatch(patchBytes)
	if err != nil {
		return nil, nil, err
	}
	patched, err := patch.Apply(docBytes)
	if err != nil {
		return nil, nil, err
	}
	var out campaign.Document
	if err := encoding.BlobMarshaler.Unmarshal(patched, &out); err != nil {
		return nil, nil, err
	}
	affected := make([]string, 0, len(ops))
	for _, op := range ops {
		affected = append(affected, op.Path)
	}
	return out, affected, nil
}
