package effect_test

import (
	"strings"
	"testing"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/effect"
)

func TestValidatePatch(t *testing.T) {
	tests := []struct {
		name       string
		entityType campaign.EntityType
		ops        []campaign.PatchOperation
		wantErr    string
	}{
		{
			name:       "valid replace",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "replace", Path: "/variables/morale", Value: 5}},
		},
		{
			name:       "no operations",
			entityType: campaign.EntityTypeSettlement,
			wantErr:    "no operations",
		},
		{
			name:       "unsupported op",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "increment", Path: "/variables/morale", Value: 1}},
			wantErr:    "unsupported op",
		},
		{
			name:       "move has no from pointer",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "move", Path: "/variables/morale"}},
			wantErr:    "unsupported op",
		},
		{
			name:       "protected system field",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "replace", Path: "/id", Value: "x"}},
			wantErr:    "protected",
		},
		{
			name:       "protected relationship key",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "remove", Path: "/kingdomId"}},
			wantErr:    "protected",
		},
		{
			name:       "outside writable prefixes",
			entityType: campaign.EntityTypeSettlement,
			ops:        []campaign.PatchOperation{{Op: "replace", Path: "/name", Value: "x"}},
			wantErr:    "outside the writable prefixes",
		},
		{
			name:       "one bad op rejects the effect",
			entityType: campaign.EntityTypeSettlement,
			ops: []campaign.PatchOperation{
				{Op: "replace", Path: "/variables/morale", Value: 5},
				{Op: "replace", Path: "/id", Value: "x"},
			},
			wantErr: "protected",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := effect.ValidatePatch(tc.entityType, tc.ops)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidatePatch failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want it to name %q", err, tc.wantErr)
			}
		})
	}
}

func TestApplyPatch(t *testing.T) {
	doc := campaign.Document{"variables": map[string]any{"morale": float64(10)}}
	ops := []campaign.PatchOperation{
		{Op: "replace", Path: "/variables/morale", Value: 4},
		{Op: "add", Path: "/variables/status", Value: "shaken"},
	}

	patched, affected, err := effect.ApplyPatch(doc, ops)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	vars := patched["variables"].(map[string]any)
	if vars["morale"] != float64(4) || vars["status"] != "shaken" {
		t.Errorf("patched variables = %v", vars)
	}
	if len(affected) != 2 || affected[0] != "/variables/morale" || affected[1] != "/variables/status" {
		t.Errorf("affected = %v", affected)
	}
	// The input document is untouched.
	if doc["variables"].(map[string]any)["morale"] != float64(10) {
		t.Errorf("input document was mutated")
	}
}

func TestApplyPatchMissingPath(t *testing.T) {
	doc := campaign.Document{"variables": map[string]any{}}
	_, _, err := effect.ApplyPatch(doc, []campaign.PatchOperation{
		{Op: "replace", Path: "/variables/morale", Value: 4},
	})
	if err == nil {
		t.Errorf("replace of an absent path should fail")
	}
}
