package merge_test

import (
	"reflect"
	"testing"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/merge"
)

func doc(pairs map[string]any) campaign.Document {
	return campaign.Document(pairs)
}

func TestCompareOneSidedChangesMergeCleanly(t *testing.T) {
	base := doc(map[string]any{"population": float64(1000), "name": "Riverton"})
	source := doc(map[string]any{"population": float64(1500), "name": "Riverton"})
	target := doc(map[string]any{"population": float64(1000), "name": "Riverdale"})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 0 {
		t.Fatalf("got %d conflicts, want none: %+v", len(r.Conflicts), r.Conflicts)
	}
	want := map[string]any{"population": float64(1500), "name": "Riverdale"}
	if !reflect.DeepEqual(map[string]any(r.Merged), want) {
		t.Errorf("merged = %v, want %v", r.Merged, want)
	}
}

func TestCompareIdenticalChangesDoNotConflict(t *testing.T) {
	base := doc(map[string]any{"status": "quiet"})
	source := doc(map[string]any{"status": "raided"})
	target := doc(map[string]any{"status": "raided"})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 0 {
		t.Fatalf("identical changes should merge cleanly: %+v", r.Conflicts)
	}
	if r.Merged["status"] != "raided" {
		t.Errorf("merged status = %v", r.Merged["status"])
	}
}

func TestCompareDivergentChangesConflict(t *testing.T) {
	base := doc(map[string]any{"population": float64(1000)})
	source := doc(map[string]any{"population": float64(1500)})
	target := doc(map[string]any{"population": float64(1200)})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(r.Conflicts))
	}
	c := r.Conflicts[0]
	if c.Path != "population" || c.BaseValue != float64(1000) ||
		c.SourceValue != float64(1500) || c.TargetValue != float64(1200) {
		t.Errorf("conflict = %+v", c)
	}
	// The merged payload keeps the target side until a resolution lands.
	if r.Merged["population"] != float64(1200) {
		t.Errorf("merged population = %v, want the target value", r.Merged["population"])
	}
}

func TestCompareReportsDeepestDifferingPath(t *testing.T) {
	base := doc(map[string]any{"stats": map[string]any{"defense": float64(10), "offense": float64(5)}})
	source := doc(map[string]any{"stats": map[string]any{"defense": float64(20), "offense": float64(5)}})
	target := doc(map[string]any{"stats": map[string]any{"defense": float64(30), "offense": float64(7)}})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %+v", len(r.Conflicts), r.Conflicts)
	}
	if r.Conflicts[0].Path != "stats.defense" {
		t.Errorf("conflict path = %q, want stats.defense", r.Conflicts[0].Path)
	}
	// The target-only offense change merges alongside the conflict.
	stats := r.Merged["stats"].(map[string]any)
	if stats["offense"] != float64(7) {
		t.Errorf("merged offense = %v, want 7", stats["offense"])
	}
}

func TestCompareRemovals(t *testing.T) {
	base := doc(map[string]any{"motto": "onward", "name": "Riverton"})
	source := doc(map[string]any{"name": "Riverton"})
	target := doc(map[string]any{"motto": "onward", "name": "Riverton"})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 0 {
		t.Fatalf("one-sided removal should merge cleanly: %+v", r.Conflicts)
	}
	if _, present := r.Merged["motto"]; present {
		t.Errorf("removed field should stay removed")
	}

	// Removal against a change is a conflict.
	target = doc(map[string]any{"motto": "ever onward", "name": "Riverton"})
	r = merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 1 || r.Conflicts[0].Path != "motto" {
		t.Errorf("removal vs change: conflicts = %+v", r.Conflicts)
	}
}

func TestCompareBothSidesCreated(t *testing.T) {
	source := doc(map[string]any{"name": "Northwatch"})
	target := doc(map[string]any{"name": "Southwatch"})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", nil, source, target)
	if len(r.Conflicts) != 1 || r.Conflicts[0].Path != "name" {
		t.Errorf("divergent creations: conflicts = %+v", r.Conflicts)
	}
}

func TestCompareArraysAlignedByIdentity(t *testing.T) {
	base := doc(map[string]any{"items": []any{
		map[string]any{"id": "a", "qty": float64(1)},
		map[string]any{"id": "b", "qty": float64(2)},
	}})
	source := doc(map[string]any{"items": []any{
		map[string]any{"id": "a", "qty": float64(5)},
		map[string]any{"id": "b", "qty": float64(2)},
		map[string]any{"id": "c", "qty": float64(9)},
	}})
	target := doc(map[string]any{"items": []any{
		map[string]any{"id": "a", "qty": float64(7)},
		map[string]any{"id": "b", "qty": float64(2)},
	}})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %+v", len(r.Conflicts), r.Conflicts)
	}
	if r.Conflicts[0].Path != "items.a.qty" {
		t.Errorf("conflict path = %q, want items.a.qty", r.Conflicts[0].Path)
	}
	items := r.Merged["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("merged has %d items, want 3 (source-only addition kept)", len(items))
	}
	last := items[2].(map[string]any)
	if last["id"] != "c" {
		t.Errorf("source-only element should append after target order, got %v", last)
	}
}

func TestCompareScalarArraysAlignByIndex(t *testing.T) {
	base := doc(map[string]any{"tags": []any{"border", "river"}})
	source := doc(map[string]any{"tags": []any{"border", "trade"}})
	target := doc(map[string]any{"tags": []any{"border", "river"}})

	r := merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 0 {
		t.Fatalf("one-sided element change: conflicts = %+v", r.Conflicts)
	}
	if got := r.Merged["tags"].([]any)[1]; got != "trade" {
		t.Errorf("tags[1] = %v, want trade", got)
	}

	target = doc(map[string]any{"tags": []any{"border", "fortress"}})
	r = merge.CompareVersions(campaign.EntityTypeSettlement, "s-1", base, source, target)
	if len(r.Conflicts) != 1 || r.Conflicts[0].Path != "tags.1" {
		t.Errorf("divergent element change: conflicts = %+v", r.Conflicts)
	}
}

func TestApplyResolution(t *testing.T) {
	merged := campaign.Document{
		"stats": map[string]any{"defense": float64(30)},
		"items": []any{
			map[string]any{"id": "a", "qty": float64(7)},
		},
	}

	if err := merge.ApplyResolution(merged, campaign.EntityTypeSettlement, "stats.defense", float64(25)); err != nil {
		t.Fatalf("nested resolution failed: %v", err)
	}
	if merged["stats"].(map[string]any)["defense"] != float64(25) {
		t.Errorf("nested resolution did not apply")
	}

	if err := merge.ApplyResolution(merged, campaign.EntityTypeSettlement, "items.a.qty", float64(6)); err != nil {
		t.Fatalf("array resolution failed: %v", err)
	}
	if merged["items"].([]any)[0].(map[string]any)["qty"] != float64(6) {
		t.Errorf("array resolution did not apply")
	}

	if err := merge.ApplyResolution(merged, campaign.EntityTypeSettlement, "items.zzz.qty", float64(1)); err == nil {
		t.Errorf("unknown array element should fail")
	}
	if err := merge.ApplyResolution(merged, campaign.EntityTypeSettlement, "stats.defense.deeper", float64(1)); err == nil {
		t.Errorf("descending into a scalar should fail")
	}
}
