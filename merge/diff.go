// Package merge implements the three-way merge between branches relative to
// a common ancestor, and the single-version cherry-pick.
package merge

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// Array elements carrying this key are aligned by it instead of by index.
// Per-type overrides replace the default.
const defaultArrayIdentityKey = "id"

var arrayIdentityKeys = map[campaign.EntityType]string{}

func identityKeyFor(entityType campaign.EntityType) string {
	if k, ok := arrayIdentityKeys[entityType]; ok {
		return k
	}
	return defaultArrayIdentityKey
}

// CompareResult is the outcome of one entity's three-way comparison.
type CompareResult struct {
	Conflicts []campaign.Conflict
	Merged    campaign.Document
}

// CompareVersions merges source and target documents path-wise relative to
// base. Any of the three may be nil (absent on that side). Paths changed on
// one side only take that side; paths changed identically on both take
// either; paths changed differently conflict at the deepest differing path.
func CompareVersions(entityType campaign.EntityType, entityID string, base, source, target campaign.Document) CompareResult {
	d := differ{
		entityType:  entityType,
		entityID:    entityID,
		identityKey: identityKeyFor(entityType),
	}
	merged, present := d.merge("", base, source, target, base != nil, source != nil, target != nil)
	result := CompareResult{Conflicts: d.conflicts}
	if present {
		if doc, ok := merged.(map[string]any); ok {
			result.Merged = doc
		}
	}
	return result
}

type differ struct {
	entityType  campaign.EntityType
	entityID    string
	identityKey string
	conflicts   []campaign.Conflict
}

// merge applies the three-way rules to one node. The boolean arguments report
// presence: an absent node is distinct from a present null.
func (d *differ) merge(path string, base, source, target any, baseOK, sourceOK, targetOK bool) (any, bool) {
	// Same on both sides (both changed identically, both removed, or neither
	// changed): take either.
	if sourceOK == targetOK && deepEqual(source, target) {
		return source, sourceOK
	}
	// Source untouched relative to base: target's change (or removal) wins.
	if sourceOK == baseOK && deepEqual(source, base) {
		return target, targetOK
	}
	// Target untouched relative to base: source wins.
	if targetOK == baseOK && deepEqual(target, base) {
		return source, sourceOK
	}

	// Both sides changed, differently. Recurse into like containers to find
	// the deepest disagreement; anything else is a conflict right here.
	if sourceOK && targetOK {
		sm, sIsMap := source.(map[string]any)
		tm, tIsMap := target.(map[string]any)
		if sIsMap && tIsMap {
			bm, _ := base.(map[string]any)
			return d.mergeMaps(path, bm, sm, tm), true
		}
		sa, sIsArr := source.([]any)
		ta, tIsArr := target.([]any)
		if sIsArr && tIsArr {
			ba, _ := base.([]any)
			return d.mergeArrays(path, ba, sa, ta), true
		}
	}

	d.conflicts = append(d.conflicts, campaign.Conflict{
		EntityType:  d.entityType,
		EntityID:    d.entityID,
		Path:        path,
		BaseValue:   base,
		SourceValue: source,
		TargetValue: target,
	})
	// Keep the target's side in the merged payload; a resolution overwrites
	// it before anything is written.
	if targetOK {
		return target, true
	}
	return base, baseOK
}

func (d *differ) mergeMaps(path string, base, source, target map[string]any) map[string]any {
	keys := make(map[string]bool)
	for k := range base {
		keys[k] = true
	}
	for k := range source {
		keys[k] = true
	}
	for k := range target {
		keys[k] = true
	}
	merged := make(map[string]any)
	for k := range keys {
		b, bOK := base[k]
		s, sOK := source[k]
		t, tOK := target[k]
		v, present := d.merge(joinPath(path, k), b, s, t, bOK, sOK, tOK)
		if present {
			merged[k] = v
		}
	}
	return merged
}

func (d *differ) mergeArrays(path string, base, source, target []any) []any {
	if key := d.identityKey; key != "" && alignable(key, base, source, target) {
		return d.mergeArraysByKey(path, key, base, source, target)
	}
	// Index-aligned: same rules per position.
	n := len(base)
	if len(source) > n {
		n = len(source)
	}
	if len(target) > n {
		n = len(target)
	}
	var merged []any
	for i := 0; i < n; i++ {
		b, bOK := arrayIndex(base, i)
		s, sOK := arrayIndex(source, i)
		t, tOK := arrayIndex(target, i)
		v, present := d.merge(joinPath(path, strconv.Itoa(i)), b, s, t, bOK, sOK, tOK)
		if present {
			merged = append(merged, v)
		}
	}
	return merged
}

// mergeArraysByKey aligns object elements on the identity key and merges
// aligned triples. Order follows target, then source-only additions.
func (d *differ) mergeArraysByKey(path, key string, base, source, target []any) []any {
	baseByID := indexByKey(key, base)
	sourceByID := indexByKey(key, source)
	targetByID := indexByKey(key, target)

	var merged []any
	emitted := make(map[string]bool)
	emit := func(id string) {
		if emitted[id] {
			return
		}
		emitted[id] = true
		b, bOK := baseByID[id]
		s, sOK := sourceByID[id]
		t, tOK := targetByID[id]
		v, present := d.merge(joinPath(path, id), b, s, t, bOK, sOK, tOK)
		if present {
			merged = append(merged, v)
		}
	}
	for _, el := range target {
		emit(elementID(key, el))
	}
	for _, el := range source {
		emit(elementID(key, el))
	}
	for _, el := range base {
		emit(elementID(key, el))
	}
	return merged
}

// alignable reports whether every element of every present array is an object
// carrying the identity key.
func alignable(key string, arrays ...[]any) bool {
	found := false
	for _, arr := range arrays {
		for _, el := range arr {
			m, ok := el.(map[string]any)
			if !ok {
				return false
			}
			if _, ok := m[key]; !ok {
				return false
			}
			found = true
		}
	}
	return found
}

func indexByKey(key string, arr []any) map[string]any {
	out := make(map[string]any, len(arr))
	for _, el := range arr {
		out[elementID(key, el)] = el
	}
	return out
}

func elementID(key string, el any) string {
	m := el.(map[string]any)
	return fmt.Sprintf("%v", m[key])
}

func arrayIndex(arr []any, i int) (any, bool) {
	if i < len(arr) {
		return arr[i], true
	}
	return nil, false
}

func joinPath(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "." + segment
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// ApplyResolution overwrites the value at the conflict path inside doc,
// creating intermediate objects where the path does not exist yet. Array
// segments address elements by index or by the identity key.
func ApplyResolution(doc campaign.Document, entityType campaign.EntityType, path string, value any) error {
	if doc == nil {
		return fmt.Errorf("no merged document to resolve into")
	}
	segments := strings.Split(path, ".")
	var node any = map[string]any(doc)
	for i, seg := range segments {
		last := i == len(segments)-1
		switch cur := node.(type) {
		case map[string]any:
			if last {
				cur[seg] = value
				return nil
			}
			next, ok := cur[seg]
			if !ok {
				child := make(map[string]any)
				cur[seg] = child
				node = child
				continue
			}
			node = next
		case []any:
			idx, err := arrayElementIndex(cur, seg, identityKeyFor(entityType))
			if err != nil {
				return fmt.Errorf("path %q: %w", path, err)
			}
			if last {
				cur[idx] = value
				return nil
			}
			node = cur[idx]
		default:
			return fmt.Errorf("path %q descends into a scalar at %q", path, seg)
		}
	}
	return fmt.Errorf("path %q is empty", path)
}

func arrayElementIndex(arr []any, seg, identityKey string) (int, error) {
	if n, err := strconv.Atoi(seg); err == nil {
		if n < 0 || n >= len(arr) {
			return 0, fmt.Errorf("index %d out of range", n)
		}
		return n, nil
	}
	for i, el := range arr {
		if m, ok := el.(map[string]any); ok && fmt.Sprintf("%v", m[identityKey]) == seg {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no element %q", seg)
}
