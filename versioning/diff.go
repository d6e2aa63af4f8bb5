/*
Package versioning snapshots the financial-ops state (bills + deposits),
computes structural diffs between snapshots, and supports commit /
rollback with append-only history.

PURPOSE:
  Loan servicing needs "what changed and why" for every recalculation.
  Each commit stores the full snapshot plus a dual diff against the
  previous commit: leaf changes under configured output paths (computed
  state) are separated from input changes (operator edits), so a UI can
  show "you changed X, the engine changed Y".

DIFF SEMANTICS:
  - Snapshots are compared as JSON trees (the same representation the
    store persists), path by path.
  - Identical values are skipped; primitive or type mismatches record a
    leaf diff.
  - Date-like strings are compared by instant, not by representation.
  - Arrays are compared index-wise up to the longer length.
  - Objects are compared over the union of keys.
  - Any path starting with an excluded prefix is skipped entirely.
*/
package versioning

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// DIFF ENTRIES
// =============================================================================

// DiffEntry records one leaf-level change between two snapshots.
type DiffEntry struct {
	Path string      `json:"path"`
	Old  interface{} `json:"old"`
	New  interface{} `json:"new"`
}

// DualDiff separates operator input changes from engine output changes.
type DualDiff struct {
	InputChanges  []DiffEntry `json:"inputChanges"`
	OutputChanges []DiffEntry `json:"outputChanges"`
}

// =============================================================================
// DUAL DIFF COMPUTATION
// =============================================================================

// ComputeDualDiff walks two JSON-like snapshots and classifies every
// recorded leaf as an output change (path prefix in outputPaths) or an
// input change. Raw values are normalized through a JSON round-trip so
// callers can pass structs or raw messages interchangeably.
func ComputeDualDiff(oldSnap, newSnap interface{}, excludedPaths, outputPaths []string) (DualDiff, error) {
	oldTree, err := toTree(oldSnap)
	if err != nil {
		return DualDiff{}, fmt.Errorf("normalize old snapshot: %w", err)
	}
	newTree, err := toTree(newSnap)
	if err != nil {
		return DualDiff{}, fmt.Errorf("normalize new snapshot: %w", err)
	}

	var diff DualDiff
	record := func(path string, oldVal, newVal interface{}) {
		entry := DiffEntry{Path: path, Old: oldVal, New: newVal}
		if hasPrefix(path, outputPaths) {
			diff.OutputChanges = append(diff.OutputChanges, entry)
		} else {
			diff.InputChanges = append(diff.InputChanges, entry)
		}
	}
	walkDiff("", oldTree, newTree, excludedPaths, record)
	return diff, nil
}

func toTree(v interface{}) (interface{}, error) {
	var raw []byte
	var err error
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, err
		}
	}
	// An absent snapshot (first commit) diffs as an empty tree.
	if len(raw) == 0 {
		return nil, nil
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walkDiff(path string, oldVal, newVal interface{}, excluded []string, record func(string, interface{}, interface{})) {
	if path != "" && hasPrefix(path, excluded) {
		return
	}

	oldObj, oldIsObj := oldVal.(map[string]interface{})
	newObj, newIsObj := newVal.(map[string]interface{})
	if oldIsObj && newIsObj {
		for _, key := range unionKeys(oldObj, newObj) {
			walkDiff(childPath(path, key), oldObj[key], newObj[key], excluded, record)
		}
		return
	}

	oldArr, oldIsArr := oldVal.([]interface{})
	newArr, newIsArr := newVal.([]interface{})
	if oldIsArr && newIsArr {
		n := len(oldArr)
		if len(newArr) > n {
			n = len(newArr)
		}
		for i := 0; i < n; i++ {
			var o, nv interface{}
			if i < len(oldArr) {
				o = oldArr[i]
			}
			if i < len(newArr) {
				nv = newArr[i]
			}
			walkDiff(fmt.Sprintf("%s[%d]", path, i), o, nv, excluded, record)
		}
		return
	}

	// Date-like values compare by instant, not representation.
	if ot, ok := parseInstant(oldVal); ok {
		if nt, ok2 := parseInstant(newVal); ok2 {
			if ot.Equal(nt) {
				return
			}
			record(path, oldVal, newVal)
			return
		}
	}

	if reflect.DeepEqual(oldVal, newVal) {
		return
	}
	record(path, oldVal, newVal)
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func unionKeys(a, b map[string]interface{}) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+".") || strings.HasPrefix(path, p+"[") {
			return true
		}
	}
	return false
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

func parseInstant(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
