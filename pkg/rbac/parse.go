package rbac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeReport describes anything DecodePermissionList had to discard.
// A zero report means the input was absent or fully valid.
type DecodeReport struct {
	// Malformed is set when the input could not be decoded as a list of strings
	Malformed error
	// Dropped holds well-formed entries that are not in the catalog
	Dropped []string
}

// Clean reports whether nothing was discarded
func (r DecodeReport) Clean() bool {
	return r.Malformed == nil && len(r.Dropped) == 0
}

// ParsePermissionList decodes a persisted permission list. It never fails: absent or
// malformed input yields an empty set and unknown entries are dropped.
func ParsePermissionList(raw *string) PermissionSet {
	set, _ := DecodePermissionList(raw)
	return set
}

// DecodePermissionList is ParsePermissionList plus a report of what was discarded,
// for callers that record data-integrity warnings.
func DecodePermissionList(raw *string) (PermissionSet, DecodeReport) {
	var report DecodeReport
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return PermissionSet{}, report
	}

	var values []string
	if err := json.Unmarshal([]byte(*raw), &values); err != nil {
		report.Malformed = fmt.Errorf("decode permission list: %w", err)
		return PermissionSet{}, report
	}

	set := make(PermissionSet, len(values))
	for _, v := range values {
		p, ok := ParsePermission(v)
		if !ok {
			report.Dropped = append(report.Dropped, v)
			continue
		}
		set.Add(p)
	}
	return set, report
}

// EncodePermissionList renders perms in the canonical persisted form: a sorted,
// de-duplicated JSON array.
func EncodePermissionList(perms PermissionSet) string {
	sorted := perms.Sorted()
	values := make([]string, len(sorted))
	for i, p := range sorted {
		values[i] = string(p)
	}
	data, err := json.Marshal(values)
	if err != nil {
		// []string always marshals
		return "[]"
	}
	return string(data)
}
