package state

import "fmt"

// MergeReport collects diagnostics produced while merging. Leaf type
// conflicts never abort the merge; they overwrite and are reported here.
type MergeReport struct {
	Conflicts []string
}

func (r *MergeReport) conflict(path string, old, new any) {
	r.Conflicts = append(r.Conflicts,
		fmt.Sprintf("%s: %T overwritten by %T", path, old, new))
}

// DeepMerge merges patch into s in place and returns a report of any leaf
// conflicts. List-valued keys append, map-valued keys merge recursively,
// scalars overwrite.
func DeepMerge(s State, patch map[string]any) MergeReport {
	var report MergeReport
	mergeMap(map[string]any(s), patch, "", &report)
	return report
}

func mergeMap(dst, src map[string]any, prefix string, report *MergeReport) {
	for k, v := range src {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		old, exists := dst[k]
		if !exists || old == nil {
			dst[k] = deepCopyValue(v)
			continue
		}
		switch newVal := normalizeMapValue(v).(type) {
		case map[string]any:
			if oldMap, ok := normalizeMapValue(old).(map[string]any); ok {
				mergeMap(oldMap, newVal, path, report)
				dst[k] = oldMap
				continue
			}
			report.conflict(path, old, v)
			dst[k] = deepCopyValue(newVal)
		case []any:
			if oldList, ok := old.([]any); ok {
				dst[k] = append(oldList, deepCopyValue(newVal).([]any)...)
				continue
			}
			report.conflict(path, old, v)
			dst[k] = deepCopyValue(newVal)
		default:
			if _, wasMap := normalizeMapValue(old).(map[string]any); wasMap {
				report.conflict(path, old, v)
			} else if _, wasList := old.([]any); wasList {
				report.conflict(path, old, v)
			}
			dst[k] = v
		}
	}
}

func normalizeMapValue(v any) any {
	switch tv := v.(type) {
	case State:
		return map[string]any(tv)
	case map[string]string:
		out := make(map[string]any, len(tv))
		for k, s := range tv {
			out[k] = s
		}
		return out
	case []string:
		out := make([]any, len(tv))
		for i, s := range tv {
			out[i] = s
		}
		return out
	default:
		return v
	}
}
