package state

import (
	"fmt"
	"strconv"
	"strings"
)

// pathSegment is one step of a dotted path. A segment is either a map key or
// a list index written as key[idx].
type pathSegment struct {
	key   string
	index int
	isIdx bool
}

// ParsePath splits a dotted path into segments, supporting list indices in
// the form foo.bar[0]. An empty path is an error.
func parsePath(path string) ([]pathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		key := part
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				if key != "" {
					segs = append(segs, pathSegment{key: key})
				}
				break
			}
			close := strings.IndexByte(key, ']')
			if close < open {
				return nil, fmt.Errorf("malformed index in %q", part)
			}
			if open > 0 {
				segs = append(segs, pathSegment{key: key[:open]})
			}
			idx, err := strconv.Atoi(key[open+1 : close])
			if err != nil {
				return nil, fmt.Errorf("malformed index in %q: %w", part, err)
			}
			segs = append(segs, pathSegment{index: idx, isIdx: true})
			key = key[close+1:]
			if key == "" {
				break
			}
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path %q", path)
	}
	return segs, nil
}

// GetPath resolves a dotted path against any map/list value. The second
// return is false when any segment is missing.
func GetPath(root any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	cur := root
	for _, seg := range segs {
		if seg.isIdx {
			list, ok := normalizeMapValue(cur).([]any)
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, false
			}
			cur = list[seg.index]
			continue
		}
		m, ok := normalizeMapValue(cur).(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg.key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// SetPath writes value at a dotted path, creating intermediate maps. Writing
// past the end of a list is an explicit error rather than silent growth.
func SetPath(root map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	var cur any = root
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg.isIdx {
			list, ok := cur.([]any)
			if !ok {
				return fmt.Errorf("path %q: index into non-list", path)
			}
			if seg.index < 0 || seg.index >= len(list) {
				return fmt.Errorf("path %q: index %d out of range (len %d)", path, seg.index, len(list))
			}
			if last {
				list[seg.index] = value
				return nil
			}
			cur = list[seg.index]
			continue
		}
		m, ok := normalizeMapValue(cur).(map[string]any)
		if !ok {
			return fmt.Errorf("path %q: key %q on non-map", path, seg.key)
		}
		if last {
			m[seg.key] = value
			return nil
		}
		next, exists := m[seg.key]
		if !exists || next == nil {
			child := map[string]any{}
			m[seg.key] = child
			cur = child
			continue
		}
		cur = next
	}
	return nil
}

// AppendPath appends value to the list at path, creating the list when the
// leaf is missing. A non-list leaf is an error.
func AppendPath(root map[string]any, path string, value any) error {
	existing, ok := GetPath(root, path)
	if !ok || existing == nil {
		if list, isList := value.([]any); isList {
			return SetPath(root, path, append([]any{}, list...))
		}
		return SetPath(root, path, []any{value})
	}
	list, isList := existing.([]any)
	if !isList {
		return fmt.Errorf("path %q: append target is %T, not a list", path, existing)
	}
	if more, isList := value.([]any); isList {
		return SetPath(root, path, append(list, more...))
	}
	return SetPath(root, path, append(list, value))
}
