package state

import "testing"

func TestGetPathWithIndices(t *testing.T) {
	root := map[string]any{
		"foo": map[string]any{
			"bar": []any{
				map[string]any{"name": "first"},
				map[string]any{"name": "second"},
			},
		},
	}

	v, ok := GetPath(root, "foo.bar[1].name")
	if !ok || v != "second" {
		t.Fatalf("got %v ok=%v", v, ok)
	}
	if _, ok := GetPath(root, "foo.bar[5].name"); ok {
		t.Fatal("out of range index must miss")
	}
	if _, ok := GetPath(root, "foo.missing"); ok {
		t.Fatal("missing key must miss")
	}
}

func TestSetPathCreatesParents(t *testing.T) {
	root := map[string]any{}
	if err := SetPath(root, "attributes.params.metadata.notify", "yes"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := GetPath(root, "attributes.params.metadata.notify")
	if !ok || v != "yes" {
		t.Fatalf("got %v ok=%v", v, ok)
	}
}

func TestSetPathIndexOutOfRange(t *testing.T) {
	root := map[string]any{"items": []any{"a"}}
	if err := SetPath(root, "items[3]", "x"); err == nil {
		t.Fatal("expected explicit out-of-range error on list overflow")
	}
	if err := SetPath(root, "items[0]", "b"); err != nil {
		t.Fatalf("in-range write: %v", err)
	}
}

func TestAppendPath(t *testing.T) {
	root := map[string]any{}
	if err := AppendPath(root, "events", "e1"); err != nil {
		t.Fatalf("append to missing leaf: %v", err)
	}
	if err := AppendPath(root, "events", []any{"e2", "e3"}); err != nil {
		t.Fatalf("append list: %v", err)
	}
	list, _ := GetPath(root, "events")
	if len(list.([]any)) != 3 {
		t.Fatalf("got %v", list)
	}

	root["scalar"] = 7
	if err := AppendPath(root, "scalar", "x"); err == nil {
		t.Fatal("append to scalar must error")
	}
}
