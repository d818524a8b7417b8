package jsonpatch

import (
	"reflect"
	"testing"
)

func doc() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           "p1",
		"gender":       "male",
		"name": []interface{}{
			map[string]interface{}{"family": "Doe"},
		},
	}
}

func TestReplaceField(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "replace", Path: "/gender", Value: "female"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["gender"] != "female" {
		t.Errorf("gender = %v", out["gender"])
	}
}

func TestReplaceMissingFieldFails(t *testing.T) {
	if _, err := Apply(doc(), []Operation{
		{Op: "replace", Path: "/birthDate", Value: "1990-01-01"},
	}); err == nil {
		t.Error("replace on missing path succeeded")
	}
}

func TestAddField(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "add", Path: "/birthDate", Value: "1990-01-01"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["birthDate"] != "1990-01-01" {
		t.Errorf("birthDate = %v", out["birthDate"])
	}
}

func TestAddToArrayEnd(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "add", Path: "/name/-", Value: map[string]interface{}{"family": "Smith"}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	names := out["name"].([]interface{})
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
	if names[1].(map[string]interface{})["family"] != "Smith" {
		t.Errorf("appended name = %v", names[1])
	}
}

func TestAddAtArrayIndexInserts(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "add", Path: "/name/0", Value: map[string]interface{}{"family": "First"}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	names := out["name"].([]interface{})
	if len(names) != 2 || names[0].(map[string]interface{})["family"] != "First" {
		t.Errorf("names = %v", names)
	}
}

func TestRemoveField(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "remove", Path: "/gender"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := out["gender"]; ok {
		t.Error("gender survived remove")
	}
}

func TestRemoveArrayElement(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "add", Path: "/name/-", Value: map[string]interface{}{"family": "Smith"}},
		{Op: "remove", Path: "/name/0"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	names := out["name"].([]interface{})
	if len(names) != 1 || names[0].(map[string]interface{})["family"] != "Smith" {
		t.Errorf("names = %v", names)
	}
}

func TestNestedReplace(t *testing.T) {
	out, err := Apply(doc(), []Operation{
		{Op: "replace", Path: "/name/0/family", Value: "Chang"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	family := out["name"].([]interface{})[0].(map[string]interface{})["family"]
	if family != "Chang" {
		t.Errorf("family = %v", family)
	}
}

func TestUnsupportedOp(t *testing.T) {
	if _, err := Apply(doc(), []Operation{
		{Op: "move", Path: "/gender"},
	}); err == nil {
		t.Error("move op accepted")
	}
}

func TestSourceDocumentUnmodified(t *testing.T) {
	src := doc()
	want := doc()
	if _, err := Apply(src, []Operation{
		{Op: "replace", Path: "/gender", Value: "other"},
		{Op: "add", Path: "/name/-", Value: map[string]interface{}{"family": "X"}},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !reflect.DeepEqual(src, want) {
		t.Errorf("source mutated: %v", src)
	}
}

func TestEscapedPointerTokens(t *testing.T) {
	src := map[string]interface{}{"a/b": "old", "c~d": "old"}
	out, err := Apply(src, []Operation{
		{Op: "replace", Path: "/a~1b", Value: "new"},
		{Op: "replace", Path: "/c~0d", Value: "new"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["a/b"] != "new" || out["c~d"] != "new" {
		t.Errorf("out = %v", out)
	}
}
