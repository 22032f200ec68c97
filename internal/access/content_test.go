package access

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestListContentRoundTrip(t *testing.T) {
	original := NewList("milk", "eggs")
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Content
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsList() {
		t.Fatalf("type = %q, want list", decoded.Type)
	}
	if !reflect.DeepEqual(decoded.List, []string{"milk", "eggs"}) {
		t.Fatalf("items = %v", decoded.List)
	}
}

func TestEmptyListMarshalsAsArray(t *testing.T) {
	raw, err := json.Marshal(NewList())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"list","content":[]}` {
		t.Fatalf("wire form = %s", raw)
	}
}

func TestFileContentRoundTrip(t *testing.T) {
	original := NewFile("image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Content
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "image/png" {
		t.Fatalf("type = %q", decoded.Type)
	}
	if !reflect.DeepEqual(decoded.File, original.File) {
		t.Fatalf("file bytes = %v", decoded.File)
	}
}

func TestAddItemRejectsFileContent(t *testing.T) {
	content := NewFile("text/plain", []byte("hello"))
	if err := content.AddItem("item"); err == nil {
		t.Fatal("expected an error adding an item to file content")
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	var content Content
	if err := json.Unmarshal([]byte(`{"content":["a"]}`), &content); err == nil {
		t.Fatal("expected an error for missing type")
	}
}
