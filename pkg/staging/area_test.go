package staging

import (
	"errors"
	"testing"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

func TestArea_InsertAndQuery(t *testing.T) {
	a := NewArea()
	if !a.IsEmpty() {
		t.Fatal("New area should be empty")
	}

	svc := &engine.Prototype{Type: engine.ObjectTypeService, Name: "hdfs", Version: "1.0"}
	id, err := a.Prototypes.Insert(svc)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if id != 1 || svc.ID != 1 {
		t.Errorf("Expected first ID to be 1, got %d", id)
	}

	comp := &engine.Prototype{Type: engine.ObjectTypeComponent, Name: "namenode", Version: "1.0", ParentID: &svc.ID}
	if _, err := a.Prototypes.Insert(comp); err != nil {
		t.Fatalf("Failed to insert component: %v", err)
	}

	if got := a.ComponentsOf(svc.ID); len(got) != 1 || got[0].Name != "namenode" {
		t.Errorf("Unexpected components: %v", got)
	}

	if _, err := a.Prototypes.One(func(p *engine.Prototype) bool { return p.Name == "none" }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := a.Prototypes.One(func(p *engine.Prototype) bool { return p.Version == "1.0" }); !errors.Is(err, ErrMultiple) {
		t.Errorf("Expected ErrMultiple, got %v", err)
	}
}

func TestArea_UniqueKeys(t *testing.T) {
	a := NewArea()
	if _, err := a.Configs.Insert(&engine.PrototypeConfig{PrototypeID: 1, Name: "port"}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	_, err := a.Configs.Insert(&engine.PrototypeConfig{PrototypeID: 1, Name: "port"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	actionID := int64(3)
	if _, err := a.Configs.Insert(&engine.PrototypeConfig{PrototypeID: 1, ActionID: &actionID, Name: "port"}); err != nil {
		t.Errorf("Action config should not clash with prototype config: %v", err)
	}
}

func TestArea_Clear(t *testing.T) {
	a := NewArea()
	a.Actions.Insert(&engine.Action{PrototypeID: 1, Name: "install"})
	a.Exports.Insert(&engine.PrototypeExport{PrototypeID: 1, Name: "core"})
	if a.IsEmpty() {
		t.Fatal("Area should not be empty")
	}

	a.Clear()
	if !a.IsEmpty() {
		t.Fatal("Area should be empty after Clear")
	}
	id, _ := a.Actions.Insert(&engine.Action{PrototypeID: 1, Name: "install"})
	if id != 1 {
		t.Errorf("Expected IDs to restart at 1, got %d", id)
	}
}
