package objecttable_test

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/davetcode/zqz/internal/zerrs"
	"github.com/davetcode/zqz/objecttable"
)

// buildFixture lays out a minimal v3 object table by hand: two objects,
// object 2 a child of object 1, with a two-byte property 5 on object 1
// and a property default for property 9. Offsets are computed as the
// bytes are appended so the layout can't drift out of sync with itself.
func buildFixture(t *testing.T) (memory []byte, tableOffset uint32, staticBase uint32) {
	t.Helper()

	var mem []byte

	defaults := make([]byte, 2*31)
	binary.BigEndian.PutUint16(defaults[2*(9-1):], 0x0005) // default for property 9
	mem = append(mem, defaults...)

	object1RecordOffset := uint32(len(mem))
	mem = append(mem, make([]byte, 9)...)

	object2RecordOffset := uint32(len(mem))
	mem = append(mem, make([]byte, 9)...)

	mem = append(mem, make([]byte, 9)...) // all-zero terminator record

	object1PropAddr := uint32(len(mem))
	mem = append(mem, 0x00)             // short name length 0
	mem = append(mem, 0x25, 0x12, 0x34) // property 5, size 2, data 0x12 0x34
	mem = append(mem, 0x00)             // property list terminator

	object2PropAddr := uint32(len(mem))
	mem = append(mem, 0x00, 0x00) // short name length 0, no properties

	mem[object1RecordOffset+0] = 0x80 // attribute 0 set
	mem[object1RecordOffset+3] = 0x01 // attribute 31 set
	mem[object1RecordOffset+6] = 2    // child = object 2
	binary.BigEndian.PutUint16(mem[object1RecordOffset+7:object1RecordOffset+9], uint16(object1PropAddr))

	mem[object2RecordOffset+4] = 1 // parent = object 1
	binary.BigEndian.PutUint16(mem[object2RecordOffset+7:object2RecordOffset+9], uint16(object2PropAddr))

	return mem, 0, 0
}

func mustLoad(t *testing.T) *objecttable.ObjectTable {
	t.Helper()
	mem, tableOffset, staticBase := buildFixture(t)
	table, err := objecttable.Load(mem, objecttable.V3, tableOffset, staticBase)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return table
}

func TestLoadParsesRelationships(t *testing.T) {
	table := mustLoad(t)

	if got := table.GetChild(1); got != 2 {
		t.Errorf("object 1 child = %d, want 2", got)
	}
	if got := table.GetParent(2); got != 1 {
		t.Errorf("object 2 parent = %d, want 1", got)
	}
	if got := table.GetSibling(2); got != 0 {
		t.Errorf("object 2 sibling = %d, want 0", got)
	}
}

func TestAttributes(t *testing.T) {
	table := mustLoad(t)

	if !table.GetAttribute(1, 0) {
		t.Error("object 1 attribute 0 should be set")
	}
	if !table.GetAttribute(1, 31) {
		t.Error("object 1 attribute 31 should be set")
	}
	if table.GetAttribute(1, 15) {
		t.Error("object 1 attribute 15 should not be set")
	}

	if err := table.SetAttribute(1, 15, true); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if !table.GetAttribute(1, 15) {
		t.Error("attribute 15 should be set after SetAttribute")
	}

	if err := table.SetAttribute(1, 15, false); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if table.GetAttribute(1, 15) {
		t.Error("attribute 15 should be clear after second SetAttribute")
	}

	if err := table.SetAttribute(1, 32, true); !errors.Is(err, zerrs.AttrOutOfRange) {
		t.Errorf("SetAttribute(32) err = %v, want AttrOutOfRange", err)
	}

	// Queries never fail: out-of-range or unknown objects just read false.
	if table.GetAttribute(99, 0) {
		t.Error("unknown object should report false, not panic or error")
	}
}

func TestProperties(t *testing.T) {
	table := mustLoad(t)

	if got := table.GetProperty(1, 5); got != 0x1234 {
		t.Errorf("object 1 property 5 = %#x, want 0x1234", got)
	}

	// Property 9 is absent on both objects; falls back to the header default.
	if got := table.GetProperty(1, 9); got != 0x0005 {
		t.Errorf("object 1 property 9 default = %#x, want 0x0005", got)
	}
	if got := table.GetProperty(2, 9); got != 0x0005 {
		t.Errorf("object 2 property 9 default = %#x, want 0x0005", got)
	}

	if err := table.SetProperty(1, 5, 0xBEEF); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if got := table.GetProperty(1, 5); got != 0xBEEF {
		t.Errorf("object 1 property 5 after SetProperty = %#x, want 0xBEEF", got)
	}

	if err := table.SetProperty(1, 9, 1); !errors.Is(err, zerrs.InvalidProperty) {
		t.Errorf("SetProperty on absent property err = %v, want InvalidProperty", err)
	}

	if err := table.SetProperty(99, 5, 1); !errors.Is(err, zerrs.InvalidObject) {
		t.Errorf("SetProperty on unknown object err = %v, want InvalidObject", err)
	}
}

func TestNextProperty(t *testing.T) {
	table := mustLoad(t)

	first, err := table.NextProperty(1, 0)
	if err != nil {
		t.Fatalf("NextProperty(0): %v", err)
	}
	if first != 5 {
		t.Errorf("first property = %d, want 5", first)
	}

	next, err := table.NextProperty(1, 5)
	if err != nil {
		t.Fatalf("NextProperty(5): %v", err)
	}
	if next != 0 {
		t.Errorf("property after last = %d, want 0", next)
	}

	if _, err := table.NextProperty(1, 7); !errors.Is(err, zerrs.InvalidProperty) {
		t.Errorf("NextProperty on absent property err = %v, want InvalidProperty", err)
	}
}

func TestMoveObject(t *testing.T) {
	table := mustLoad(t)

	if err := table.MoveObject(2, 0); err != nil {
		t.Fatalf("MoveObject(detach): %v", err)
	}
	if got := table.GetParent(2); got != 0 {
		t.Errorf("object 2 parent after detach = %d, want 0", got)
	}
	if got := table.GetChild(1); got != 0 {
		t.Errorf("object 1 child after detach = %d, want 0", got)
	}

	if err := table.MoveObject(2, 1); err != nil {
		t.Fatalf("MoveObject(reattach): %v", err)
	}
	if got := table.GetParent(2); got != 1 {
		t.Errorf("object 2 parent after reattach = %d, want 1", got)
	}
	if got := table.GetChild(1); got != 2 {
		t.Errorf("object 1 child after reattach = %d, want 2", got)
	}

	if err := table.MoveObject(99, 1); !errors.Is(err, zerrs.InvalidObject) {
		t.Errorf("MoveObject on unknown object err = %v, want InvalidObject", err)
	}
	if err := table.MoveObject(1, 99); !errors.Is(err, zerrs.InvalidObject) {
		t.Errorf("MoveObject to unknown parent err = %v, want InvalidObject", err)
	}
}

func TestCheckTreeCoherence(t *testing.T) {
	table := mustLoad(t)
	if err := table.CheckTreeCoherence(); err != nil {
		t.Errorf("freshly loaded tree should be coherent: %v", err)
	}

	if err := table.MoveObject(2, 1); err != nil {
		t.Fatalf("MoveObject: %v", err)
	}
	if err := table.CheckTreeCoherence(); err != nil {
		t.Errorf("tree should remain coherent after MoveObject: %v", err)
	}
}

func TestLoadTruncated(t *testing.T) {
	mem, tableOffset, staticBase := buildFixture(t)
	if _, err := objecttable.Load(mem[:10], objecttable.V3, tableOffset, staticBase); !errors.Is(err, zerrs.CorruptStory) {
		t.Errorf("Load on truncated memory err = %v, want CorruptStory", err)
	}
}

func TestLoadPropertyTableAddressNormalization(t *testing.T) {
	// With a non-zero staticBase, property-table addresses above it are
	// preserved exactly through the normalize/reconstruct round trip.
	mem, tableOffset, _ := buildFixture(t)
	staticBase := uint32(4) // below every property table address in the fixture

	table, err := objecttable.Load(mem, objecttable.V3, tableOffset, staticBase)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := table.GetProperty(1, 5); got != 0x1234 {
		t.Errorf("property 5 after normalization = %#x, want 0x1234", got)
	}
}
