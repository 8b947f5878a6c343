package hw

import "testing"

func TestMapThenLookupReturnsInstalledMapping(t *testing.T) {
	m := NewSoftMMU()
	owner := Owner{Tid: 1, Vaddr: 0x1000}
	if ok := m.Map(owner, 0xc0001000, true); !ok {
		t.Fatal("Map returned false")
	}
	kaddr, ok := m.Lookup(owner)
	if !ok {
		t.Fatal("Lookup did not find the mapping")
	}
	if kaddr != 0xc0001000 {
		t.Fatalf("kaddr = %#x, want %#x", kaddr, 0xc0001000)
	}
}

func TestUnmapRemovesTheMapping(t *testing.T) {
	m := NewSoftMMU()
	owner := Owner{Tid: 1, Vaddr: 0x1000}
	m.Map(owner, 0x1, true)
	m.Unmap(owner)
	if _, ok := m.Lookup(owner); ok {
		t.Fatal("mapping survived Unmap")
	}
}

func TestAccessedAndDirtyBitsDefaultFalseAndAreIndependentlySettable(t *testing.T) {
	m := NewSoftMMU()
	owner := Owner{Tid: 1, Vaddr: 0x1000}
	m.Map(owner, 0x1, true)

	if m.IsAccessed(owner) || m.IsDirty(owner) {
		t.Fatal("freshly mapped page should be neither accessed nor dirty")
	}

	m.SetAccessed(owner, true)
	if !m.IsAccessed(owner) {
		t.Fatal("SetAccessed(true) did not stick")
	}
	if m.IsDirty(owner) {
		t.Fatal("SetAccessed must not affect the dirty bit")
	}

	m.SetDirty(owner)
	if !m.IsDirty(owner) {
		t.Fatal("SetDirty did not stick")
	}

	m.ClearDirty(owner)
	if m.IsDirty(owner) {
		t.Fatal("ClearDirty did not clear the bit")
	}
	if !m.IsAccessed(owner) {
		t.Fatal("ClearDirty must not affect the accessed bit")
	}
}

func TestSetAccessedOnUnmappedOwnerIsANoOp(t *testing.T) {
	m := NewSoftMMU()
	owner := Owner{Tid: 1, Vaddr: 0x1000}
	m.SetAccessed(owner, true)
	m.SetDirty(owner)
	if m.IsAccessed(owner) || m.IsDirty(owner) {
		t.Fatal("an unmapped owner must report false for both bits, never panic or fabricate state")
	}
}

func TestMarkAccessedSetsDirtyOnlyOnWrite(t *testing.T) {
	m := NewSoftMMU()
	owner := Owner{Tid: 1, Vaddr: 0x1000}
	m.Map(owner, 0x1, true)

	m.MarkAccessed(owner, false)
	if !m.IsAccessed(owner) {
		t.Fatal("MarkAccessed must set the accessed bit regardless of write")
	}
	if m.IsDirty(owner) {
		t.Fatal("a read-only access must not set the dirty bit")
	}

	m.MarkAccessed(owner, true)
	if !m.IsDirty(owner) {
		t.Fatal("a write access must set the dirty bit")
	}
}
