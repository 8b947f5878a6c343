package tinfo

import "testing"

func TestAddRegistersANote(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	n := ti.Add(1)
	if n.Tid != 1 {
		t.Fatalf("note.Tid = %d, want 1", n.Tid)
	}
	if !n.Alive {
		t.Fatal("a freshly added note should be Alive")
	}
	if n.Doomed() {
		t.Fatal("a freshly added note should not be doomed")
	}
}

func TestGetFindsARegisteredNote(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	ti.Add(5)
	n, ok := ti.Get(5)
	if !ok {
		t.Fatal("Get should find a registered tid")
	}
	if n.Tid != 5 {
		t.Fatalf("note.Tid = %d, want 5", n.Tid)
	}
}

func TestGetOnUnregisteredTidFails(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	if _, ok := ti.Get(99); ok {
		t.Fatal("Get should fail for a never-registered tid")
	}
}

func TestDelRemovesTheNote(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	ti.Add(3)
	ti.Del(3)
	if _, ok := ti.Get(3); ok {
		t.Fatal("note survived Del")
	}
}

func TestKillMarksDoomed(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	n := ti.Add(1)
	n.Kill()
	if !n.Doomed() {
		t.Fatal("Kill should mark the note doomed")
	}
	if !n.Killed {
		t.Fatal("Kill should set Killed")
	}
}

func TestNotesAreIndependentAcrossTids(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	a := ti.Add(1)
	b := ti.Add(2)
	a.Kill()
	if b.Doomed() {
		t.Fatal("killing one tid's note must not affect another's")
	}
}
