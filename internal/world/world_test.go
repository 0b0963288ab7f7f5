package world

import "testing"

func TestAddContainsRemove(t *testing.T) {
	tr := New(t.TempDir())
	if err := tr.AddAtom("app-editors/vim"); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddAtom("sys-apps/util-linux"); err != nil {
		t.Fatal(err)
	}
	ok, err := tr.Contains("app-editors/vim")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected vim present")
	}
	if err := tr.RemoveAtom("app-editors/vim"); err != nil {
		t.Fatal(err)
	}
	ok, _ = tr.Contains("app-editors/vim")
	if ok {
		t.Error("expected vim removed")
	}
	ok, _ = tr.Contains("sys-apps/util-linux")
	if !ok {
		t.Error("expected util-linux still present")
	}
}

func TestLoadEmptyWhenMissing(t *testing.T) {
	tr := New(t.TempDir())
	atoms, err := tr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 0 {
		t.Errorf("got %v", atoms)
	}
}

func TestCleanDropsInvalidAtoms(t *testing.T) {
	tr := New(t.TempDir())
	if err := tr.AddAtom("app-editors/vim"); err != nil {
		t.Fatal(err)
	}
	atoms, _ := tr.Load()
	atoms["not a valid atom!!"] = true
	if err := tr.Save(atoms); err != nil {
		t.Fatal(err)
	}
	dropped, err := tr.Clean()
	if err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 1 || dropped[0] != "not a valid atom!!" {
		t.Errorf("got %v", dropped)
	}
	ok, _ := tr.Contains("app-editors/vim")
	if !ok {
		t.Error("expected valid atom retained")
	}
}
