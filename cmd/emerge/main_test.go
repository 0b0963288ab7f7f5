package main

import "testing"

func TestSplitKeyLocal(t *testing.T) {
	cases := []struct {
		key              string
		category, name   string
		ok               bool
	}{
		{"dev-lang/go", "dev-lang", "go", true},
		{"app-editors/vim", "app-editors", "vim", true},
		{"malformed", "", "", false},
	}
	for _, c := range cases {
		category, name, ok := splitKeyLocal(c.key)
		if ok != c.ok || category != c.category || name != c.name {
			t.Errorf("splitKeyLocal(%q) = %q, %q, %v; want %q, %q, %v",
				c.key, category, name, ok, c.category, c.name, c.ok)
		}
	}
}

// Without a configured root (one with etc/portage/repos.conf present),
// Run must fail closed rather than silently operating on the live
// filesystem.
func TestConfigRunFailsWithoutConfiguredRoot(t *testing.T) {
	var out, errOut fakeWriter
	c := &Config{
		Args:   []string{"emerge", "-p", "--root", t.TempDir(), "dev-lang/go"},
		Stdout: &out,
		Stderr: &errOut,
	}
	if code := c.Run(); code != 1 {
		t.Fatalf("got exit code %d, want 1", code)
	}
}

type fakeWriter struct{ data []byte }

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
