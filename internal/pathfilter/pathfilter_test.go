package pathfilter

import "testing"

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := New(nil)
	if !f.Match("/anything/at/all") {
		t.Fatal("empty filter should match everything")
	}
}

func TestBoundaryMatch(t *testing.T) {
	f := New([]string{"/home/a"})

	cases := map[string]bool{
		"/home/a":     true,
		"/home/a/x":   true,
		"/home/ab":    false,
		"/home/ab/x":  false,
		"/home":       false,
		"/home/a/x/y": true,
	}

	for path, want := range cases {
		if got := f.Match(path); got != want {
			t.Errorf("Match(%q)=%v, want %v", path, got, want)
		}
	}
}

func TestMultiplePrefixes(t *testing.T) {
	f := New([]string{"/a", "/b"})

	if !f.Match("/b/c") {
		t.Fatal("expected /b/c to match /b prefix")
	}

	if f.Match("/c") {
		t.Fatal("/c should not match /a or /b")
	}
}
