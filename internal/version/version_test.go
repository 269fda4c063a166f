package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) || !strings.Contains(s, Commit) {
		t.Errorf("String() = %q, missing version or commit", s)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "commit", "build_time", "go"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
}
