package settings

import (
	"context"
	"testing"
	"time"
)

func TestProbeNeverRaises(t *testing.T) {
	dir := t.TempDir()
	h := Probe(context.Background(), dir, time.Unix(0, 0))

	if h.RuntimeMode == "" {
		t.Errorf("expected a runtime mode")
	}
	if h.GOOS == "" {
		t.Errorf("expected GOOS populated")
	}
	if !h.WorkspaceWritable {
		t.Errorf("expected temp dir to be writable")
	}
}

func TestProbeUnwritableWorkspace(t *testing.T) {
	h := Probe(context.Background(), "/nonexistent/does/not/exist", time.Unix(0, 0))
	if h.WorkspaceWritable {
		t.Errorf("expected unwritable for a nonexistent path")
	}
}
