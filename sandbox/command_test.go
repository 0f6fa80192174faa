package sandbox

import "testing"

func TestBuildCommandShell(t *testing.T) {
	argv, err := BuildCommand(Request{Kind: KindShell, Script: "echo hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"bash", "-lc", "echo hi"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestBuildCommandShellEmpty(t *testing.T) {
	if _, err := BuildCommand(Request{Kind: KindShell, Script: "  "}); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestBuildCommandPythonCode(t *testing.T) {
	argv, err := BuildCommand(Request{Kind: KindPython, Code: "print(1)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(argv) != 3 || argv[0] != "python" || argv[1] != "-c" || argv[2] != "print(1)" {
		t.Fatalf("unexpected argv: %v", argv)
	}
}

func TestBuildCommandPythonPathTraversal(t *testing.T) {
	cases := []string{"../etc/passwd", "/etc/passwd", "a/../../b"}
	for _, c := range cases {
		if _, err := BuildCommand(Request{Kind: KindPython, Path: c}); err == nil {
			t.Fatalf("expected rejection for path %q", c)
		}
	}
}

func TestBuildCommandPythonPathOK(t *testing.T) {
	argv, err := BuildCommand(Request{Kind: KindPython, Path: "scripts/run.py"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(argv) != 2 || argv[0] != "python" || argv[1] != "/workspace/inputs/scripts/run.py" {
		t.Fatalf("unexpected argv: %v", argv)
	}
}

func TestBuildCommandPythonBothSet(t *testing.T) {
	if _, err := BuildCommand(Request{Kind: KindPython, Code: "x", Path: "y.py"}); err == nil {
		t.Fatal("expected error when both code and path set")
	}
}

func TestBuildCommandUnsupportedKind(t *testing.T) {
	if _, err := BuildCommand(Request{Kind: "ruby", Script: "x"}); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestMergePolicyLayering(t *testing.T) {
	defaults := DefaultPolicy()
	settings := Policy{MemoryMB: 1024}
	manifest := Policy{TimeoutMs: 5000}
	overrides := Policy{TimeoutMs: 10000, NetMode: "bridge"}

	merged := MergePolicy(defaults, settings, manifest, overrides)
	if merged.MemoryMB != 1024 {
		t.Errorf("MemoryMB = %d, want 1024 (from settings)", merged.MemoryMB)
	}
	if merged.TimeoutMs != 10000 {
		t.Errorf("TimeoutMs = %d, want 10000 (from overrides, last wins)", merged.TimeoutMs)
	}
	if merged.NetMode != "bridge" {
		t.Errorf("NetMode = %q, want bridge", merged.NetMode)
	}
	if merged.Pids != defaults.Pids {
		t.Errorf("Pids = %d, want default %d (untouched by later layers)", merged.Pids, defaults.Pids)
	}
}

func TestLimitedBufferTruncates(t *testing.T) {
	w := newLimitedBuffer(5)
	n, err := w.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("hello world") {
		t.Fatalf("Write returned n=%d, want %d (full length reported to avoid short-write aborts)", n, len("hello world"))
	}
	if !w.truncated {
		t.Fatal("expected truncated=true")
	}
	if w.String() != "hello" {
		t.Fatalf("String() = %q, want %q", w.String(), "hello")
	}
}
