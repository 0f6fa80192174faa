package sandbox

import (
	"os"
	"os/exec"
	"runtime"
	"strings"

	oasis "github.com/nevindra/runcore"
)

// RuntimeMode classifies the host the runner itself is executing on, which
// decides how a workspace root on disk maps to a path Docker can bind-mount.
type RuntimeMode string

const (
	RuntimeLinux   RuntimeMode = "linux"
	RuntimeWSL     RuntimeMode = "wsl"
	RuntimeWindows RuntimeMode = "windows"
)

// DetectRuntime classifies the current host. Windows is runtime.GOOS; WSL is
// detected by the "microsoft" marker Linux's WSL kernel build embeds in
// /proc/version, the same check the settings health probe reports.
func DetectRuntime() RuntimeMode {
	if runtime.GOOS == "windows" {
		return RuntimeWindows
	}
	if b, err := os.ReadFile("/proc/version"); err == nil {
		if strings.Contains(strings.ToLower(string(b)), "microsoft") {
			return RuntimeWSL
		}
	}
	return RuntimeLinux
}

// PathAdapter resolves a host-native workspace root into the path string
// Docker's HostConfig.Binds should mount it at.
type PathAdapter struct {
	mode RuntimeMode
}

// NewPathAdapter builds an adapter for the given mode (pass DetectRuntime()
// in production; tests can force a mode).
func NewPathAdapter(mode RuntimeMode) PathAdapter { return PathAdapter{mode: mode} }

// DockerMountPath converts hostPath (as seen by this process) into the path
// the Docker daemon itself should bind-mount from. On native Linux this is
// a no-op: the daemon and this process share one filesystem namespace. On
// WSL, Docker Desktop's daemon runs outside the WSL VM and needs the
// Windows-side path, obtained by shelling out to wslpath -w. On native
// Windows the daemon already expects the windows path unchanged.
func (a PathAdapter) DockerMountPath(hostPath string) (string, error) {
	switch a.mode {
	case RuntimeWSL:
		out, err := exec.Command("wslpath", "-w", hostPath).Output()
		if err != nil {
			return "", &oasis.RuntimeError{Cause: err}
		}
		return strings.TrimSpace(string(out)), nil
	default:
		return hostPath, nil
	}
}
