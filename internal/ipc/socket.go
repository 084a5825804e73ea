package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// SocketFile is the socket's file name inside the app's runtime directory.
const SocketFile = "picker.sock"

// RuntimeDir returns the per-user runtime directory: $XDG_RUNTIME_DIR, or a
// uid-scoped directory under the system temp dir when that is unset.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("runtime-%d", os.Getuid()))
}

// SocketPath returns <runtime-dir>/<app>/picker.sock. An empty runtimeDir
// means RuntimeDir().
func SocketPath(runtimeDir, appName string) string {
	if runtimeDir == "" {
		runtimeDir = RuntimeDir()
	}
	return filepath.Join(runtimeDir, appName, SocketFile)
}
