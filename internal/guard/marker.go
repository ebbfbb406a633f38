// Package guard holds the last-resort side of a restart: a lock marker that
// tells the outside world a restart cycle is in flight, and a terminator
// that signals the supervising process when the graceful path stalls.
package guard

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// DefaultLockPath is where the restart agent drops its lock marker.
const DefaultLockPath = "/tmp/restart_app.lock"

// Marker is a filesystem existence token. Its content, the PID of the
// process that created it, is informational only.
type Marker struct {
	fs   afero.Fs
	path string
}

// NewMarker returns a Marker at path on fs. A nil fs means the OS filesystem.
func NewMarker(fs afero.Fs, path string) *Marker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultLockPath
	}
	return &Marker{fs: fs, path: path}
}

// Path returns the marker location.
func (m *Marker) Path() string {
	return m.path
}

// Create writes the marker, replacing any stale one.
func (m *Marker) Create() error {
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, m.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Remove deletes the marker. A missing marker is not an error.
func (m *Marker) Remove() error {
	err := m.fs.Remove(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether the marker is present.
func (m *Marker) Exists() (bool, error) {
	return afero.Exists(m.fs, m.path)
}
