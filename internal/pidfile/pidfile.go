// Package pidfile records the process ID for external supervisors.
package pidfile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Write stores the current process ID in path as a decimal number,
// replacing any previous content.
func Write(path string) error {
	return write(path, os.Getpid())
}

func write(path string, pid int) error {
	if path == "" {
		return errors.New("pidfile: empty path")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return errors.Wrap(err, "pidfile: write")
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "pidfile: remove")
	}
	return nil
}
