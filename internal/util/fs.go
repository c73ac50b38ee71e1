package util

import (
	"errors"
	"fmt"
	"io/fs"
)

// FileError classifies a filesystem failure. Missing paths become
// ErrNotFound, everything else ErrIO. The original error stays in the chain.
func FileError(action, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s: %w", ErrNotFound, action, path, err)
	}
	return fmt.Errorf("%w: failed to %s %s: %w", ErrIO, action, path, err)
}
