//go:build !linux

package explorer

import (
	"errors"
)

func setAffinity(int) error {
	return errors.ErrUnsupported
}

func lowerPriority() {}
