//go:build !rtmidi

// ABOUTME: rtmidi stub when the native library is not compiled in
// ABOUTME: Keeps the driver API available so callers build without cgo
package rtmidi

import (
	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
)

// Driver is unavailable in this build
type Driver struct{}

// New always fails without the rtmidi tag
func New(r *router.Router) (*Driver, error) {
	return nil, ErrUnsupported
}

func (d *Driver) Inputs() ([]string, error) {
	return nil, ErrUnsupported
}

func (d *Driver) Open(match string) error {
	return ErrUnsupported
}

func (d *Driver) Close() error {
	return nil
}
