//go:build !linux

package gpio

import "errors"

// RealBoard is not available on non-Linux platforms.
type RealBoard struct{}

// NewRealBoard returns an error on non-Linux platforms.
func NewRealBoard(chipName string, pins Pins, activeHigh bool) (*RealBoard, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (b *RealBoard) Read() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// SetValve is not implemented on non-Linux platforms.
func (b *RealBoard) SetValve(on bool) error {
	return errors.New("gpio: not supported")
}

// SetPump is not implemented on non-Linux platforms.
func (b *RealBoard) SetPump(on bool) error {
	return errors.New("gpio: not supported")
}

// SetHeater is not implemented on non-Linux platforms.
func (b *RealBoard) SetHeater(on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBoard) Close() error {
	return nil
}
