//go:build !windows || !amd64

package caslib

import "github.com/nerrad567/scalesync/internal/scale"

// Library is unavailable on this platform. Every method returns
// ErrUnsupported.
type Library struct{}

// Ensure Library implements scale.Vendor.
var _ scale.Vendor = (*Library)(nil)

// Open always fails with ErrUnsupported on this platform.
func Open(Options) (*Library, error) {
	return nil, ErrUnsupported
}

// AddConnection implements scale.Vendor.
func (*Library) AddConnection(scale.ConnectionConfig, scale.Sink) error { return ErrUnsupported }

// Connect implements scale.Vendor.
func (*Library) Connect(string, int16) error { return ErrUnsupported }

// Disconnect implements scale.Vendor.
func (*Library) Disconnect(string, int16) error { return ErrUnsupported }

// SendData implements scale.Vendor.
func (*Library) SendData(string, int16, []byte) error { return ErrUnsupported }

// Close is a no-op.
func (*Library) Close() error { return nil }
