//go:build linux

package devio

import "golang.org/x/sys/unix"

// RawFDDevice adapts an already-provisioned /dev/net/tun file descriptor to
// Device using golang.org/x/sys/unix directly, for callers that hand the
// stack a raw fd instead of going through songgao/water. Provisioning that
// fd (opening the char device, the TUNSETIFF ioctl) is out of scope here;
// see spec.md §1.
type RawFDDevice struct {
	fd int
}

// NewRawFDDevice wraps an already-open, already-configured TAP fd.
func NewRawFDDevice(fd int) *RawFDDevice { return &RawFDDevice{fd: fd} }

func (d *RawFDDevice) Read(b []byte) (int, error) {
	n, err := unix.Read(d.fd, b)
	if err != nil {
		return n, err
	}
	return n, nil
}

func (d *RawFDDevice) Write(b []byte) (int, error) {
	return unix.Write(d.fd, b)
}

// Close closes the underlying file descriptor.
func (d *RawFDDevice) Close() error {
	return unix.Close(d.fd)
}
