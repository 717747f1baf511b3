// Package devio adapts a provisioned TAP character device to the Device
// interface netstack consumes: blocking Read/Write of whole Ethernet
// frames, per spec.md §6. Provisioning the device itself — opening
// /dev/net/tun, the TUNSETIFF ioctl, bringing the link up, assigning a
// route — is explicitly out of scope (spec.md §1); this package only
// wraps an already-open handle.
package devio

import "io"

// Device is the minimal blocking read/write contract netstack needs from a
// TAP file descriptor. A negative/error return from Read is fatal to the
// stack, per spec.md §6.
type Device interface {
	io.Reader
	io.Writer
}
