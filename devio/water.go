package devio

import "github.com/songgao/water"

// WaterDevice adapts a *water.Interface (the TAP handle songgao/water hands
// back once it has provisioned the device) to Device. It is the adapter
// used by cmd/tapstackd, matching the teacher's (soypat/dgrams) choice of
// songgao/water as its TAP library.
type WaterDevice struct {
	iface *water.Interface
}

// NewWaterDevice wraps an already-provisioned water.Interface.
func NewWaterDevice(iface *water.Interface) *WaterDevice {
	return &WaterDevice{iface: iface}
}

func (d *WaterDevice) Read(b []byte) (int, error)  { return d.iface.Read(b) }
func (d *WaterDevice) Write(b []byte) (int, error) { return d.iface.Write(b) }

// Close releases the underlying interface.
func (d *WaterDevice) Close() error { return d.iface.Close() }
