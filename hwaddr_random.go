package tapstack

import "crypto/rand"

// RandomHwAddr generates a random, locally-administered, unicast hardware
// address, stable for the life of the process once assigned — the "randomly
// generated HwAddr at startup" spec.md §3 requires of the local device.
func RandomHwAddr() (HwAddr, error) {
	var a HwAddr
	if _, err := rand.Read(a[:]); err != nil {
		return HwAddr{}, err
	}
	// Clear the multicast bit and set the locally-administered bit so the
	// generated address can never collide with a real vendor-assigned one.
	a[0] = a[0]&0xfe | 0x02
	return a, nil
}
