package crypto

import "runtime"

// Wipe zeroes the provided buffer. This is best-effort: Go gives no guarantee
// that copies made by the runtime are cleared as well.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
