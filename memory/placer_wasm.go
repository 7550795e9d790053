//go:build wasm

package memory

import (
	"unsafe"
)

// On wasm the address is the block's position in linear memory, so the host
// can write input bytes straight into it. The heap map keeps every block
// reachable, which pins it for the garbage collector.
type pinnedPlacer struct{}

func newPlacer() placer {
	return pinnedPlacer{}
}

func (pinnedPlacer) place(size uint32, align uint32) (Address, []byte, error) {
	raw := make([]byte, uint64(size)+uint64(align))
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := (uintptr(align) - base%uintptr(align)) % uintptr(align)
	end := offset + uintptr(size)
	return Address(base + offset), raw[offset:end:end], nil
}

func (pinnedPlacer) free(Address) {}
