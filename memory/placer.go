//go:build !wasm

package memory

import (
	"fmt"
	"math"
)

// Outside of wasm there is no linear memory the host could write through, so
// addresses are recycled handles spaced MaxAlign apart, which satisfies every
// valid alignment.
const slotBase = 0x1000

const maxSlots = (math.MaxUint32 - slotBase) / MaxAlign

type slotPlacer struct {
	next     uint32
	released []Address
}

func newPlacer() placer {
	return &slotPlacer{}
}

func (p *slotPlacer) place(size uint32, _ uint32) (Address, []byte, error) {
	var addr Address
	if n := len(p.released); n > 0 {
		addr = p.released[n-1]
		p.released = p.released[:n-1]
	} else {
		if p.next >= maxSlots {
			return 0, nil, fmt.Errorf("no free addresses left: %w", ErrOutOfMemory)
		}
		addr = Address(slotBase + p.next*MaxAlign)
		p.next++
	}
	return addr, make([]byte, size), nil
}

func (p *slotPlacer) free(addr Address) {
	p.released = append(p.released, addr)
}
