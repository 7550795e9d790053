package memory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// Address locates a block in module memory. Zero is the null address and is
// never handed out.
type Address uint32

const MaxAlign = 16

var (
	// ErrOutOfMemory is fatal: callers propagate it unchanged and boundary
	// entry points terminate instead of reporting a result.
	ErrOutOfMemory = errors.New("out of memory")
	ErrNotOwned    = errors.New("address not owned by caller")
	ErrBadAlign    = errors.New("alignment must be a power of two no larger than 16")
)

type Owner int

const (
	OwnerHost Owner = iota + 1
	OwnerCache
	OwnerResult
)

func (o Owner) String() string {
	switch o {
	case OwnerHost:
		return "host"
	case OwnerCache:
		return "cache"
	case OwnerResult:
		return "result"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

type placer interface {
	place(size uint32, align uint32) (Address, []byte, error)
	free(addr Address)
}

type block struct {
	buf   []byte
	size  uint32
	align uint32
	owner Owner
}

type Block struct {
	Addr  Address
	Size  uint32
	Align uint32
	Owner Owner
}

type Stats struct {
	Blocks int
	Bytes  uint64
	Limit  uint64
}

// Heap hands out blocks of module memory and tracks who owns each of them.
// A Heap is not safe for concurrent use.
type Heap struct {
	limit  uint64
	inUse  uint64
	blocks map[Address]*block
	place  placer
}

// NewHeap returns a heap holding at most limit bytes of live blocks. A zero
// limit means unlimited.
func NewHeap(limit uint64) *Heap {
	return &Heap{
		limit:  limit,
		blocks: map[Address]*block{},
		place:  newPlacer(),
	}
}

func (h *Heap) Allocate(size uint32, align uint32, owner Owner) (Address, error) {
	if !validAlign(align) {
		return 0, fmt.Errorf("allocate %v bytes aligned to %v: %w", size, align, ErrBadAlign)
	}
	if h.limit > 0 && h.inUse+uint64(size) > h.limit {
		return 0, fmt.Errorf("allocate %v bytes with %v of %v in use: %w", size, h.inUse, h.limit, ErrOutOfMemory)
	}

	addr, buf, err := h.place.place(size, align)
	if err != nil {
		return 0, err
	}
	h.blocks[addr] = &block{
		buf:   buf,
		size:  size,
		align: align,
		owner: owner,
	}
	h.inUse += uint64(size)
	return addr, nil
}

func (h *Heap) Release(addr Address, size uint32, align uint32, owner Owner) error {
	b, err := h.lookup(addr, owner)
	if err != nil {
		return err
	}
	if b.size != size || b.align != align {
		return fmt.Errorf("release %#x: size %v align %v does not match block size %v align %v: %w",
			uint32(addr), size, align, b.size, b.align, ErrNotOwned)
	}

	delete(h.blocks, addr)
	h.place.free(addr)
	h.inUse -= uint64(b.size)
	return nil
}

// Reallocate moves the contents of addr into a block of newSize bytes. A null
// addr behaves like Allocate.
func (h *Heap) Reallocate(addr Address, oldSize uint32, align uint32, newSize uint32, owner Owner) (Address, error) {
	if addr == 0 {
		return h.Allocate(newSize, align, owner)
	}
	old, err := h.lookup(addr, owner)
	if err != nil {
		return 0, err
	}
	if old.size != oldSize {
		return 0, fmt.Errorf("reallocate %#x: size %v does not match block size %v: %w", uint32(addr), oldSize, old.size, ErrNotOwned)
	}

	moved, err := h.Allocate(newSize, align, owner)
	if err != nil {
		return 0, err
	}
	copy(h.blocks[moved].buf, old.buf)
	if err = h.Release(addr, old.size, old.align, owner); err != nil {
		return 0, err
	}
	return moved, nil
}

// Transfer hands a live block from one owner to another without touching
// its contents.
func (h *Heap) Transfer(addr Address, from Owner, to Owner) error {
	b, err := h.lookup(addr, from)
	if err != nil {
		return err
	}
	b.owner = to
	return nil
}

// Bytes returns the first n bytes of the block at addr. The slice aliases
// module memory and is only valid while the block is live.
func (h *Heap) Bytes(addr Address, n uint32) ([]byte, error) {
	b, ok := h.blocks[addr]
	if !ok {
		return nil, fmt.Errorf("read %#x: %w", uint32(addr), ErrNotOwned)
	}
	if n > b.size {
		return nil, fmt.Errorf("read %v bytes from %#x holding %v", n, uint32(addr), b.size)
	}
	return b.buf[:n:n], nil
}

func (h *Heap) Write(addr Address, data []byte) error {
	b, ok := h.blocks[addr]
	if !ok {
		return fmt.Errorf("write %#x: %w", uint32(addr), ErrNotOwned)
	}
	if uint64(len(data)) > uint64(b.size) {
		return fmt.Errorf("write %v bytes to %#x holding %v", len(data), uint32(addr), b.size)
	}
	copy(b.buf, data)
	return nil
}

func (h *Heap) Owner(addr Address) (Owner, bool) {
	b, ok := h.Block(addr)
	return b.Owner, ok
}

func (h *Heap) Block(addr Address) (Block, bool) {
	b, ok := h.blocks[addr]
	if !ok {
		return Block{}, false
	}
	return Block{
		Addr:  addr,
		Size:  b.size,
		Align: b.align,
		Owner: b.owner,
	}, true
}

func (h *Heap) Live() []Block {
	live := make([]Block, 0, len(h.blocks))
	for addr, b := range h.blocks {
		live = append(live, Block{
			Addr:  addr,
			Size:  b.size,
			Align: b.align,
			Owner: b.owner,
		})
	}
	slices.SortFunc(live, func(a, b Block) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	return live
}

func (h *Heap) Stats() Stats {
	return Stats{
		Blocks: len(h.blocks),
		Bytes:  h.inUse,
		Limit:  h.limit,
	}
}

func (h *Heap) lookup(addr Address, owner Owner) (*block, error) {
	b, ok := h.blocks[addr]
	if !ok {
		return nil, fmt.Errorf("%#x is not a live block: %w", uint32(addr), ErrNotOwned)
	}
	if b.owner != owner {
		return nil, fmt.Errorf("%#x is owned by %v, not %v: %w", uint32(addr), b.owner, owner, ErrNotOwned)
	}
	return b, nil
}

func validAlign(align uint32) bool {
	return align != 0 && align <= MaxAlign && align&(align-1) == 0
}
