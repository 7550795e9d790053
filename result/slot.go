package result

import (
	"encoding/binary"
	"fmt"

	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/validation"
)

// RecordSize is the size of the result record as laid out for a 32-bit host:
// a success byte padded to four, then the errors address and length.
const RecordSize = 12

const recordAlign = 4

type Record struct {
	OK         bool
	ErrorsAddr memory.Address
	ErrorsLen  uint32
}

func (r Record) Encode() []byte {
	b := make([]byte, RecordSize)
	if r.OK {
		b[0] = 1
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.ErrorsAddr))
	binary.LittleEndian.PutUint32(b[8:12], r.ErrorsLen)
	return b
}

func DecodeRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("result record needs %v bytes, got %v", RecordSize, len(b))
	}
	return Record{
		OK:         b[0] != 0,
		ErrorsAddr: memory.Address(binary.LittleEndian.Uint32(b[4:8])),
		ErrorsLen:  binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// Slot is the single result record handed back across the boundary. Each
// Store overwrites the record and frees the transcript of the previous call,
// so a host must copy what it needs before calling again.
type Slot struct {
	heap      *memory.Heap
	addr      memory.Address
	errors    memory.Address
	errorsLen uint32
}

func NewSlot(heap *memory.Heap) *Slot {
	return &Slot{heap: heap}
}

func (s *Slot) Store(outcome validation.Outcome) (memory.Address, error) {
	if s.addr == 0 {
		addr, err := s.heap.Allocate(RecordSize, recordAlign, memory.OwnerResult)
		if err != nil {
			return 0, err
		}
		s.addr = addr
	}

	if s.errors != 0 {
		if err := s.heap.Release(s.errors, s.errorsLen, 1, memory.OwnerResult); err != nil {
			return 0, err
		}
		s.errors, s.errorsLen = 0, 0
	}

	record := Record{OK: outcome.OK()}
	if !record.OK {
		transcript := Render(outcome.Errors)
		addr, err := s.heap.Allocate(uint32(len(transcript)), 1, memory.OwnerResult)
		if err != nil {
			return 0, err
		}
		if err = s.heap.Write(addr, transcript); err != nil {
			return 0, err
		}
		s.errors, s.errorsLen = addr, uint32(len(transcript))
		record.ErrorsAddr, record.ErrorsLen = addr, s.errorsLen
	}

	if err := s.heap.Write(s.addr, record.Encode()); err != nil {
		return 0, err
	}
	return s.addr, nil
}

// Load reads the record at addr along with its transcript. The transcript is
// a copy and stays valid after the next Store.
func Load(heap *memory.Heap, addr memory.Address) (Record, []byte, error) {
	raw, err := heap.Bytes(addr, RecordSize)
	if err != nil {
		return Record{}, nil, err
	}
	record, err := DecodeRecord(raw)
	if err != nil {
		return Record{}, nil, err
	}
	if record.ErrorsAddr == 0 {
		return record, nil, nil
	}

	transcript, err := heap.Bytes(record.ErrorsAddr, record.ErrorsLen)
	if err != nil {
		return Record{}, nil, err
	}
	return record, append([]byte(nil), transcript...), nil
}

func (s *Slot) Addr() memory.Address {
	return s.addr
}
