package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipastusi/jsonlatch/cache"
	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/result"
	"github.com/ipastusi/jsonlatch/schema"
	"github.com/ipastusi/jsonlatch/state"
	"github.com/ipastusi/jsonlatch/validation"
)

// Service is the validation boundary. The host places document and schema
// bytes in blocks obtained from Allocate and hands their addresses to Validate
// or ValidateWithErrors, which consume both blocks: each is released before
// the call returns, or kept as the latched schema source.
//
// A Service holds one latched schema and one result record. It is not safe
// for concurrent use, and calls must not overlap.
type Service struct {
	logHandler slog.Handler
	heap       *memory.Heap
	cache      *cache.SchemaCache
	executor   validation.Executor
	slot       *result.Slot
}

type Stats struct {
	Cache        cache.Stats
	Compilations uint64
	Latched      bool
	Memory       memory.Stats
}

func NewService(logHandler slog.Handler, heap *memory.Heap, compiler *schema.Compiler, policy cache.Policy) *Service {
	return &Service{
		logHandler: logHandler,
		heap:       heap,
		cache:      cache.NewSchemaCache(compiler, policy),
		executor:   validation.NewExecutor(logHandler),
		slot:       result.NewSlot(heap),
	}
}

func (s *Service) Allocate(size uint32) (memory.Address, error) {
	return s.heap.Allocate(size, 1, memory.OwnerHost)
}

func (s *Service) Release(addr memory.Address, size uint32) error {
	return s.heap.Release(addr, size, 1, memory.OwnerHost)
}

func (s *Service) Reallocate(addr memory.Address, oldSize uint32, newSize uint32) (memory.Address, error) {
	return s.heap.Reallocate(addr, oldSize, 1, newSize, memory.OwnerHost)
}

// Validate reports whether the document satisfies the schema. It leaves the
// result record untouched.
func (s *Service) Validate(docAddr memory.Address, docLen uint32, schemaAddr memory.Address, schemaLen uint32) (bool, error) {
	outcome, err := s.run(docAddr, docLen, schemaAddr, schemaLen, false)
	if err != nil {
		return false, err
	}
	return outcome.OK(), nil
}

// ValidateWithErrors validates like Validate and returns the address of the
// result record. The record and the transcript it points to are overwritten
// by the next call.
func (s *Service) ValidateWithErrors(docAddr memory.Address, docLen uint32, schemaAddr memory.Address, schemaLen uint32) (memory.Address, error) {
	outcome, err := s.run(docAddr, docLen, schemaAddr, schemaLen, true)
	if err != nil {
		return 0, err
	}
	return s.slot.Store(outcome)
}

// Warm latches src ahead of the first document, as if a call had supplied it.
func (s *Service) Warm(src []byte) error {
	addr, err := s.Allocate(uint32(len(src)))
	if err != nil {
		return err
	}
	if err = s.heap.Write(addr, src); err != nil {
		return err
	}
	block, err := s.heap.Bytes(addr, uint32(len(src)))
	if err != nil {
		return err
	}

	resolution, resolveErr := s.cache.Resolve(addr, block)
	if err = s.reclaim(addr, resolution); err != nil {
		return err
	}
	return resolveErr
}

func (s *Service) Stats() Stats {
	return Stats{
		Cache:        s.cache.Stats(),
		Compilations: s.cache.Compilations(),
		Latched:      s.cache.Latched(),
		Memory:       s.heap.Stats(),
	}
}

func (s *Service) LatchState() state.LatchState {
	return s.cache.ToLatchState()
}

func (s *Service) run(docAddr memory.Address, docLen uint32, schemaAddr memory.Address, schemaLen uint32, collect bool) (validation.Outcome, error) {
	if docAddr == schemaAddr && docAddr != 0 {
		return validation.Outcome{}, fmt.Errorf("document and schema share block %#x: %w", uint32(docAddr), memory.ErrNotOwned)
	}
	document, err := s.input(docAddr, docLen)
	if err != nil {
		return validation.Outcome{}, err
	}
	src, err := s.input(schemaAddr, schemaLen)
	if err != nil {
		return validation.Outcome{}, err
	}

	var outcome validation.Outcome
	resolution, err := s.cache.Resolve(schemaAddr, src)
	if err != nil {
		outcome = s.executor.Failed(err, collect)
	} else {
		outcome = s.executor.Run(document, resolution.Compiled, collect)
	}
	s.logResolution(resolution, err)

	if err = s.releaseInput(docAddr); err != nil {
		return validation.Outcome{}, err
	}
	if err = s.reclaim(schemaAddr, resolution); err != nil {
		return validation.Outcome{}, err
	}
	return outcome, nil
}

// input returns the first n bytes of a block the host owns.
func (s *Service) input(addr memory.Address, n uint32) ([]byte, error) {
	if owner, ok := s.heap.Owner(addr); !ok || owner != memory.OwnerHost {
		return nil, fmt.Errorf("input %#x is not a host block: %w", uint32(addr), memory.ErrNotOwned)
	}
	return s.heap.Bytes(addr, n)
}

func (s *Service) releaseInput(addr memory.Address) error {
	block, ok := s.heap.Block(addr)
	if !ok {
		return fmt.Errorf("input %#x already released: %w", uint32(addr), memory.ErrNotOwned)
	}
	return s.heap.Release(addr, block.Size, block.Align, memory.OwnerHost)
}

// reclaim settles the schema block after resolution: the cache keeps it when
// absorbed, otherwise it is released. A source the cache let go of goes too.
func (s *Service) reclaim(schemaAddr memory.Address, resolution cache.Resolution) error {
	if !resolution.Absorbed {
		return s.releaseInput(schemaAddr)
	}
	if err := s.heap.Transfer(schemaAddr, memory.OwnerHost, memory.OwnerCache); err != nil {
		return err
	}

	if resolution.Evicted == nil {
		return nil
	}
	evicted, ok := s.heap.Block(resolution.Evicted.Addr)
	if !ok {
		return fmt.Errorf("evicted schema %#x is not live: %w", uint32(resolution.Evicted.Addr), memory.ErrNotOwned)
	}
	return s.heap.Release(evicted.Addr, evicted.Size, evicted.Align, memory.OwnerCache)
}

func (s *Service) logResolution(resolution cache.Resolution, err error) {
	if s.logHandler == nil || !s.logHandler.Enabled(nil, slog.LevelDebug) {
		return
	}

	var r slog.Record
	switch {
	case err != nil:
		r = slog.NewRecord(time.Now(), slog.LevelDebug, "schema rejected", 0)
		r.AddAttrs(
			slog.String("error", err.Error()),
			slog.Bool("malformed", errors.Is(err, schema.ErrMalformedSchema)),
		)
	case resolution.Cached:
		r = slog.NewRecord(time.Now(), slog.LevelDebug, "latched schema reused", 0)
	case resolution.Evicted != nil:
		r = slog.NewRecord(time.Now(), slog.LevelDebug, "latched schema replaced", 0)
		r.AddAttrs(slog.Int("evictedBytes", len(resolution.Evicted.Source)))
	case resolution.Absorbed:
		r = slog.NewRecord(time.Now(), slog.LevelDebug, "schema latched", 0)
	default:
		r = slog.NewRecord(time.Now(), slog.LevelDebug, "schema compiled for one call", 0)
	}
	r.AddAttrs(slog.Uint64("compilations", s.cache.Compilations()))
	_ = s.logHandler.Handle(nil, r)
}
