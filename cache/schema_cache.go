package cache

import (
	"bytes"
	"fmt"

	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/schema"
	"github.com/ipastusi/jsonlatch/state"
)

type Policy string

const (
	// PolicyFirst latches the first schema that compiles and keeps it for the
	// life of the cache. A differing schema is compiled for its call only.
	PolicyFirst Policy = "first"
	// PolicyLatest replaces the latched entry whenever a differing schema
	// compiles.
	PolicyLatest Policy = "latest"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFirst, PolicyLatest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cache policy: %v", s)
	}
}

// Entry is the latched schema. Source holds exactly the bytes Compiled was
// built from and aliases the memory block at Addr, which the cache owns.
type Entry struct {
	Source   []byte
	Addr     memory.Address
	Compiled schema.Compiled
}

type Resolution struct {
	Compiled schema.Compiled
	// Absorbed is set when the schema buffer became the latched source. The
	// caller must not release it.
	Absorbed bool
	// Cached is set when the latched schema was reused without compiling.
	Cached bool
	// Evicted is the entry replaced under PolicyLatest. The caller releases
	// its source block.
	Evicted *Entry
}

type Stats struct {
	Hits         uint64
	Bootstraps   uint64
	Transient    uint64
	Replacements uint64
}

// SchemaCache holds at most one compiled schema. It is not safe for
// concurrent use.
type SchemaCache struct {
	compiler *schema.Compiler
	policy   Policy
	entry    *Entry
	stats    Stats
}

func NewSchemaCache(compiler *schema.Compiler, policy Policy) *SchemaCache {
	return &SchemaCache{
		compiler: compiler,
		policy:   policy,
	}
}

// Resolve returns the compiled form of src, compiling only when src is not
// byte-for-byte the latched source.
func (c *SchemaCache) Resolve(addr memory.Address, src []byte) (Resolution, error) {
	if c.entry == nil {
		compiled, err := c.compiler.Compile(src)
		if err != nil {
			return Resolution{}, err
		}
		c.entry = &Entry{
			Source:   src,
			Addr:     addr,
			Compiled: compiled,
		}
		c.stats.Bootstraps++
		return Resolution{Compiled: compiled, Absorbed: true}, nil
	}

	if bytes.Equal(src, c.entry.Source) {
		c.stats.Hits++
		return Resolution{Compiled: c.entry.Compiled, Cached: true}, nil
	}

	compiled, err := c.compiler.Compile(src)
	if err != nil {
		return Resolution{}, err
	}
	if c.policy != PolicyLatest {
		c.stats.Transient++
		return Resolution{Compiled: compiled}, nil
	}

	evicted := c.entry
	c.entry = &Entry{
		Source:   src,
		Addr:     addr,
		Compiled: compiled,
	}
	c.stats.Replacements++
	return Resolution{Compiled: compiled, Absorbed: true, Evicted: evicted}, nil
}

func (c *SchemaCache) Entry() (Entry, bool) {
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

func (c *SchemaCache) Latched() bool {
	return c.entry != nil
}

func (c *SchemaCache) Policy() Policy {
	return c.policy
}

func (c *SchemaCache) Stats() Stats {
	return c.stats
}

func (c *SchemaCache) Compilations() uint64 {
	return c.compiler.Count()
}

func (c *SchemaCache) ToLatchState() state.LatchState {
	latchState := state.NewLatchState(c.compiler.Engine())
	if c.entry != nil {
		latchState.Schema = string(c.entry.Source)
	}
	latchState.Stats = state.Stats{
		Compilations: c.compiler.Count(),
		Hits:         c.stats.Hits,
		Transient:    c.stats.Transient,
		Replacements: c.stats.Replacements,
	}
	return latchState
}
