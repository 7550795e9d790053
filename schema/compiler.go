package schema

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrMalformedSchema = errors.New("malformed schema")
	ErrInvalidSchema   = errors.New("invalid schema")
	ErrUnknownEngine   = errors.New("unknown schema engine")
)

// ErrorRecord is one violation found in a document. Path locates the
// offending value, the root being an empty path.
type ErrorRecord struct {
	Path    []string
	Message string
}

// Compiled is a schema ready for repeated validation. Implementations are
// immutable once built. Collect returns the same verdict as Check, and the
// records it returns are in the same order for the same instance.
type Compiled interface {
	Check(instance any) bool
	Collect(instance any) (bool, []ErrorRecord)
}

type Engine interface {
	Name() string
	Compile(src []byte) (Compiled, error)
}

const (
	EngineKaptinlin = "kaptinlin"
	EngineSanthosh  = "santhosh"
)

func Engines() []string {
	return []string{EngineKaptinlin, EngineSanthosh}
}

func NewEngine(name string) (Engine, error) {
	switch name {
	case EngineKaptinlin:
		return kaptinlinEngine{}, nil
	case EngineSanthosh:
		return santhoshEngine{}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownEngine, name)
	}
}

// Compiler turns raw schema bytes into a Compiled schema and counts how many
// times it was asked to.
type Compiler struct {
	engine Engine
	count  uint64
}

func NewCompiler(engine Engine) *Compiler {
	return &Compiler{
		engine: engine,
	}
}

func (c *Compiler) Compile(src []byte) (Compiled, error) {
	c.count++

	// the caller's buffer may be released as soon as this returns
	owned := bytes.Clone(src)

	var parsed any
	if err := json.Unmarshal(owned, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSchema, err)
	}

	compiled, err := c.engine.Compile(owned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return compiled, nil
}

func (c *Compiler) Count() uint64 {
	return c.count
}

func (c *Compiler) Engine() string {
	return c.engine.Name()
}
