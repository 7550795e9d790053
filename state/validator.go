package state

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ipastusi/jsonlatch/schema"
)

//go:embed schema.json
var rawSchema []byte

func ValidateState(stateBytes []byte) []error {
	engine, err := schema.NewEngine(schema.EngineKaptinlin)
	if err != nil {
		return []error{err}
	}
	compiled, err := schema.NewCompiler(engine).Compile(rawSchema)
	if err != nil {
		return []error{err}
	}

	var instance any
	if err = json.Unmarshal(stateBytes, &instance); err != nil {
		return []error{err}
	}

	_, records := compiled.Collect(instance)
	var errors []error
	for _, record := range records {
		errors = append(errors, fmt.Errorf("%v: %v", strings.Join(record.Path, "."), record.Message))
	}
	return errors
}
