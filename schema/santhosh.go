package schema

import (
	"bytes"
	"cmp"
	"errors"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const santhoshResource = "schema.json"

type santhoshEngine struct{}

func (santhoshEngine) Name() string {
	return EngineSanthosh
}

func (santhoshEngine) Compile(src []byte) (Compiled, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(santhoshResource, bytes.NewReader(src)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(santhoshResource)
	if err != nil {
		return nil, err
	}
	return santhoshSchema{schema: s}, nil
}

type santhoshSchema struct {
	schema *jsonschema.Schema
}

func (s santhoshSchema) Check(instance any) bool {
	return s.schema.Validate(instance) == nil
}

func (s santhoshSchema) Collect(instance any) (bool, []ErrorRecord) {
	err := s.schema.Validate(instance)
	if err == nil {
		return true, nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		// infinite loops and non-JSON values are reported against the root
		return false, []ErrorRecord{{Message: err.Error()}}
	}

	var records []ErrorRecord
	collectSanthosh(validationErr, &records)
	return false, records
}

// only leaves carry the violated constraint, inner nodes just say which
// subschema failed. Causes are sorted since the engine gathers some of them
// from maps.
func collectSanthosh(validationErr *jsonschema.ValidationError, records *[]ErrorRecord) {
	if len(validationErr.Causes) == 0 {
		// instance locations are URI-escaped pointers, parsed in fragment form
		*records = append(*records, ErrorRecord{
			Path:    instancePath("#" + validationErr.InstanceLocation),
			Message: validationErr.Message,
		})
		return
	}

	causes := slices.Clone(validationErr.Causes)
	slices.SortStableFunc(causes, func(a, b *jsonschema.ValidationError) int {
		return cmp.Or(
			cmp.Compare(a.InstanceLocation, b.InstanceLocation),
			cmp.Compare(a.KeywordLocation, b.KeywordLocation),
		)
	})
	for _, cause := range causes {
		collectSanthosh(cause, records)
	}
}
