package schema

import (
	"cmp"
	"slices"

	"github.com/kaptinlin/jsonschema"
)

type kaptinlinEngine struct{}

func (kaptinlinEngine) Name() string {
	return EngineKaptinlin
}

func (kaptinlinEngine) Compile(src []byte) (Compiled, error) {
	// a fresh compiler per schema, so nothing registered by one schema
	// leaks into the next
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	return kaptinlinSchema{schema: s}, nil
}

type kaptinlinSchema struct {
	schema *jsonschema.Schema
}

func (s kaptinlinSchema) Check(instance any) bool {
	return s.schema.Validate(instance).IsValid()
}

func (s kaptinlinSchema) Collect(instance any) (bool, []ErrorRecord) {
	result := s.schema.Validate(instance)
	if result.IsValid() {
		return true, nil
	}
	var records []ErrorRecord
	collectKaptinlin(result, nil, &records)
	return false, records
}

// collectKaptinlin walks the evaluation tree depth first. Each node's
// instance location is relative to its parent's. Errors and details come out
// of maps inside the engine, so both are sorted to keep the transcript stable.
func collectKaptinlin(result *jsonschema.EvaluationResult, parent []string, records *[]ErrorRecord) {
	if result == nil {
		return
	}

	path := joinPath(parent, result.InstanceLocation)

	keywords := make([]string, 0, len(result.Errors))
	for keyword := range result.Errors {
		keywords = append(keywords, keyword)
	}
	slices.Sort(keywords)
	for _, keyword := range keywords {
		*records = append(*records, ErrorRecord{
			Path:    path,
			Message: result.Errors[keyword].Error(),
		})
	}

	details := slices.Clone(result.Details)
	slices.SortStableFunc(details, func(a, b *jsonschema.EvaluationResult) int {
		return cmp.Or(
			cmp.Compare(a.InstanceLocation, b.InstanceLocation),
			cmp.Compare(a.EvaluationPath, b.EvaluationPath),
		)
	})
	for _, detail := range details {
		collectKaptinlin(detail, path, records)
	}
}
