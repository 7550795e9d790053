package schema

import (
	"github.com/qri-io/jsonpointer"
)

// instancePath turns a JSON pointer, in plain or URI fragment form, into
// path segments. Unparseable pointers are reported against the root.
func instancePath(pointer string) []string {
	parsed, err := jsonpointer.Parse(pointer)
	if err != nil || len(parsed) == 0 {
		return nil
	}
	return []string(parsed)
}

// joinPath appends the segments of a pointer relative to parent.
func joinPath(parent []string, pointer string) []string {
	child := instancePath(pointer)
	if len(child) == 0 {
		return parent
	}
	joined := make([]string, 0, len(parent)+len(child))
	joined = append(joined, parent...)
	return append(joined, child...)
}
