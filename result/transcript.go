package result

import (
	"bytes"
	"strings"

	"github.com/ipastusi/jsonlatch/schema"
)

// Render writes one line per record: the path segments joined with dots, a
// colon and the message. A root record starts with the separator.
func Render(records []schema.ErrorRecord) []byte {
	var buf bytes.Buffer
	for _, record := range records {
		buf.WriteString(strings.Join(record.Path, "."))
		buf.WriteString(": ")
		buf.WriteString(record.Message)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
