// internal/report/json_reporter.go
package report

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter renders the batch result as one JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	pretty bool
}

// NewJSONReporter takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser, pretty bool) *JSONReporter {
	return &JSONReporter{writer: writer, pretty: pretty}
}

func (r *JSONReporter) Write(result *schemas.BatchResult) error {
	enc := json.NewEncoder(r.writer)
	if r.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding batch result: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
