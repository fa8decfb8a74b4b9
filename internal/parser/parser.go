package parser

import (
	"errors"

	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

var (
	// ErrEmptyLine is returned for lines holding nothing but whitespace
	ErrEmptyLine = errors.New("empty log line")

	// ErrNotObject is returned when a line decodes to something other than a JSON object
	ErrNotObject = errors.New("record is not a JSON object")
)

// Parser decodes a raw log line into a Record
type Parser interface {
	// Parse decodes a single line. The line must hold exactly one JSON document.
	Parse(line string) (types.Record, error)

	// Name returns the parser name
	Name() string
}

// Reason classifies a parse error for metrics and logs
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyLine):
		return "empty"
	case errors.Is(err, ErrNotObject):
		return "not_object"
	default:
		return "invalid_json"
	}
}
