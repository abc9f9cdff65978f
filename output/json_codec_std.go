//go:build !jsonv2

package output

import (
	"encoding/json"
	"io"
)

func jsonMarshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

// encodeIndented writes value with two-space indentation and a trailing
// newline. Paths are written verbatim, without HTML escaping.
func encodeIndented(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
