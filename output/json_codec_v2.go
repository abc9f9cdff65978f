//go:build jsonv2

package output

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
	"io"
)

func jsonMarshal(value any) ([]byte, error) {
	return jsonv2.Marshal(value)
}

func encodeIndented(w io.Writer, value any) error {
	if err := jsonv2.MarshalWrite(w, value, jsontext.WithIndent("  ")); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
