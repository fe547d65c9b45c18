package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(api.Document{})
	gob.Register(time.Time{})
}

// EncodeValue serializes a value using encoding/gob. Values must be
// gob-encodable; documents and the types registered above always are.
func EncodeValue[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue is the inverse of EncodeValue. Empty input decodes to
// the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
