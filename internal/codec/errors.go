package codec

import (
	"fmt"

	"github.com/rickgao/feedstream/internal/model"
)

// DecodeError describes one malformed record or message.
type DecodeError struct {
	Key   model.FeedKey // Empty when the key itself could not be read
	Field string        // Offending field, or "" for envelope errors
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Key != "" && e.Field != "":
		return fmt.Sprintf("decode %s.%s: %v", e.Key, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
	case e.Key != "":
		return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("decode: %v", e.Err)
	}
}

// Unwrap exposes both the kind (model.ErrDecode) and the cause.
func (e *DecodeError) Unwrap() []error {
	return []error{model.ErrDecode, e.Err}
}

func decodeErr(key model.FeedKey, field string, err error) *DecodeError {
	return &DecodeError{Key: key, Field: field, Err: err}
}
