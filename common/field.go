package common

import "encoding/json"

// Field is a request field that distinguishes omitted from explicit
// null from a concrete value. Set reports whether the field appeared
// in the request at all; Valid reports whether it carried a non-null
// value. Update precedence rules depend on this three-way split.
type Field[T any] struct {
	Set   bool
	Valid bool
	Value T
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if string(data) == "null" {
		f.Valid = false
		var zero T
		f.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &f.Value); err != nil {
		return err
	}
	f.Valid = true
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

func SetField[T any](v T) Field[T] {
	return Field[T]{Set: true, Valid: true, Value: v}
}

func NullField[T any]() Field[T] {
	return Field[T]{Set: true}
}
