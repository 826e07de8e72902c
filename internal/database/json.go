package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonColumn wraps a value which is stored as JSON(B) in the database.
type JsonColumn[T any] struct {
	val T
}

func NewJsonColumn[T any](val T) JsonColumn[T] { return JsonColumn[T]{val: val} }

func (j *JsonColumn[T]) Get() T { return j.val }

func (j *JsonColumn[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		var zero T
		j.val = zero
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	return json.Unmarshal(raw, &j.val)
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	return json.Marshal(j.val)
}
