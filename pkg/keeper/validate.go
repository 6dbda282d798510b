// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package keeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Predicate decides whether a value may be stored or returned to callers.
// A nil error accepts the value.
type Predicate[T any] func(value T) error

// NotNil rejects nil pointers, maps, slices, interfaces, channels and funcs.
// It is the predicate used when a store is configured without one.
func NotNil[T any]() Predicate[T] {
	return func(value T) error {
		if isNil(any(value)) {
			return errors.New("value is nil")
		}
		return nil
	}
}

// Check builds a predicate from a boolean test.
func Check[T any](test func(T) bool, message string) Predicate[T] {
	return func(value T) error {
		if !test(value) {
			return errors.New(message)
		}
		return nil
	}
}

// All accepts a value only if every predicate accepts it. Nil predicates are skipped.
func All[T any](predicates ...Predicate[T]) Predicate[T] {
	return func(value T) error {
		for _, p := range predicates {
			if p == nil {
				continue
			}
			if err := p(value); err != nil {
				return err
			}
		}
		return nil
	}
}

// AnyOf accepts a value if at least one predicate accepts it.
func AnyOf[T any](predicates ...Predicate[T]) Predicate[T] {
	return func(value T) error {
		errs := make([]error, 0, len(predicates))
		for _, p := range predicates {
			if p == nil {
				continue
			}
			err := p(value)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil
		}
		return fmt.Errorf("no predicate accepted the value: %w", errors.Join(errs...))
	}
}

// NonEmpty rejects nil or empty slices. Empty collections are otherwise valid.
func NonEmpty[E any]() Predicate[[]E] {
	return func(value []E) error {
		if len(value) == 0 {
			return errors.New("collection is empty")
		}
		return nil
	}
}

// Each applies p to every element of a slice.
func Each[E any](p Predicate[E]) Predicate[[]E] {
	return func(value []E) error {
		if value == nil {
			return errors.New("collection is nil")
		}
		for i, item := range value {
			if err := p(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	}
}

// Parsed is the JSON-normalized generic form of a value: maps, slices, strings,
// float64, bools and nil. Structural predicates inspect it before a value is
// trusted as its domain type.
type Parsed struct {
	Value any
}

// Parse converts v into its Parsed form.
func Parse(v any) (Parsed, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Parsed{}, fmt.Errorf("failed to normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return Parsed{}, fmt.Errorf("failed to normalize value: %w", err)
	}
	return Parsed{Value: out}, nil
}

// ParsedPredicate adapts a check over the Parsed form into a Predicate.
func ParsedPredicate[T any](check func(Parsed) error) Predicate[T] {
	return func(value T) error {
		p, err := Parse(value)
		if err != nil {
			return err
		}
		return check(p)
	}
}

// ObjectsWithStringFields accepts arrays whose items are objects carrying every
// named field as a string.
func ObjectsWithStringFields[T any](fields ...string) Predicate[T] {
	return ParsedPredicate[T](func(p Parsed) error {
		items, ok := p.Value.([]any)
		if !ok {
			return fmt.Errorf("expected an array, got %T", p.Value)
		}
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("item %d: expected an object, got %T", i, item)
			}
			for _, f := range fields {
				if _, ok := obj[f].(string); !ok {
					return fmt.Errorf("item %d: field %q must be a string", i, f)
				}
			}
		}
		return nil
	})
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
