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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StructPredicate validates values with go-playground/validator struct tags.
// Slices, arrays and maps are validated element by element. A nil validate uses a fresh instance.
func StructPredicate[T any](validate *validator.Validate) Predicate[T] {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(value T) error {
		if isNil(any(value)) {
			return errors.New("value is nil")
		}
		rv := reflect.Indirect(reflect.ValueOf(value))
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if err := validateElem(validate, rv.Index(i)); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
			return nil
		case reflect.Map:
			iter := rv.MapRange()
			for iter.Next() {
				if err := validateElem(validate, iter.Value()); err != nil {
					return fmt.Errorf("entry %v: %w", iter.Key().Interface(), err)
				}
			}
			return nil
		case reflect.Struct:
			return validate.Struct(rv.Interface())
		default:
			return nil
		}
	}
}

func validateElem(validate *validator.Validate, v reflect.Value) error {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return errors.New("element is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(v.Interface())
}

// SchemaPredicate compiles a JSON schema and validates the Parsed form of each value against it.
func SchemaPredicate[T any](name, schema string) (Predicate[T], error) {
	if name == "" {
		name = "schema.json"
	}
	compiled, err := jsonschema.CompileString(name, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema %s: %v", ErrInvalidConfig, name, err)
	}
	return ParsedPredicate[T](func(p Parsed) error {
		if err := compiled.Validate(p.Value); err != nil {
			return fmt.Errorf("schema violation: %w", err)
		}
		return nil
	}), nil
}

// ExprPredicate compiles a boolean expr-lang expression. The value is exposed to the
// expression as "data" in its Parsed form, e.g. `len(data) > 0 && all(data, {.code != ""})`.
func ExprPredicate[T any](expression string) (Predicate[T], error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("%w: expression must not be empty", ErrInvalidConfig)
	}
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression: %v", ErrInvalidConfig, err)
	}
	return ParsedPredicate[T](func(p Parsed) error {
		return runExpr(program, expression, p)
	}), nil
}

func runExpr(program *vm.Program, expression string, p Parsed) error {
	out, err := expr.Run(program, map[string]any{"data": p.Value})
	if err != nil {
		return fmt.Errorf("evaluate %q: %w", expression, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("expression %q rejected the value", expression)
	}
	return nil
}
