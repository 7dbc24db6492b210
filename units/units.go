/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package units converts FHIR Quantity values to canonical units.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched (via errors.Is) by every error returned from the conversion functions.
var ErrValidation = errors.New("invalid quantity")

// Quantity is a value with a unit code, as found in FHIR Quantity data types.
type Quantity struct {
	Code  string
	Value interface{}
}

// QuantityFromMap reads the "code" and "value" fields of a JSON-decoded FHIR Quantity.
func QuantityFromMap(m map[string]interface{}) Quantity {
	code, _ := m["code"].(string)
	return Quantity{Code: code, Value: m["value"]}
}

// NonNumericalValueError is returned when the quantity value is not a number.
type NonNumericalValueError struct {
	Quantity Quantity
}

func (e *NonNumericalValueError) Error() string {
	return fmt.Sprintf("found a non-numerical unit: %v %s", e.Quantity.Value, e.Quantity.Code)
}

func (e *NonNumericalValueError) Is(target error) bool {
	return target == ErrValidation
}

// UnrecognizedUnitError is returned when the unit code cannot be mapped to the canonical unit.
type UnrecognizedUnitError struct {
	Code string
}

func (e *UnrecognizedUnitError) Error() string {
	return fmt.Sprintf("unrecognized length or weight unit: %q", e.Code)
}

func (e *UnrecognizedUnitError) Is(target error) bool {
	return target == ErrValidation
}

// CM converts a length to centimeters.
func CM(q Quantity) (float64, error) {
	value, err := numericValue(q)
	if err != nil {
		return 0, err
	}
	switch q.Code {
	case "cm":
		return value, nil
	case "m":
		return value * 100, nil
	case "in", "[in_us]", "[in_i]":
		return value * 2.54, nil
	case "ft", "[ft_us]":
		return value * 30.48, nil
	}
	return 0, &UnrecognizedUnitError{Code: q.Code}
}

// KG converts a weight to kilograms. Any code containing "lb" is treated as pounds
// and any code containing "oz" as ounces.
func KG(q Quantity) (float64, error) {
	value, err := numericValue(q)
	if err != nil {
		return 0, err
	}
	switch {
	case q.Code == "kg":
		return value, nil
	case q.Code == "g":
		return value / 1000, nil
	case strings.Contains(q.Code, "lb"):
		return value / 2.20462, nil
	case strings.Contains(q.Code, "oz"):
		return value / 35.274, nil
	}
	return 0, &UnrecognizedUnitError{Code: q.Code}
}

// Any returns the numeric value as is, whatever the unit.
func Any(q Quantity) (float64, error) {
	return numericValue(q)
}

func numericValue(q Quantity) (float64, error) {
	switch v := q.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return 0, &NonNumericalValueError{Quantity: q}
}
