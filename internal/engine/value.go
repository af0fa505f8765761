package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the dynamic type held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindNumber
	KindText
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	default:
		return "none"
	}
}

// Value is a field value: a number, a text or a boolean. The zero Value holds
// nothing.
type Value struct {
	kind Kind
	num  float64
	text string
	flag bool
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Text(s string) Value    { return Value{kind: KindText, text: s} }
func Bool(b bool) Value      { return Value{kind: KindBool, flag: b} }

func (v Value) Kind() Kind { return v.kind }

// Float converts the value to a number. Text that does not parse and the zero
// Value yield 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.flag {
			return 1
		}
		return 0
	case KindText:
		n, err := strconv.ParseFloat(v.text, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// MaxInt bounds Int: the largest integer a float64 holds exactly.
const MaxInt = 1 << 53

// Int rounds Float to the nearest integer, clamped to [-MaxInt, MaxInt].
// NaN is 0.
func (v Value) Int() int {
	f := math.Round(v.Float())
	switch {
	case math.IsNaN(f):
		return 0
	case f > MaxInt:
		return MaxInt
	case f < -MaxInt:
		return -MaxInt
	}
	return int(f)
}

// Bool reports the truthiness of the value.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.flag
	case KindNumber:
		return v.num != 0
	case KindText:
		b, err := strconv.ParseBool(v.text)
		return err == nil && b
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		return ""
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindText:
		return v.text == o.text
	case KindBool:
		return v.flag == o.flag
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("marshal value: non-finite number %v", v.num)
		}
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.flag)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}

	switch x := raw.(type) {
	case float64:
		*v = Number(x)
	case string:
		*v = Text(x)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("unmarshal value: unsupported json %s", data)
	}
	return nil
}
