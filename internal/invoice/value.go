package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind describes how a field arrived in the extracted JSON
type Kind int

const (
	KindAbsent Kind = iota // missing key or JSON null
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
	KindOutOfRange // a number too long or too large to be an amount
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindOutOfRange:
		return "out of range number"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// kindOf classifies a raw JSON value by its first byte
func kindOf(raw []byte) Kind {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return KindAbsent
	}
	switch raw[0] {
	case 'n':
		return KindAbsent
	case '"':
		return KindString
	case 't', 'f':
		return KindBool
	case '{':
		return KindObject
	case '[':
		return KindArray
	}
	return KindNumber
}

// Number literals beyond these limits are never amounts and are kept out of
// decimal arithmetic, whose cost grows with the exponent.
const (
	maxLiteralLen = 64
	maxExponent   = 20
	maxDigits     = 30
)

// Value is a single scalar field of an extracted record. Whatever kind the
// extractor produced is kept, so a record can say "present but wrong type"
// as well as "absent".
type Value struct {
	Kind Kind
	Str  string
	Num  decimal.Decimal
	// Lit is the number exactly as written in the JSON
	Lit string
	// Integral is set for number literals without a fraction or exponent
	Integral bool
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(raw []byte) error {
	*v = Value{Kind: kindOf(raw)}
	switch v.Kind {
	case KindString:
		if err := json.Unmarshal(raw, &v.Str); err != nil {
			return fmt.Errorf("decoding string: %w", err)
		}
	case KindNumber:
		lit := string(bytes.TrimSpace(raw))
		if len(lit) > maxLiteralLen {
			v.Kind = KindOutOfRange
			return nil
		}
		num, err := decimal.NewFromString(lit)
		if err != nil {
			// the JSON decoder has already checked the syntax, so only an
			// exponent beyond int32 ends up here
			v.Kind = KindOutOfRange
			return nil
		}
		if exp := num.Exponent(); exp > maxExponent || exp < -maxExponent || num.NumDigits() > maxDigits {
			v.Kind = KindOutOfRange
			return nil
		}
		v.Num = num
		v.Lit = lit
		v.Integral = !strings.ContainsAny(lit, ".eE")
	}
	return nil
}

// Present reports whether the field was given a non-null value
func (v Value) Present() bool {
	return v.Kind != KindAbsent
}

// Empty reports whether the field is absent or a blank string
func (v Value) Empty() bool {
	return v.Kind == KindAbsent || v.Blank()
}

// Blank reports whether the field is a string holding only whitespace
func (v Value) Blank() bool {
	return v.Kind == KindString && strings.TrimSpace(v.Str) == ""
}

func (v Value) IsNumber() bool {
	return v.Kind == KindNumber
}

func (v Value) IsInteger() bool {
	return v.Kind == KindNumber && v.Integral
}

// amount returns the numeric value, treating anything else as zero
func (v Value) amount() decimal.Decimal {
	if v.Kind != KindNumber {
		return decimal.Zero
	}
	return v.Num
}
