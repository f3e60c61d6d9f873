package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotRecord is returned by Decode when the input is not a JSON object
var ErrNotRecord = errors.New("input is not a JSON object")

// Record is an invoice as extracted by the model. Every member keeps an
// explicit absent state so that a missing field is never confused with a
// zero amount or an empty string.
type Record struct {
	InvoiceNumber      Value
	InvoiceDate        Value // YYYY-MM-DD
	Supplier           Party
	Client             Party
	Items              Items
	Subtotal           Value
	Discount           Value
	DiscountPercentage Value
	Tax                Value
	ShippingCost       Value
	RoundingAdjustment Value
	PaymentTerms       Value
	Currency           Value
	Total              Value
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Record) UnmarshalJSON(raw []byte) error {
	*r = Record{}
	return decodeFields(raw, map[string]json.Unmarshaler{
		"invoice_number":      &r.InvoiceNumber,
		"invoice_date":        &r.InvoiceDate,
		"supplier":            &r.Supplier,
		"client":              &r.Client,
		"items":               &r.Items,
		"subtotal":            &r.Subtotal,
		"discount":            &r.Discount,
		"discount_percentage": &r.DiscountPercentage,
		"tax":                 &r.Tax,
		"shipping_cost":       &r.ShippingCost,
		"rounding_adjustment": &r.RoundingAdjustment,
		"payment_terms":       &r.PaymentTerms,
		"currency":            &r.Currency,
		"total":               &r.Total,
	})
}

// decodeFields decodes a JSON object into targets by exact key, so "Total"
// never fills total. Unknown keys are ignored; a repeated key keeps its last
// value.
func decodeFields(raw []byte, targets map[string]json.Unmarshaler) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decoding object: %w", err)
	}
	for key, target := range targets {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := target.UnmarshalJSON(value); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
	}
	return nil
}

// Party is the supplier or client block of an invoice
type Party struct {
	Kind    Kind
	Name    Value
	Address Value
	Phone   Value
	Email   Value
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Party) UnmarshalJSON(raw []byte) error {
	*p = Party{Kind: kindOf(raw)}
	if p.Kind != KindObject {
		return nil
	}
	return decodeFields(raw, map[string]json.Unmarshaler{
		"name":    &p.Name,
		"address": &p.Address,
		"phone":   &p.Phone,
		"email":   &p.Email,
	})
}

// Items is the line item list of an invoice
type Items struct {
	Kind  Kind
	Lines []LineItem
}

// UnmarshalJSON implements json.Unmarshaler
func (it *Items) UnmarshalJSON(raw []byte) error {
	*it = Items{Kind: kindOf(raw)}
	if it.Kind != KindArray {
		return nil
	}
	if err := json.Unmarshal(raw, &it.Lines); err != nil {
		return fmt.Errorf("decoding items: %w", err)
	}
	return nil
}

// lines returns the line items, or nil when items is not an array
func (it Items) lines() []LineItem {
	if it.Kind != KindArray {
		return nil
	}
	return it.Lines
}

// LineItem is one row of an invoice's itemised charges
type LineItem struct {
	Kind        Kind
	Description Value
	Quantity    Value
	UnitPrice   Value
	TotalPrice  Value
}

// UnmarshalJSON implements json.Unmarshaler
func (l *LineItem) UnmarshalJSON(raw []byte) error {
	*l = LineItem{Kind: kindOf(raw)}
	if l.Kind != KindObject {
		return nil
	}
	return decodeFields(raw, map[string]json.Unmarshaler{
		"description": &l.Description,
		"quantity":    &l.Quantity,
		"unit_price":  &l.UnitPrice,
		"total_price": &l.TotalPrice,
	})
}

type namedValue struct {
	name  string
	value Value
}

func (l LineItem) fields() []namedValue {
	return []namedValue{
		{"description", l.Description},
		{"quantity", l.Quantity},
		{"unit_price", l.UnitPrice},
		{"total_price", l.TotalPrice},
	}
}

// lineSum adds up every line total. It reports false when there are no
// lines or any line lacks a numeric total_price.
func (r *Record) lineSum() (decimal.Decimal, bool) {
	lines := r.Items.lines()
	if len(lines) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, line := range lines {
		if line.Kind != KindObject || !line.TotalPrice.IsNumber() {
			return decimal.Zero, false
		}
		sum = sum.Add(line.TotalPrice.Num)
	}
	return sum, true
}

// Decode parses extracted JSON into a Record. Field kinds are never a decode
// error; only input that is not a JSON object is rejected.
func Decode(data []byte) (*Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrNotRecord
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRecord, err)
	}
	return &rec, nil
}
