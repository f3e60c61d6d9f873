// Package invoice holds the extracted invoice record and the rules that
// decide whether it can be trusted: required fields are present, values have
// the right kind, and the amounts add up.
//
// Validation never fails. Every problem becomes one message in the verdict
// and the remaining rules still run, so a reviewer sees the whole list at
// once. Validate is pure and safe to call from many goroutines.
package invoice

import (
	"github.com/shopspring/decimal"
)

const msgNotRecord = "Input must be a structured record"

var (
	// tolerance is the absolute slack for monetary equality
	tolerance = decimal.New(1, -2)
	hundred   = decimal.NewFromInt(100)
	one       = decimal.NewFromInt(1)
)

// approxEqual compares two amounts within tolerance. A difference of exactly
// the tolerance is still equal.
func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// rules run in order; their order is the order errors are reported in
var rules = []func(*Record, *report){
	checkRequired,
	checkTypes,
	checkParties,
	checkItemStructure,
	checkItemValues,
	checkItemArithmetic,
	checkSubtotal,
	checkTotal,
	checkDiscountBound,
}

// Validate checks a record and returns every violation found. A nil record
// is reported as unstructured input.
func Validate(rec *Record) Verdict {
	var rep report
	if rec == nil {
		rep.add(msgNotRecord)
		return rep.verdict()
	}
	for _, rule := range rules {
		rule(rec, &rep)
	}
	return rep.verdict()
}

// ValidateJSON decodes and validates extracted JSON. Anything that is not a
// JSON object, such as raw model text, yields a single error.
func ValidateJSON(data []byte) Verdict {
	rec, err := Decode(data)
	if err != nil {
		return Validate(nil)
	}
	return Validate(rec)
}

func checkRequired(r *Record, rep *report) {
	required := []namedValue{
		{"invoice_number", r.InvoiceNumber},
		{"invoice_date", r.InvoiceDate},
		{"total", r.Total},
	}
	for _, f := range required {
		if f.value.Empty() {
			rep.add("Missing required field: %s", f.name)
		}
	}
}

type amountField struct {
	name        string
	value       Value
	required    bool
	nonNegative bool
}

func checkTypes(r *Record, rep *report) {
	for _, f := range []namedValue{{"invoice_number", r.InvoiceNumber}, {"invoice_date", r.InvoiceDate}} {
		if f.value.Present() && f.value.Kind != KindString {
			rep.add("Field '%s' must be a string", f.name)
		}
	}

	amounts := []amountField{
		{name: "total", value: r.Total, required: true, nonNegative: true},
		{name: "subtotal", value: r.Subtotal, nonNegative: true},
		{name: "discount", value: r.Discount, nonNegative: true},
		{name: "tax", value: r.Tax, nonNegative: true},
		{name: "shipping_cost", value: r.ShippingCost, nonNegative: true},
		{name: "rounding_adjustment", value: r.RoundingAdjustment},
	}
	for _, f := range amounts {
		if !f.value.Present() || (f.required && f.value.Empty()) {
			continue
		}
		if !f.value.IsNumber() {
			rep.add("Field '%s' must be numeric", f.name)
			continue
		}
		if f.nonNegative && f.value.Num.IsNegative() {
			rep.add("Field '%s' must not be negative", f.name)
		}
	}

	if pct := r.DiscountPercentage; pct.Present() {
		switch {
		case !pct.IsNumber():
			rep.add("Field 'discount_percentage' must be numeric")
		case !percentInRange(pct.Num):
			rep.add("Field 'discount_percentage' must be between 0 and 100")
		}
	}

	if cur := r.Currency; cur.Present() {
		switch {
		case cur.Kind != KindString:
			rep.add("Currency must be a string")
		case cur.Blank():
			rep.add("Currency cannot be empty")
		}
	}
}

func percentInRange(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

func checkParties(r *Record, rep *report) {
	checkParty("supplier", "Supplier", r.Supplier, rep)
	checkParty("client", "Client", r.Client, rep)
}

func checkParty(field, label string, p Party, rep *report) {
	switch {
	case p.Kind == KindAbsent:
		rep.add("Missing required field: %s", field)
	case p.Kind != KindObject:
		rep.add("Field '%s' must be an object", field)
	case p.Name.Kind != KindString || p.Name.Blank():
		rep.add("%s must have a name", label)
	}
}

func checkItemStructure(r *Record, rep *report) {
	switch r.Items.Kind {
	case KindAbsent:
		rep.add("Missing required field: items")
		return
	case KindArray:
	default:
		rep.add("Field 'items' must be an array")
		return
	}
	if len(r.Items.Lines) == 0 {
		rep.add("Invoice must contain at least one item")
		return
	}

	for i, line := range r.Items.Lines {
		n := i + 1
		if line.Kind != KindObject {
			rep.add("Item %d must be an object", n)
			continue
		}
		for _, f := range line.fields() {
			if !f.value.Present() {
				rep.add("Item %d: missing field %s", n, f.name)
			}
		}
		if line.Description.Blank() {
			rep.add("Item %d: description cannot be empty", n)
		}
	}
}

func checkItemValues(r *Record, rep *report) {
	for i, line := range r.Items.lines() {
		if line.Kind != KindObject {
			continue
		}
		n := i + 1

		if d := line.Description; d.Present() && d.Kind != KindString {
			rep.add("Item %d: description must be a string", n)
		}
		if q := line.Quantity; q.Present() {
			switch {
			case !q.IsInteger():
				rep.add("Item %d: quantity must be an integer", n)
			case q.Num.LessThan(one):
				rep.add("Item %d: quantity must be at least 1", n)
			}
		}
		for _, f := range []namedValue{{"unit_price", line.UnitPrice}, {"total_price", line.TotalPrice}} {
			if f.value.Present() && !f.value.IsNumber() {
				rep.add("Item %d: %s must be numeric", n, f.name)
			}
		}
	}
}

func checkItemArithmetic(r *Record, rep *report) {
	for i, line := range r.Items.lines() {
		if line.Kind != KindObject {
			continue
		}
		if !line.Quantity.IsInteger() || !line.UnitPrice.IsNumber() || !line.TotalPrice.IsNumber() {
			continue
		}
		expected := line.Quantity.Num.Mul(line.UnitPrice.Num)
		if !approxEqual(expected, line.TotalPrice.Num) {
			rep.add("Item %d: total_price mismatch: expected %s, got %s",
				i+1, expected.StringFixed(2), line.TotalPrice.Lit)
		}
	}
}

func checkSubtotal(r *Record, rep *report) {
	if !r.Subtotal.IsNumber() {
		return
	}
	sum, ok := r.lineSum()
	if !ok {
		return
	}
	if !approxEqual(sum, r.Subtotal.Num) {
		rep.add("Subtotal mismatch: sum of line items (%s) ≠ subtotal (%s)", sum.StringFixed(2), r.Subtotal.Lit)
	}
}

func checkTotal(r *Record, rep *report) {
	base, ok := totalBase(r)
	if !ok {
		return
	}
	discount, ok := effectiveDiscount(r, base, rep)
	if !ok || !r.Total.IsNumber() {
		return
	}
	for _, adj := range []Value{r.Tax, r.ShippingCost, r.RoundingAdjustment} {
		if adj.Present() && !adj.IsNumber() {
			return
		}
	}

	expected := base.Sub(discount).
		Add(r.Tax.amount()).
		Add(r.ShippingCost.amount()).
		Add(r.RoundingAdjustment.amount())
	if !approxEqual(expected, r.Total.Num) {
		rep.add("Total calculation mismatch: calculated total (%s) ≠ given total (%s)", expected.StringFixed(2), r.Total.Lit)
	}
}

// totalBase is the amount discounts and charges apply to: the subtotal, or
// the line item sum when no subtotal was extracted.
func totalBase(r *Record) (decimal.Decimal, bool) {
	switch {
	case r.Subtotal.IsNumber():
		return r.Subtotal.Num, true
	case r.Subtotal.Present():
		return decimal.Zero, false
	}
	return r.lineSum()
}

// effectiveDiscount resolves the discount used for the total. An explicit
// discount wins; a discount percentage is cross-checked against it, or used
// to derive it when no amount was given.
func effectiveDiscount(r *Record, base decimal.Decimal, rep *report) (decimal.Decimal, bool) {
	pct := r.DiscountPercentage
	pctUsable := pct.IsNumber() && percentInRange(pct.Num)

	switch {
	case r.Discount.IsNumber():
		if pctUsable {
			derived := base.Mul(pct.Num).Div(hundred)
			if !approxEqual(derived, r.Discount.Num) {
				rep.add("Discount inconsistency: %s%% of %s is %s, but discount is %s",
					pct.Lit, base.StringFixed(2), derived.StringFixed(2), r.Discount.Lit)
			}
		}
		return r.Discount.Num, true
	case r.Discount.Present():
		return decimal.Zero, false
	case pctUsable:
		return base.Mul(pct.Num).Div(hundred), true
	case pct.Present():
		return decimal.Zero, false
	}
	return decimal.Zero, true
}

func checkDiscountBound(r *Record, rep *report) {
	if !r.Discount.IsNumber() || !r.Subtotal.IsNumber() {
		return
	}
	if r.Discount.Num.GreaterThan(r.Subtotal.Num) {
		rep.add("Discount exceeds subtotal")
	}
}
