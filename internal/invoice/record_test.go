package invoice

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Decode", func() {
	It("keeps absent, null and zero apart", func() {
		rec, err := Decode([]byte(`{"tax": null, "discount": 0}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Tax.Kind).To(Equal(KindAbsent))
		Expect(rec.ShippingCost.Kind).To(Equal(KindAbsent))
		Expect(rec.Discount.Kind).To(Equal(KindNumber))
		Expect(rec.Discount.Num.IsZero()).To(BeTrue())
	})

	It("keeps number literals as written", func() {
		rec, err := Decode([]byte(`{"total": 20.50, "subtotal": 2e1, "tax": 3}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Total.Lit).To(Equal("20.50"))
		Expect(rec.Total.Num.StringFixed(2)).To(Equal("20.50"))
		Expect(rec.Total.Integral).To(BeFalse())
		Expect(rec.Subtotal.Integral).To(BeFalse())
		Expect(rec.Tax.Integral).To(BeTrue())
	})

	It("records the kind of wrongly typed fields", func() {
		rec, err := Decode([]byte(`{"invoice_number": 7, "currency": true, "supplier": "acme", "items": {"a": 1}}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.InvoiceNumber.Kind).To(Equal(KindNumber))
		Expect(rec.Currency.Kind).To(Equal(KindBool))
		Expect(rec.Supplier.Kind).To(Equal(KindString))
		Expect(rec.Items.Kind).To(Equal(KindObject))
		Expect(rec.Items.lines()).To(BeNil())
	})

	It("decodes parties and line items", func() {
		rec, err := Decode([]byte(`{
			"supplier": {"name": "Acme", "email": "billing@acme.test"},
			"items": [{"description": "Widget", "quantity": 2, "unit_price": 1.25, "total_price": 2.5}, null, "x"]
		}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Supplier.Kind).To(Equal(KindObject))
		Expect(rec.Supplier.Name.Str).To(Equal("Acme"))
		Expect(rec.Supplier.Email.Str).To(Equal("billing@acme.test"))
		Expect(rec.Client.Kind).To(Equal(KindAbsent))

		Expect(rec.Items.Lines).To(HaveLen(3))
		Expect(rec.Items.Lines[0].Kind).To(Equal(KindObject))
		Expect(rec.Items.Lines[0].Quantity.IsInteger()).To(BeTrue())
		Expect(rec.Items.Lines[1].Kind).To(Equal(KindAbsent))
		Expect(rec.Items.Lines[2].Kind).To(Equal(KindString))
	})

	It("does not let a kind key leak into the record", func() {
		rec, err := Decode([]byte(`{"supplier": {"name": "Acme", "Kind": 4}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Supplier.Kind).To(Equal(KindObject))
	})

	It("matches keys exactly", func() {
		rec, err := Decode([]byte(`{
			"Total": 5, "SUPPLIER": {"name": "Acme"},
			"client": {"Name": "Contoso"},
			"items": [{"Quantity": 2, "quantity": 3}]
		}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Total.Kind).To(Equal(KindAbsent))
		Expect(rec.Supplier.Kind).To(Equal(KindAbsent))
		Expect(rec.Client.Kind).To(Equal(KindObject))
		Expect(rec.Client.Name.Kind).To(Equal(KindAbsent))
		Expect(rec.Items.Lines[0].Quantity.Lit).To(Equal("3"))
	})

	DescribeTable("keeps numbers outside amount range out of arithmetic",
		func(literal string, kind Kind) {
			rec, err := Decode([]byte(`{"total": ` + literal + `}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Total.Kind).To(Equal(kind))
			Expect(rec.Total.Present()).To(BeTrue())
		},
		Entry("large exponent", "1e21", KindOutOfRange),
		Entry("small exponent", "1e-21", KindOutOfRange),
		Entry("exponent past int32", "1e99999999999", KindOutOfRange),
		Entry("too many digits", "1234567890123456789012345678901", KindOutOfRange),
		Entry("overlong literal", "0."+strings.Repeat("0", 70)+"1", KindOutOfRange),
		Entry("largest exponent", "1e20", KindNumber),
		Entry("ordinary amount", "1234.56", KindNumber),
	)

	DescribeTable("rejects input that is not an object",
		func(input string) {
			_, err := Decode([]byte(input))
			Expect(err).To(MatchError(ErrNotRecord))
		},
		Entry("empty", ""),
		Entry("text", "the total is 12.00"),
		Entry("array", "[]"),
		Entry("broken object", `{"total": }`),
	)
})

var _ = Describe("lineSum", func() {
	It("adds every numeric line total", func() {
		rec, err := Decode([]byte(`{"items": [{"total_price": 0.1}, {"total_price": 0.2}]}`))
		Expect(err).NotTo(HaveOccurred())

		sum, ok := rec.lineSum()
		Expect(ok).To(BeTrue())
		Expect(sum.String()).To(Equal("0.3"))
	})

	It("gives up when a line total is not a number", func() {
		rec, err := Decode([]byte(`{"items": [{"total_price": 1}, {"total_price": "2"}]}`))
		Expect(err).NotTo(HaveOccurred())

		_, ok := rec.lineSum()
		Expect(ok).To(BeFalse())
	})
})
