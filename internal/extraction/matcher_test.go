package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FindValue", func() {
	var (
		pattern string
		texts   []string
		kind    ValueKind
		value   string
	)

	JustBeforeEach(func() {
		value = FindValue(pattern, texts, kind)
	})

	When("an alphanumeric value follows the pattern on the same line", func() {
		BeforeEach(func() {
			pattern = "NIT:"
			texts = []string{"NIT: 900123456\nTotal: 100"}
			kind = Alphanumeric
		})

		It("returns the value", func() {
			Expect(value).To(Equal("900123456"))
		})
	})

	When("the pattern differs in case from the text", func() {
		BeforeEach(func() {
			pattern = "nit"
			texts = []string{"Proveedor NIT 800.555-1"}
			kind = Alphanumeric
		})

		It("still matches", func() {
			Expect(value).To(Equal("800"))
		})
	})

	When("a numeric value is on the next line", func() {
		BeforeEach(func() {
			pattern = "Total"
			texts = []string{"Total\n$ 45.000,00"}
			kind = Numeric
		})

		It("returns the normalized amount", func() {
			Expect(value).To(Equal("45000"))
		})
	})

	When("a numeric value uses comma decimals without grouping", func() {
		BeforeEach(func() {
			pattern = "Valor"
			texts = []string{"Valor: $1234567,89"}
			kind = Numeric
		})

		It("reads the whole number", func() {
			Expect(value).To(Equal("1234567.89"))
		})
	})

	When("the text uses carriage return line endings", func() {
		BeforeEach(func() {
			pattern = "IVA"
			texts = []string{"Subtotal 100\r\nIVA\r\n19,00"}
			kind = Numeric
		})

		It("falls back to the next line", func() {
			Expect(value).To(Equal("19"))
		})
	})

	When("the first occurrence has no value", func() {
		BeforeEach(func() {
			pattern = "Total"
			texts = []string{"Total\n\nresumen\nTotal: 300"}
			kind = Numeric
		})

		It("keeps scanning later lines", func() {
			Expect(value).To(Equal("300"))
		})
	})

	When("the value is only in the second text", func() {
		BeforeEach(func() {
			pattern = "NIT"
			texts = []string{"documentkey=abc", "NIT 900555"}
			kind = Alphanumeric
		})

		It("searches the texts in order", func() {
			Expect(value).To(Equal("900555"))
		})
	})

	When("the pattern is blank", func() {
		BeforeEach(func() {
			pattern = "   "
			texts = []string{"NIT 900555"}
			kind = Alphanumeric
		})

		It("returns an empty string", func() {
			Expect(value).To(BeEmpty())
		})
	})

	When("the pattern is absent", func() {
		BeforeEach(func() {
			pattern = "Subtotal"
			texts = []string{"NIT 900555"}
			kind = Numeric
		})

		It("returns an empty string", func() {
			Expect(value).To(BeEmpty())
		})
	})
})

var _ = Describe("SearchTexts", func() {
	It("orders the QR payload before the OCR text", func() {
		Expect(SearchTexts("qr", "ocr")).To(Equal([]string{"qr", "ocr"}))
	})

	It("drops blank texts", func() {
		Expect(SearchTexts("  ", "ocr")).To(Equal([]string{"ocr"}))
		Expect(SearchTexts("", "")).To(BeEmpty())
	})
})
