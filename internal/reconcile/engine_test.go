package reconcile

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reconcile", func() {
	var (
		records []Record
		table   *ReferenceTable
		result  Result
	)

	BeforeEach(func() {
		table = &ReferenceTable{
			Headers: []string{"CUFE", "Prefijo", "Folio", "NIT Emisor"},
			Rows: []Row{
				{"CUFE": "ABC123", "Prefijo": "FE", "Folio": "1", "NIT Emisor": "900"},
			},
		}
		records = nil
	})

	JustBeforeEach(func() {
		result = Reconcile(records, table)
	})

	When("a record identifier only matches after normalization", func() {
		BeforeEach(func() {
			records = []Record{{FileName: "a.pdf", Success: true, QRData: "abc 123"}}
		})

		It("classifies the record as found", func() {
			Expect(result.Found).To(HaveLen(1))
			Expect(result.Found[0].CUFE).To(Equal("ABC123"))
			Expect(result.Found[0].PrefixFolio).To(Equal("FE1"))
			Expect(result.Found[0].QRFileName).To(Equal("a.pdf"))
			Expect(result.NotFound).To(BeEmpty())
		})
	})

	When("a record identifier is missing from the table", func() {
		BeforeEach(func() {
			records = []Record{{FileName: "b.pdf", Success: true, QRData: "NumFac=9|documentkey=zzz9|x"}}
		})

		It("lists it as not found with the raw identifier", func() {
			Expect(result.NotFound).To(Equal([]NotFound{{
				FileName: "b.pdf",
				QRData:   "NumFac=9|documentkey=zzz9|x",
				CUFE:     "zzz9",
				Message:  NotFoundMessage,
			}}))
			Expect(result.Found).To(BeEmpty())
		})
	})

	When("a record has an empty identifier", func() {
		BeforeEach(func() {
			records = []Record{{FileName: "c.pdf", Success: true, QRData: "CUFE="}}
		})

		It("is neither found nor missing", func() {
			Expect(result.NotFound).To(BeEmpty())
			Expect(result.Found).To(BeEmpty())
			Expect(result.Successful).To(HaveLen(1))
		})
	})

	When("no reference table was imported", func() {
		BeforeEach(func() {
			table = nil
			records = []Record{{FileName: "a.pdf", Success: true, QRData: "zzz"}}
		})

		It("reports nothing found or missing", func() {
			Expect(result.NotFound).To(BeEmpty())
			Expect(result.Found).To(BeEmpty())
		})
	})

	When("the reference table is empty", func() {
		BeforeEach(func() {
			table = &ReferenceTable{}
			records = []Record{{FileName: "a.pdf", Success: true, QRData: "zzz"}}
		})

		It("reports every identifier as missing", func() {
			Expect(result.NotFound).To(HaveLen(1))
		})
	})

	When("records share an identifier", func() {
		BeforeEach(func() {
			records = []Record{
				{FileName: "1.pdf", Success: true, QRData: "documentkey=dup1"},
				{FileName: "2.pdf", Success: true, QRData: "DUP 1"},
				{FileName: "3.pdf", Success: true, QRData: "other"},
				{FileName: "4.pdf", Success: false, QRData: "dup1", Error: "decode failed"},
			}
		})

		It("emits one duplicate entry per member", func() {
			Expect(result.Duplicates).To(Equal([]Duplicate{
				{FileName: "1.pdf", CUFE: "dup1", Count: 2},
				{FileName: "2.pdf", CUFE: "DUP 1", Count: 2},
			}))
		})

		It("counts distinct duplicated identifiers in stats", func() {
			stats := result.Stats()
			Expect(stats.Duplicates).To(Equal(1))
			Expect(stats.Total).To(Equal(4))
			Expect(stats.Failed).To(Equal(1))
		})
	})

	When("two decoded documents match the same reference row", func() {
		BeforeEach(func() {
			records = []Record{
				{FileName: "a.pdf", Success: true, QRData: "ABC123"},
				{FileName: "b.pdf", Success: true, QRData: "abc123"},
			}
		})

		It("emits the invoice once", func() {
			Expect(result.Found).To(HaveLen(1))
			Expect(result.Found[0].QRFileName).To(Equal("a.pdf"))
		})
	})

	When("one identifier matches rows with different prefix-folio", func() {
		BeforeEach(func() {
			table.Rows = append(table.Rows, Row{"CUFE/UUID": "abc123", "Prefijo": "FE", "Folio": "2"})
			records = []Record{{
				FileName: "a.pdf",
				Success:  true,
				QRData:   "NumFac: FE1\nValTolFac: 100.00\nCUFE=ABC123",
			}}
		})

		It("emits one invoice per row", func() {
			Expect(result.Found).To(HaveLen(2))
			Expect(result.Found[1].PrefixFolio).To(Equal("FE2"))
		})

		It("carries the QR attributes", func() {
			Expect(result.Found[0].QR.InvoiceNumber).To(Equal("FE1"))
			Expect(result.Found[0].QR.Total).To(Equal("100.00"))
		})
	})

	When("records failed to decode", func() {
		BeforeEach(func() {
			records = []Record{
				{FileName: "bad.jpg", Success: false, Error: "No QR"},
				{FileName: "blank.jpg", Success: true, QRData: ""},
			}
		})

		It("partitions them as failed", func() {
			Expect(result.Failed).To(HaveLen(2))
			Expect(result.Successful).To(BeEmpty())
		})
	})
})
