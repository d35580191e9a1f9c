package session

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cufe-tracker/internal/reconcile"
)

var _ = Describe("Session", func() {
	var sess *Session

	BeforeEach(func() {
		sess = &Session{}
		sess.ensure()
	})

	Describe("Index", func() {
		It("reflects the ledger imported after an earlier call", func() {
			Expect(sess.Index().Loaded()).To(BeFalse())

			sess.Reference = &reconcile.ReferenceTable{Rows: []reconcile.Row{{"CUFE": "abc"}}}
			idx := sess.Index()
			Expect(idx.Loaded()).To(BeTrue())
			Expect(idx.Contains("ABC")).To(BeTrue())
		})
	})

	Describe("putRecord", func() {
		It("appends new file names", func() {
			sess.putRecord(reconcile.Record{FileName: "a.pdf"})
			sess.putRecord(reconcile.Record{FileName: "b.pdf"})
			Expect(sess.Records).To(HaveLen(2))
		})

		It("replaces a record with the same file name in place", func() {
			sess.putRecord(reconcile.Record{FileName: "a.pdf", Error: "No se encontraron códigos QR"})
			sess.putRecord(reconcile.Record{FileName: "b.pdf"})
			sess.putRecord(reconcile.Record{FileName: "a.pdf", Success: true, QRData: "documentkey=abc"})
			Expect(sess.Records).To(Equal([]reconcile.Record{
				{FileName: "a.pdf", Success: true, QRData: "documentkey=abc"},
				{FileName: "b.pdf"},
			}))
		})
	})
})
