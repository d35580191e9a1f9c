package session

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("%PDF-1.7"))
		})

		When("saving succeeds", func() {
			BeforeEach(func() {
				filename = "s1_d1_factura.pdf"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(savedPath).To(Equal(filename))
			})

			It("should save the file inside the base directory", func() {
				Expect(filepath.Join(tmpDir, "uploads", filename)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the base directory", func() {
			BeforeEach(func() {
				filename = "../escape.pdf"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid storage path")))
				Expect(filepath.Join(tmpDir, "escape.pdf")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		It("returns saved data", func() {
			_, err := storage.Save("a.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			data, err := storage.Get("a.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png"))
		})

		It("fails for missing files", func() {
			_, err := storage.Get("missing.png")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save("a.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete("a.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "uploads", "a.png")).NotTo(BeAnExistingFile())
		})

		It("fails for missing files", func() {
			Expect(storage.Delete("missing.png")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
