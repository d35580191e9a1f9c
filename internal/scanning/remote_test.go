package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// verifyUploads checks the multipart body carries the expected files
func verifyUploads(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer GinkgoRecover()
		Expect(r.ParseMultipartForm(10 << 20)).To(Succeed())
		files := r.MultipartForm.File["files"]
		Expect(files).To(HaveLen(len(names)))
		for i, fh := range files {
			Expect(fh.Filename).To(Equal(names[i]))
		}
	}
}

var _ = Describe("Remote", func() {
	var (
		server  *ghttp.Server
		remote  *Remote
		uploads []Upload
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		DeferCleanup(server.Close)

		var err error
		remote, err = NewRemote(server.URL()+"/", 0)
		Expect(err).NotTo(HaveOccurred())

		uploads = []Upload{
			{FileName: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
			{FileName: "b.jpg", ContentType: "image/jpeg", Data: []byte("jpg")},
		}
	})

	It("requires a base url", func() {
		_, err := NewRemote("", time.Second)
		Expect(err).To(HaveOccurred())
	})

	Describe("Decode", func() {
		When("the service processes every file", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/process-qr"),
					verifyUploads("a.pdf", "b.jpg"),
					ghttp.RespondWith(http.StatusOK, `{
						"results": [
							{"fileName": "a.pdf", "success": true, "qrData": "documentkey=abc"},
							{"fileName": "b.jpg", "success": false, "error": "No se encontraron códigos QR"}
						],
						"totalFiles": 2, "processedFiles": 2, "completed": true
					}`),
				))
			})

			It("returns the batch", func() {
				batch, err := remote.Decode(context.Background(), uploads)
				Expect(err).NotTo(HaveOccurred())
				Expect(batch.Completed).To(BeTrue())
				Expect(batch.Results).To(HaveLen(2))
				Expect(batch.Results[0].QRData).To(Equal("documentkey=abc"))
			})
		})

		When("the service returns partial content", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/process-qr"),
					ghttp.RespondWith(http.StatusPartialContent, `{
						"results": [{"fileName": "a.pdf", "success": true, "qrData": "x"}],
						"totalFiles": 2, "processedFiles": 1, "completed": false,
						"warning": "Error de memoria después de procesar 1 archivos."
					}`),
				))
			})

			It("accepts the partial batch", func() {
				batch, err := remote.Decode(context.Background(), uploads)
				Expect(err).NotTo(HaveOccurred())
				Expect(batch.Completed).To(BeFalse())
				Expect(batch.Processed).To(Equal(1))
				Expect(batch.Total).To(Equal(2))
				Expect(batch.Warning).To(ContainSubstring("memoria"))
			})
		})

		When("the service rejects the request", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"error": "No se seleccionaron archivos"}`))
			})

			It("returns the service message", func() {
				_, err := remote.Decode(context.Background(), uploads)
				Expect(err).To(MatchError(ContainSubstring("No se seleccionaron archivos")))
				Expect(err).NotTo(MatchError(ErrUnavailable))
			})
		})

		When("the service is behind an unavailable gateway", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "down"))
			})

			It("returns ErrUnavailable", func() {
				_, err := remote.Decode(context.Background(), uploads)
				Expect(err).To(MatchError(ErrUnavailable))
			})
		})

		When("the service cannot be reached", func() {
			BeforeEach(func() {
				closed := ghttp.NewServer()
				closed.Close()
				var err error
				remote, err = NewRemote(closed.URL(), time.Second)
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns ErrUnavailable", func() {
				_, err := remote.Decode(context.Background(), uploads)
				Expect(err).To(MatchError(ErrUnavailable))
			})
		})

		When("the deadline passes", func() {
			BeforeEach(func() {
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
				})
			})

			It("returns ErrTimeout", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				_, err := remote.Decode(ctx, uploads)
				Expect(err).To(MatchError(ErrTimeout))
			})
		})
	})

	Describe("Transcribe", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/process-ocr"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					Expect(r.ParseMultipartForm(10 << 20)).To(Succeed())
					Expect(r.FormValue("lang")).To(Equal("spa"))
				},
				ghttp.RespondWith(http.StatusOK, `{"results": [
					{"fileName": "a.pdf", "success": true, "text": " CUFE: abc \n", "total_pages": 2},
					{"fileName": "b.jpg", "success": false, "error": "Error al procesar archivo: x"}
				]}`),
			))
		})

		It("returns the results with trimmed text", func() {
			results, err := remote.Transcribe(context.Background(), uploads, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(Equal([]OCRResult{
				{FileName: "a.pdf", Success: true, Text: "CUFE: abc", Pages: 2},
				{FileName: "b.jpg", Error: "Error al procesar archivo: x"},
			}))
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		DeferCleanup(server.Close)

		var err error
		ollama, err = NewOllama(server.URL(), "qwen2.5vl:7b")
		Expect(err).NotTo(HaveOccurred())
	})

	It("sends each page as an image and cleans the reply", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				body, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				var req ollamaChatRequest
				Expect(json.Unmarshal(body, &req)).To(Succeed())
				Expect(req.Model).To(Equal("qwen2.5vl:7b"))
				Expect(req.Stream).To(BeFalse())
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Images).To(HaveLen(1))
				Expect(req.Messages[1].Content).To(ContainSubstring(`"eng"`))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "```\nNIT: 900123456\nCUFE: abc\n```"},
				Done:    true,
			}),
		))

		results, err := ollama.Transcribe(context.Background(), []Upload{
			{FileName: "scan.png", ContentType: "image/png", Data: blankPNG()},
		}, "eng")
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(Equal([]OCRResult{
			{FileName: "scan.png", Success: true, Text: "NIT: 900123456\nCUFE: abc", Pages: 1},
		}))
	})

	It("records API errors per file", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		results, err := ollama.Transcribe(context.Background(), []Upload{
			{FileName: "scan.png", ContentType: "image/png", Data: blankPNG()},
		}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Success).To(BeFalse())
		Expect(results[0].Error).To(ContainSubstring("model not loaded"))
	})
})
