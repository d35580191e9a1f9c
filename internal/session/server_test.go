package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cufe-tracker/internal/extraction"
	"github.com/zombor/cufe-tracker/internal/scanning"
)

type part struct {
	name, contentType string
	data              []byte
}

// multipartBody builds a form with every part under the given field name
func multipartBody(field string, parts ...part) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, p.name))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = w.Write(p.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(mw.Close()).To(Succeed())
	return &buf, mw.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		decoder     *mockDecoder
		transcriber *mockTranscriber
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decodeJSON := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	createSession := func() string {
		resp := do("POST", "/api/sessions", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var sess Session
		decodeJSON(resp, &sess)
		return sess.ID
	}

	upload := func(id string, parts ...part) *http.Response {
		body, ct := multipartBody("files", parts...)
		return do("POST", "/api/sessions/"+id+"/documents", body, ct)
	}

	BeforeEach(func() {
		decoder = newMockDecoder()
		transcriber = newMockTranscriber()
		service = NewServiceWithDeps(newMockDB(), newMockStorage(), decoder, transcriber, Config{},
			&sequentialIDGenerator{}, &fixedTimeSource{t: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "contador", Password: "secreto"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("CUFE Tracker"))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("contador:secreto")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("sessions", func() {
		It("creates, lists, fetches and deletes a session", func() {
			id := createSession()
			Expect(id).To(Equal("id-1"))

			resp := do("GET", "/api/sessions", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var sessions []Session
			decodeJSON(resp, &sessions)
			Expect(sessions).To(HaveLen(1))

			resp = do("GET", "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("DELETE", "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("GET", "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var body map[string]string
			decodeJSON(resp, &body)
			Expect(body["error"]).To(ContainSubstring("not found"))
		})
	})

	Describe("documents", func() {
		var id string

		BeforeEach(func() {
			id = createSession()
		})

		It("decodes an uploaded batch", func() {
			resp := upload(id,
				part{"a.pdf", "application/pdf", []byte("qr:documentkey=abc")},
				part{"b.jpg", "image/jpeg", []byte("")},
			)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body batchResponse
			decodeJSON(resp, &body)
			Expect(body.Completed).To(BeTrue())
			Expect(body.Total).To(Equal(2))
			Expect(body.Session.Records).To(HaveLen(2))
			Expect(body.Session.Records[0].QRData).To(Equal("documentkey=abc"))
		})

		It("answers 206 for partial batches", func() {
			decoder.partial = 1
			resp := upload(id,
				part{"a.pdf", "application/pdf", []byte("qr:x")},
				part{"b.pdf", "application/pdf", []byte("qr:y")},
			)
			Expect(resp.StatusCode).To(Equal(http.StatusPartialContent))
			var body batchResponse
			decodeJSON(resp, &body)
			Expect(body.Processed).To(Equal(1))
			Expect(body.Warning).To(Equal("interrupted"))
		})

		It("rejects an empty selection", func() {
			resp := upload(id)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects disallowed file types", func() {
			resp := upload(id, part{"notes.txt", "text/plain", []byte("x")})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decoder.calls).To(BeZero())
		})

		It("distinguishes an unreachable decoder", func() {
			decoder.err = fmt.Errorf("%w: connection refused", scanning.ErrUnavailable)
			resp := upload(id, part{"a.pdf", "application/pdf", []byte("qr:x")})
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			var body batchResponse
			decodeJSON(resp, &body)
			Expect(body.Error).To(ContainSubstring("unavailable"))
			Expect(body.Session).NotTo(BeNil())
		})

		It("distinguishes a decoder timeout", func() {
			decoder.err = fmt.Errorf("%w: deadline", scanning.ErrTimeout)
			resp := upload(id, part{"a.pdf", "application/pdf", []byte("qr:x")})
			Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
		})

		It("removes named documents", func() {
			upload(id,
				part{"a.pdf", "application/pdf", []byte("qr:x")},
				part{"b.pdf", "application/pdf", []byte("qr:y")},
			)
			resp := do("DELETE", "/api/sessions/"+id+"/documents?name=a.pdf", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var sess Session
			decodeJSON(resp, &sess)
			Expect(sess.Records).To(HaveLen(1))
			Expect(sess.Records[0].FileName).To(Equal("b.pdf"))
		})

		It("clears every document", func() {
			upload(id, part{"a.pdf", "application/pdf", []byte("qr:x")})
			resp := do("DELETE", "/api/sessions/"+id+"/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var sess Session
			decodeJSON(resp, &sess)
			Expect(sess.Records).To(BeEmpty())
		})

		It("transcribes documents", func() {
			upload(id, part{"a.pdf", "application/pdf", []byte("")})
			transcriber.texts["a.pdf"] = "CUFE: abc"

			resp := do("POST", "/api/sessions/"+id+"/ocr", bytes.NewBufferString(`{"lang": "spa+eng"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(transcriber.lang).To(Equal("spa+eng"))

			resp = do("GET", "/api/sessions/"+id+"/review", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var rows []map[string]any
			decodeJSON(resp, &rows)
			Expect(rows).To(HaveLen(1))
			Expect(rows[0]["cufe"]).To(Equal("abc"))
		})

		It("rejects OCR when nothing needs review", func() {
			resp := do("POST", "/api/sessions/"+id+"/ocr", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("reference and results", func() {
		var id string

		BeforeEach(func() {
			id = createSession()
			upload(id,
				part{"found.pdf", "application/pdf", []byte("qr:documentkey=abc")},
				part{"missing.pdf", "application/pdf", []byte("qr:documentkey=zzz")},
			)
		})

		It("imports the ledger and reconciles", func() {
			body, ct := multipartBody("file", part{"ledger.csv", "text/csv", []byte(referenceCSV)})
			resp := do("POST", "/api/sessions/"+id+"/reference", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var ref map[string]any
			decodeJSON(resp, &ref)
			Expect(ref["rows"]).To(BeNumerically("==", 2))

			resp = do("GET", "/api/sessions/"+id+"/reconciliation", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var rec Reconciliation
			decodeJSON(resp, &rec)
			Expect(rec.ReferenceLoaded).To(BeTrue())
			Expect(rec.Stats.Found).To(Equal(1))
			Expect(rec.Stats.NotFound).To(Equal(1))
		})

		It("rejects unsupported ledgers", func() {
			body, ct := multipartBody("file", part{"ledger.xls", "", []byte("x")})
			resp := do("POST", "/api/sessions/"+id+"/reference", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("clears the ledger", func() {
			resp := do("DELETE", "/api/sessions/"+id+"/reference", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("downloads exports", func() {
			resp := do("GET", "/api/sessions/"+id+"/exports/successful", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="resultados_qr_2024-01-15.xlsx"`))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).NotTo(BeEmpty())
		})

		It("rejects unknown export kinds", func() {
			resp := do("GET", "/api/sessions/"+id+"/exports/pivot", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("patterns", func() {
		var id string

		BeforeEach(func() {
			id = createSession()
		})

		It("supports create, update and delete", func() {
			resp := do("POST", "/api/sessions/"+id+"/patterns/nit", bytes.NewBufferString(`{"text": "NIT:"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var created extraction.Pattern
			decodeJSON(resp, &created)
			Expect(created.ID).NotTo(BeEmpty())

			resp = do("PUT", "/api/sessions/"+id+"/patterns/nit/"+created.ID, bytes.NewBufferString(`{"text": "NIT Emisor"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("GET", "/api/sessions/"+id+"/patterns", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var set extraction.PatternSet
			decodeJSON(resp, &set)
			Expect(set.List(extraction.FieldNIT)).To(Equal([]extraction.Pattern{{ID: created.ID, Text: "NIT Emisor"}}))

			resp = do("DELETE", "/api/sessions/"+id+"/patterns/nit/"+created.ID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("DELETE", "/api/sessions/"+id+"/patterns/nit/"+created.ID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects unknown fields", func() {
			resp := do("POST", "/api/sessions/"+id+"/patterns/fecha", bytes.NewBufferString(`{"text": "Fecha"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed bodies", func() {
			resp := do("POST", "/api/sessions/"+id+"/patterns/nit", bytes.NewBufferString(`{`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("exports and imports workbooks", func() {
			resp := do("POST", "/api/sessions/"+id+"/patterns/total", bytes.NewBufferString(`{"text": "Total a pagar"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = do("GET", "/api/sessions/"+id+"/patterns/export", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())

			other := createSession()
			body, ct := multipartBody("file", part{"patrones.xlsx", "", data})
			resp = do("POST", "/api/sessions/"+other+"/patterns/import", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var imported map[string]int
			decodeJSON(resp, &imported)
			Expect(imported["imported"]).To(Equal(1))
		})
	})
})
