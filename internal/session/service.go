package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/cufe-tracker/internal/extraction"
	"github.com/zombor/cufe-tracker/internal/reconcile"
	"github.com/zombor/cufe-tracker/internal/scanning"
	"github.com/zombor/cufe-tracker/internal/workbook"
)

var (
	// ErrNotFound is returned when a session, document or pattern does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for requests rejected before any processing
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultMaxFiles     = 500
	DefaultBatchTimeout = 30 * time.Minute
)

// IDGenerator generates unique IDs for sessions, documents and patterns
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config bounds batch processing
type Config struct {
	MaxFiles     int
	BatchTimeout time.Duration
	Language     string
}

func (c Config) withDefaults() Config {
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.Language == "" {
		c.Language = scanning.DefaultLanguage
	}
	return c
}

// Service handles session operations
type Service struct {
	db          DB
	storage     Storage
	decoder     scanning.Decoder
	transcriber scanning.Transcriber
	idGenerator IDGenerator
	timeSource  TimeSource
	config      Config

	// mu serializes load-modify-save of sessions
	mu sync.Mutex
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, decoder scanning.Decoder, transcriber scanning.Transcriber, config Config) *Service {
	return NewServiceWithDeps(db, storage, decoder, transcriber, config, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, decoder scanning.Decoder, transcriber scanning.Transcriber, config Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		decoder:     decoder,
		transcriber: transcriber,
		idGenerator: idGen,
		timeSource:  timeSrc,
		config:      config.withDefaults(),
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaceRuns.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "documento"
	}

	return base + ext
}

// load fetches a session, filling any nil collections
func (s *Service) load(id string) (*Session, error) {
	sess, err := s.db.GetSession(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	sess.ensure()
	return sess, nil
}

// update loads a session, applies fn and saves the result under the lock
func (s *Service) update(id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}

// CreateSession starts an empty session
func (s *Service) CreateSession() (*Session, error) {
	now := s.timeSource.Now()
	sess := &Session{
		ID:        s.idGenerator.Generate(),
		Records:   []reconcile.Record{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.ensure()

	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	slog.Info("Created session", "session", sess.ID)
	return sess, nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(id string) (*Session, error) {
	return s.load(id)
}

// ListSessions returns all sessions
func (s *Service) ListSessions() ([]*Session, error) {
	sessions, err := s.db.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its stored documents
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	for _, doc := range sess.Documents {
		s.discard(doc)
	}
	if err := s.db.DeleteSession(id); err != nil {
		return fmt.Errorf("deleting session from database: %w", err)
	}
	slog.Info("Deleted session", "session", id, "documents", len(sess.Documents))
	return nil
}

// discard deletes a stored document, logging failures
func (s *Service) discard(doc Document) {
	if err := s.storage.Delete(doc.Path); err != nil {
		slog.Warn("Failed to delete file", "filename", doc.Path, "error", err)
	}
}

// validate rejects a batch before any processing
func (s *Service) validate(uploads []scanning.Upload) error {
	if len(uploads) == 0 {
		return fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	if len(uploads) > s.config.MaxFiles {
		return fmt.Errorf("%w: up to %d files can be processed at once, got %d", ErrInvalidInput, s.config.MaxFiles, len(uploads))
	}
	var rejected, repeated []string
	seen := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		if !scanning.Supported(u.FileName) {
			rejected = append(rejected, u.FileName)
		}
		if seen[u.FileName] {
			repeated = append(repeated, u.FileName)
		}
		seen[u.FileName] = true
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%w: file type not allowed: %s", ErrInvalidInput, strings.Join(rejected, ", "))
	}
	if len(repeated) > 0 {
		return fmt.Errorf("%w: file selected more than once: %s", ErrInvalidInput, strings.Join(repeated, ", "))
	}
	return nil
}

// withDeadline bounds a batch by the configured timeout
func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.BatchTimeout)
}

// timeoutError reports a collaborator failure caused by our own deadline as ErrTimeout
func timeoutError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, scanning.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", scanning.ErrTimeout, err)
	}
	return err
}

// ProcessDocuments stores a batch of uploads and decodes their QR codes.
// Partial batches are appended to the session; a transport failure is
// returned after whatever results arrived have been saved.
func (s *Service) ProcessDocuments(ctx context.Context, id string, uploads []scanning.Upload) (*Session, *scanning.DecodeBatch, error) {
	if err := s.validate(uploads); err != nil {
		return nil, nil, err
	}
	if _, err := s.load(id); err != nil {
		return nil, nil, err
	}

	docs := make(map[string]Document, len(uploads))
	for _, u := range uploads {
		path, err := s.storage.Save(fmt.Sprintf("%s_%s_%s", id, s.idGenerator.Generate(), sanitizeFilename(u.FileName)), u.Data)
		if err != nil {
			for _, doc := range docs {
				s.discard(doc)
			}
			return nil, nil, fmt.Errorf("saving file %s: %w", u.FileName, err)
		}
		docs[u.FileName] = Document{Path: path, ContentType: u.ContentType, Size: int64(len(u.Data))}
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	start := s.timeSource.Now()
	batch, decodeErr := s.decoder.Decode(ctx, uploads)
	decodeErr = timeoutError(ctx, decodeErr)

	sess, err := s.update(id, func(sess *Session) error {
		for name, doc := range docs {
			if old, ok := sess.Documents[name]; ok && old.Path != doc.Path {
				s.discard(old)
			}
			sess.Documents[name] = doc
			// a transcription of the previous copy no longer describes this file
			delete(sess.OCR, name)
		}
		sess.Warning = ""
		if batch != nil {
			for _, r := range batch.Results {
				sess.putRecord(reconcile.Record{
					FileName:    r.FileName,
					Success:     r.Success,
					QRData:      r.QRData,
					Error:       r.Error,
					ContentType: r.FileType,
					Size:        r.FileSize,
				})
			}
			sess.Warning = batch.Warning
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if decodeErr != nil {
		slog.Error("Failed to decode batch", "session", id, "files", len(uploads), "error", decodeErr)
		return sess, batch, fmt.Errorf("decoding documents: %w", decodeErr)
	}
	slog.Info("Decoded batch",
		"session", id,
		"files", len(uploads),
		"processed", batch.Processed,
		"completed", batch.Completed,
		"duration", s.timeSource.Now().Sub(start),
	)
	return sess, batch, nil
}

// RemoveRecords drops the named documents with their records and transcriptions
func (s *Service) RemoveRecords(id string, names []string) (*Session, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	return s.update(id, func(sess *Session) error {
		kept := make([]reconcile.Record, 0, len(sess.Records))
		for _, r := range sess.Records {
			if !drop[r.FileName] {
				kept = append(kept, r)
			}
		}
		sess.Records = kept
		for name := range drop {
			if doc, ok := sess.Documents[name]; ok {
				s.discard(doc)
				delete(sess.Documents, name)
			}
			delete(sess.OCR, name)
		}
		return nil
	})
}

// ClearRecords drops every document of the session. Reference data and
// patterns are kept.
func (s *Service) ClearRecords(id string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		for _, doc := range sess.Documents {
			s.discard(doc)
		}
		sess.Records = []reconcile.Record{}
		sess.Documents = make(map[string]Document)
		sess.OCR = make(map[string]reconcile.OCRRecord)
		sess.Warning = ""
		return nil
	})
}

// reviewNames lists the documents awaiting review: failed decodes followed
// by identifiers missing from the reference table
func reviewNames(sess *Session) []string {
	successful, failed := reconcile.Partition(sess.Records)
	names := make([]string, 0, len(failed))
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, r := range failed {
		add(r.FileName)
	}
	for _, nf := range reconcile.FindNotFound(successful, sess.Index()) {
		add(nf.FileName)
	}
	return names
}

// ProcessOCR transcribes the named documents, or every document awaiting
// review when names is empty, and merges the text into the session by file
// name
func (s *Service) ProcessOCR(ctx context.Context, id string, names []string, lang string) (*Session, error) {
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = reviewNames(sess)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no documents need OCR", ErrInvalidInput)
	}
	if lang == "" {
		lang = s.config.Language
	}

	uploads := make([]scanning.Upload, 0, len(names))
	for _, name := range names {
		doc, ok := sess.Documents[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown document %s", ErrInvalidInput, name)
		}
		data, err := s.storage.Get(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("getting file %s: %w", name, err)
		}
		uploads = append(uploads, scanning.Upload{FileName: name, ContentType: doc.ContentType, Data: data})
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	results, ocrErr := s.transcriber.Transcribe(ctx, uploads, lang)
	ocrErr = timeoutError(ctx, ocrErr)

	sess, err = s.update(id, func(sess *Session) error {
		for _, r := range results {
			sess.OCR[r.FileName] = reconcile.OCRRecord{
				FileName: r.FileName,
				Success:  r.Success,
				Text:     r.Text,
				Error:    r.Error,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ocrErr != nil {
		slog.Error("Failed to transcribe batch", "session", id, "files", len(uploads), "transcribed", len(results), "error", ocrErr)
		return sess, fmt.Errorf("transcribing documents: %w", ocrErr)
	}
	slog.Info("Transcribed batch", "session", id, "files", len(uploads), "lang", lang)
	return sess, nil
}

// ImportReference replaces the session's reference ledger
func (s *Service) ImportReference(id, fileName string, data []byte) (*Session, error) {
	table, err := workbook.ReadReference(fileName, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.update(id, func(sess *Session) error {
		sess.Reference = table
		sess.ReferenceFile = fileName
		return nil
	})
}

// ClearReference removes the session's reference ledger
func (s *Service) ClearReference(id string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		sess.Reference = nil
		sess.ReferenceFile = ""
		return nil
	})
}

// patternError maps pattern set errors onto service errors
func patternError(err error) error {
	if errors.Is(err, extraction.ErrPatternNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// Patterns returns the session's pattern set
func (s *Service) Patterns(id string) (extraction.PatternSet, error) {
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return sess.Patterns, nil
}

// AddPattern appends a pattern to a field's list
func (s *Service) AddPattern(id string, field extraction.Field, p extraction.Pattern) (extraction.Pattern, error) {
	p.ID = s.idGenerator.Generate()
	p.Text = strings.TrimSpace(p.Text)
	_, err := s.update(id, func(sess *Session) error {
		if err := sess.Patterns.Add(field, p); err != nil {
			return patternError(err)
		}
		return nil
	})
	if err != nil {
		return extraction.Pattern{}, err
	}
	return p, nil
}

// UpdatePattern replaces a pattern in place
func (s *Service) UpdatePattern(id string, field extraction.Field, patternID string, p extraction.Pattern) (extraction.Pattern, error) {
	p.ID = patternID
	p.Text = strings.TrimSpace(p.Text)
	_, err := s.update(id, func(sess *Session) error {
		if err := sess.Patterns.Update(field, patternID, p); err != nil {
			return patternError(err)
		}
		return nil
	})
	if err != nil {
		return extraction.Pattern{}, err
	}
	return p, nil
}

// RemovePattern deletes a pattern
func (s *Service) RemovePattern(id string, field extraction.Field, patternID string) error {
	_, err := s.update(id, func(sess *Session) error {
		if err := sess.Patterns.Remove(field, patternID); err != nil {
			return patternError(err)
		}
		return nil
	})
	return err
}

// ImportPatterns appends the patterns of a workbook with fresh ids and
// returns how many were added
func (s *Service) ImportPatterns(id, fileName string, data []byte) (int, error) {
	set, err := workbook.ImportPatterns(fileName, data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var added int
	_, err = s.update(id, func(sess *Session) error {
		added = sess.Patterns.Merge(set, s.idGenerator.Generate)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Reconciliation is the classification of a session's records with its summary
type Reconciliation struct {
	reconcile.Result
	Stats           reconcile.Stats `json:"stats"`
	ReferenceLoaded bool            `json:"reference_loaded"`
	Warning         string          `json:"warning,omitempty"`
}

// Reconcile classifies the session's records against its reference ledger
func (s *Service) Reconcile(id string) (*Reconciliation, error) {
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	idx := sess.Index()
	result := reconcile.ReconcileIndex(sess.Records, idx)
	return &Reconciliation{
		Result:          result,
		Stats:           result.Stats(),
		ReferenceLoaded: idx.Loaded(),
		Warning:         sess.Warning,
	}, nil
}

// Review lists the documents needing follow-up with what OCR recovered
func (s *Service) Review(id string) ([]reconcile.ReviewRow, error) {
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return reconcile.Review(sess.Records, sess.OCR, sess.Index(), sess.Patterns), nil
}

// Export is a generated workbook ready for download
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

type exporter struct {
	name  string
	build func(sess *Session) ([]byte, error)
}

var exporters = map[string]exporter{
	"successful": {"resultados_qr", func(sess *Session) ([]byte, error) {
		successful, _ := reconcile.Partition(sess.Records)
		return workbook.ExportSuccessful(successful)
	}},
	"failed": {"archivos_sin_qr", func(sess *Session) ([]byte, error) {
		_, failed := reconcile.Partition(sess.Records)
		return workbook.ExportFailed(failed)
	}},
	"not-found": {"cufe_no_encontrados", func(sess *Session) ([]byte, error) {
		successful, _ := reconcile.Partition(sess.Records)
		return workbook.ExportNotFound(reconcile.FindNotFound(successful, sess.Index()))
	}},
	"duplicates": {"cufe_duplicados", func(sess *Session) ([]byte, error) {
		successful, _ := reconcile.Partition(sess.Records)
		return workbook.ExportDuplicates(reconcile.FindDuplicates(successful))
	}},
	"found": {"facturas_encontradas", func(sess *Session) ([]byte, error) {
		successful, _ := reconcile.Partition(sess.Records)
		return workbook.ExportFound(reconcile.FindFound(successful, sess.Index()))
	}},
	"review": {"procesamiento_ocr", func(sess *Session) ([]byte, error) {
		return workbook.ExportReview(reconcile.Review(sess.Records, sess.OCR, sess.Index(), sess.Patterns))
	}},
	"final-review": {"resultado_final_ocr", func(sess *Session) ([]byte, error) {
		return workbook.ExportFinalReview(reconcile.Review(sess.Records, sess.OCR, sess.Index(), sess.Patterns))
	}},
	"patterns": {"patrones", func(sess *Session) ([]byte, error) {
		return workbook.ExportPatterns(sess.Patterns)
	}},
}

// ExportKinds lists the accepted export kinds
func ExportKinds() []string {
	return []string{"successful", "failed", "not-found", "duplicates", "found", "review", "final-review", "patterns"}
}

// Export builds the workbook of the given kind
func (s *Service) Export(id, kind string) (*Export, error) {
	exp, ok := exporters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown export %q", ErrInvalidInput, kind)
	}
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	data, err := exp.build(sess)
	if err != nil {
		return nil, fmt.Errorf("building %s export: %w", kind, err)
	}
	return &Export{
		FileName:    fmt.Sprintf("%s_%s.xlsx", exp.name, s.timeSource.Now().Format("2006-01-02")),
		ContentType: workbook.ContentType,
		Data:        data,
	}, nil
}
