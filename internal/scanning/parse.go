package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// promptFor appends the language hint to the transcription prompt
func promptFor(lang string) string {
	if lang == "" {
		lang = DefaultLanguage
	}
	return fmt.Sprintf("%s\n- The document language code is %q.", transcriptionPrompt, lang)
}

// cleanTranscript strips markdown fences and trailing whitespace that LLM
// providers add around a transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// remoteError is the error body returned by the processing service
type remoteError struct {
	Error string `json:"error"`
}

// parseErrorBody extracts the service message from an error response
func parseErrorBody(body []byte) string {
	var e remoteError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// parseDecodeBatch parses a process-qr response. partial marks a 206
// response, which is never complete.
func parseDecodeBatch(body []byte, sent int, partial bool) (*DecodeBatch, error) {
	var batch DecodeBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if batch.Total == 0 {
		batch.Total = sent
	}
	batch.Processed = len(batch.Results)
	if partial {
		batch.Completed = false
		if batch.Warning == "" {
			batch.Warning = partialWarning(batch.Processed, batch.Total)
		}
	} else {
		batch.Completed = batch.Processed == batch.Total
	}
	return &batch, nil
}

// parseOCRResults parses a process-ocr response
func parseOCRResults(body []byte) ([]OCRResult, error) {
	var resp struct {
		Results []OCRResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	for i := range resp.Results {
		resp.Results[i].Text = strings.TrimSpace(resp.Results[i].Text)
	}
	return resp.Results, nil
}
