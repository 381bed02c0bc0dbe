// Package extract turns statement PDFs into raw rows with Gemini.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/settlement-reconciler/internal/importer"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

// DefaultModelName is the default Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// ContentGenerator is the part of the genai client the extractor calls.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor implements importer.StatementParser.
type GeminiExtractor struct {
	models ContentGenerator
	model  string
	bank   string
}

// Option configures a GeminiExtractor.
type Option func(*GeminiExtractor)

// WithModel overrides DefaultModelName.
func WithModel(model string) Option {
	return func(e *GeminiExtractor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithBank names the issuing bank in the prompt.
func WithBank(bank string) Option {
	return func(e *GeminiExtractor) { e.bank = bank }
}

// NewGeminiExtractor creates a genai client from the environment
// (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiExtractor(ctx context.Context, opts ...Option) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return NewWithGenerator(client.Models, opts...), nil
}

// NewWithGenerator builds an extractor around an existing generator.
func NewWithGenerator(models ContentGenerator, opts ...Option) *GeminiExtractor {
	e := &GeminiExtractor{models: models, model: DefaultModelName}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseStatement sends the PDF to the model and decodes the returned rows.
func (e *GeminiExtractor) ParseStatement(ctx context.Context, pdfBytes []byte) ([]importer.Row, error) {
	if len(pdfBytes) == 0 {
		return nil, fmt.Errorf("ParseStatement: empty PDF")
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildStatementPrompt(e.bank)},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdfBytes,
					},
				},
			},
		},
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("ParseStatement: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("ParseStatement: empty response from model")
	}

	rows, err := decodeRows(rawText)
	if err != nil {
		return nil, fmt.Errorf("ParseStatement: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("model", e.model).Int("rows", len(rows)).Msg("statement extracted")
	return rows, nil
}

func decodeRows(rawText string) ([]importer.Row, error) {
	clean := cleanModelJSON(rawText)

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()
	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	return importer.RowsFromModelOutput(parsed)
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ importer.StatementParser = (*GeminiExtractor)(nil)
