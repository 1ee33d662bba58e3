// Package extractor pulls structured receipt facts out of receipt
// documents with the Gemini vision API. Results are cached by document
// hash so the same file is never sent to the model twice.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

const extractionPrompt = `Extract the following fields from this receipt as JSON:

{
    "merchant_name": "company or store name",
    "date": "YYYY-MM-DD",
    "amount": number only, no commas or currency symbols,
    "currency": "USD", "JPY", etc.,
    "confidence": 0.0-1.0 reflecting how clearly the fields were readable
}

Rules:
- Use the final billed total (Total / Grand Total / Amount Due), not the subtotal.
- Use the transaction or invoice date, not a payment due date.
- "amount" must be a bare number, e.g. 12500.50.
- If a field is ambiguous, set "confidence" below 0.7.
- Set unreadable fields to null.

Return ONLY valid raw JSON. Do NOT wrap the response in code fences or Markdown.`

// ExtractionCache stores past extraction results keyed by document hash
type ExtractionCache interface {
	GetExtraction(fileHash string) (*model.ReceiptRecord, bool)
	PutExtraction(fileHash string, record model.ReceiptRecord, extractedAt time.Time) error
}

// Extractor sends receipt files to Gemini and parses the response
type Extractor struct {
	client *genai.Client
	model  string
	cache  ExtractionCache
	logger *slog.Logger
}

// New creates an Extractor backed by the Gemini API
func New(ctx context.Context, apiKey, modelName string, cache ExtractionCache, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Extractor{
		client: client,
		model:  modelName,
		cache:  cache,
		logger: logger,
	}, nil
}

// ExtractFile reads a receipt document and returns its structured fields.
// The cache is consulted first; on a hit no model call is made.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*model.ReceiptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read receipt file: %w", err)
	}

	hash := hashBytes(data)
	if e.cache != nil {
		if cached, ok := e.cache.GetExtraction(hash); ok {
			e.logger.Info("extraction cache hit", "file", path)
			record := *cached
			record.SourceFile = path
			return &record, nil
		}
	}

	mimeType, err := mimeTypeFor(path)
	if err != nil {
		return nil, err
	}

	e.logger.Info("extracting receipt", "file", path, "model", e.model)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: extractionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("empty response from model for %s", path)
	}

	record, err := parseReceiptJSON(rawText)
	if err != nil {
		return nil, fmt.Errorf("parse extraction for %s: %w", path, err)
	}
	record.RawText = rawText
	record.SourceFile = path

	if record.Currency == "" {
		e.logger.Warn("receipt currency unreadable, assuming JPY", "file", path)
		record.Currency = "JPY"
	}

	if e.cache != nil {
		if err := e.cache.PutExtraction(hash, *record, time.Now()); err != nil {
			e.logger.Warn("failed to cache extraction", "file", path, "error", err)
		}
	}

	e.logger.Info("extracted receipt",
		"file", path,
		"merchant", record.MerchantName,
		"amount", record.Amount,
		"currency", record.Currency,
		"confidence", record.Confidence,
	)
	return record, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// mimeTypeFor maps a receipt file extension to its MIME type
func mimeTypeFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf", nil
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("unsupported receipt file type: %s", path)
	}
}

type receiptPayload struct {
	MerchantName string  `json:"merchant_name"`
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Confidence   float64 `json:"confidence"`
}

// parseReceiptJSON decodes the model's JSON answer into a ReceiptRecord.
// Code fences and stray prose around the object are tolerated.
func parseReceiptJSON(raw string) (*model.ReceiptRecord, error) {
	clean := cleanModelJSON(raw)

	var payload receiptPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt date %q: %w", payload.Date, err)
	}

	return &model.ReceiptRecord{
		MerchantName: payload.MerchantName,
		Date:         date,
		Amount:       payload.Amount,
		Currency:     strings.ToUpper(payload.Currency),
		Confidence:   clampConfidence(payload.Confidence),
	}, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// cleanModelJSON strips Markdown fences and surrounding prose when the
// model ignores the raw-JSON instruction
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
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

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
