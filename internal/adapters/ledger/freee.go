// Package ledger talks to the freee accounting API: it lists deals in a
// date range, uploads receipt files, and attaches uploaded receipts to
// deals.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

const (
	defaultBaseURL = "https://api.freee.co.jp/api/1"
	pageSize       = 100
	dateFormat     = "2006-01-02"
)

// Client is a freee API client scoped to one company
type Client struct {
	baseURL     string
	accessToken string
	companyID   int64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a client against the production freee API
func NewClient(accessToken string, companyID int64, logger *slog.Logger) *Client {
	return NewClientWithBaseURL(defaultBaseURL, accessToken, companyID, logger)
}

// NewClientWithBaseURL creates a client against a custom endpoint (tests)
func NewClientWithBaseURL(baseURL, accessToken string, companyID int64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		companyID:   companyID,
		httpClient:  rc.StandardClient(),
		logger:      logger,
	}
}

type dealReceipt struct {
	ID int64 `json:"id"`
}

type dealPayload struct {
	ID          int64         `json:"id"`
	IssueDate   string        `json:"issue_date"`
	Amount      float64       `json:"amount"`
	PartnerName string        `json:"partner_name"`
	Status      string        `json:"status"`
	Receipts    []dealReceipt `json:"receipts"`
}

// FetchDeals returns all deals whose issue date falls in [from, to],
// following the API's limit/offset pagination. Deals that fail to parse
// are skipped with a warning rather than failing the whole fetch.
func (c *Client) FetchDeals(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	c.logger.Info("fetching deals",
		"from", from.Format(dateFormat),
		"to", to.Format(dateFormat),
	)

	var transactions []model.Transaction
	offset := 0

	for {
		query := url.Values{}
		query.Set("company_id", strconv.FormatInt(c.companyID, 10))
		query.Set("start_issue_date", from.Format(dateFormat))
		query.Set("end_issue_date", to.Format(dateFormat))
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page struct {
			Deals []dealPayload `json:"deals"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/deals?"+query.Encode(), &page); err != nil {
			return nil, fmt.Errorf("fetch deals (offset %d): %w", offset, err)
		}

		c.logger.Debug("fetched deals page", "count", len(page.Deals), "offset", offset)

		if len(page.Deals) == 0 {
			break
		}

		for _, deal := range page.Deals {
			issueDate, err := time.Parse(dateFormat, deal.IssueDate)
			if err != nil {
				c.logger.Warn("failed to parse deal, skipping",
					"deal_id", deal.ID, "issue_date", deal.IssueDate, "error", err)
				continue
			}
			transactions = append(transactions, model.Transaction{
				ID:           strconv.FormatInt(deal.ID, 10),
				Date:         issueDate,
				Amount:       deal.Amount,
				MerchantName: deal.PartnerName,
				Status:       deal.Status,
				HasReceipt:   len(deal.Receipts) > 0,
			})
		}

		if len(page.Deals) < pageSize {
			break
		}
		offset += pageSize
	}

	c.logger.Info("fetched deals", "count", len(transactions))
	return transactions, nil
}

// UploadReceipt uploads a receipt file and returns the new receipt ID
func (c *Client) UploadReceipt(ctx context.Context, filePath, description string, issueDate time.Time) (int64, error) {
	c.logger.Info("uploading receipt", "file", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("open receipt file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("company_id", strconv.FormatInt(c.companyID, 10))
	if description != "" {
		_ = writer.WriteField("description", description)
	}
	_ = writer.WriteField("issue_date", issueDate.Format(dateFormat))

	part, err := writer.CreateFormFile("receipt", filepath.Base(filePath))
	if err != nil {
		return 0, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return 0, fmt.Errorf("read receipt file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/receipts", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("upload receipt: status %d", resp.StatusCode)
	}

	var result struct {
		Receipt struct {
			ID int64 `json:"id"`
		} `json:"receipt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("parse upload response: %w", err)
	}

	c.logger.Info("uploaded receipt", "receipt_id", result.Receipt.ID)
	return result.Receipt.ID, nil
}

// AttachReceipt attaches an uploaded receipt to a deal. The deal is read
// back first and updated with all its existing fields so nothing is lost:
// the freee deals PUT replaces the whole deal.
func (c *Client) AttachReceipt(ctx context.Context, dealID string, receiptID int64) error {
	c.logger.Info("attaching receipt", "deal_id", dealID, "receipt_id", receiptID)

	dealURL := fmt.Sprintf("%s/deals/%s?company_id=%d", c.baseURL, dealID, c.companyID)

	var current struct {
		Deal map[string]any `json:"deal"`
	}
	if err := c.getJSON(ctx, dealURL, &current); err != nil {
		return fmt.Errorf("get deal %s: %w", dealID, err)
	}
	deal := current.Deal
	if deal == nil {
		return fmt.Errorf("get deal %s: empty response", dealID)
	}

	receiptIDs := existingReceiptIDs(deal)
	for _, id := range receiptIDs {
		if id == receiptID {
			c.logger.Info("receipt already attached", "deal_id", dealID, "receipt_id", receiptID)
			return nil
		}
	}
	receiptIDs = append(receiptIDs, receiptID)

	payload := map[string]any{
		"company_id":  c.companyID,
		"issue_date":  deal["issue_date"],
		"type":        deal["type"],
		"details":     stripNulls(deal["details"]),
		"payments":    stripNulls(deal["payments"]),
		"receipt_ids": receiptIDs,
	}
	// Optional fields are sent only when the deal carries them; the API
	// rejects explicit nulls.
	for _, key := range []string{"partner_id", "partner_code", "ref_number"} {
		if v, ok := deal[key]; ok && v != nil {
			payload[key] = v
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode deal update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/deals/%s", c.baseURL, dealID), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update deal %s: %w", dealID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("update deal %s: status %d: %s", dealID, resp.StatusCode, string(body))
	}

	c.logger.Info("attached receipt", "deal_id", dealID, "receipt_id", receiptID)
	return nil
}

// getJSON performs an authenticated GET and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// existingReceiptIDs pulls the receipt IDs already on a deal
func existingReceiptIDs(deal map[string]any) []int64 {
	receipts, ok := deal["receipts"].([]any)
	if !ok {
		return nil
	}
	var ids []int64
	for _, entry := range receipts {
		receipt, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := receipt["id"].(float64); ok {
			ids = append(ids, int64(id))
		}
	}
	return ids
}

// stripNulls removes null values recursively so the PUT payload does not
// clobber fields the API treats as "unset when absent"
func stripNulls(value any) any {
	switch v := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, inner := range v {
			if inner == nil {
				continue
			}
			cleaned[key] = stripNulls(inner)
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(v))
		for _, inner := range v {
			cleaned = append(cleaned, stripNulls(inner))
		}
		return cleaned
	default:
		return v
	}
}
