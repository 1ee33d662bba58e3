// Package mailbox searches Gmail for receipt emails and downloads their
// attachments.
package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const queryDateFormat = "2006/01/02"

// Message is one receipt email candidate
type Message struct {
	ID      string
	Date    time.Time
	Subject string
	Sender  string
}

// Attachment is a downloaded email attachment
type Attachment struct {
	Filename  string
	Data      []byte
	MessageID string
}

// Client wraps the Gmail API for receipt discovery
type Client struct {
	svc    *gmail.Service
	logger *slog.Logger
}

// NewClient builds a Gmail client from an OAuth2 client-credentials file
// and a previously saved token file.
func NewClient(ctx context.Context, credentialsPath, tokenPath string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	credentials, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(credentials, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}

	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load gmail token: %w", err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{svc: svc, logger: logger}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// SearchMessages finds emails with PDF attachments in the date range.
// An extra query narrows the search further (e.g. subject filters).
func (c *Client) SearchMessages(ctx context.Context, from, to time.Time, extraQuery string) ([]Message, error) {
	query := fmt.Sprintf("has:attachment filename:pdf after:%s before:%s",
		from.Format(queryDateFormat), to.Format(queryDateFormat))
	if extraQuery != "" {
		query += " " + extraQuery
	}

	c.logger.Info("searching gmail", "query", query)

	var messages []Message
	pageToken := ""
	for {
		call := c.svc.Users.Messages.List("me").Q(query).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		for _, ref := range page.Messages {
			message, err := c.fetchMessageMetadata(ctx, ref.Id)
			if err != nil {
				c.logger.Warn("failed to fetch message, skipping", "message_id", ref.Id, "error", err)
				continue
			}
			messages = append(messages, *message)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("found receipt emails", "count", len(messages))
	return messages, nil
}

func (c *Client) fetchMessageMetadata(ctx context.Context, messageID string) (*Message, error) {
	msg, err := c.svc.Users.Messages.Get("me", messageID).Format("metadata").Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	message := &Message{
		ID:      messageID,
		Subject: "(No subject)",
		Sender:  "(Unknown)",
		Date:    time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch strings.ToLower(header.Name) {
			case "subject":
				message.Subject = header.Value
			case "from":
				message.Sender = header.Value
			case "date":
				if parsed, err := mail.ParseDate(header.Value); err == nil {
					message.Date = parsed
				}
			}
		}
	}

	return message, nil
}

// GetAttachments downloads all PDF attachments of a message
func (c *Client) GetAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	msg, err := c.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}

	var attachments []Attachment
	if msg.Payload != nil {
		attachments = c.collectAttachments(ctx, messageID, msg.Payload.Parts, attachments)

		// Non-multipart messages carry the attachment on the payload itself
		if len(attachments) == 0 && msg.Payload.Filename != "" &&
			msg.Payload.Body != nil && msg.Payload.Body.AttachmentId != "" {
			if att, err := c.downloadAttachment(ctx, messageID, msg.Payload.Filename, msg.Payload.Body.AttachmentId); err == nil {
				attachments = append(attachments, *att)
			}
		}
	}

	c.logger.Info("collected attachments", "message_id", messageID, "count", len(attachments))
	return attachments, nil
}

func (c *Client) collectAttachments(ctx context.Context, messageID string, parts []*gmail.MessagePart, attachments []Attachment) []Attachment {
	for _, part := range parts {
		if len(part.Parts) > 0 {
			attachments = c.collectAttachments(ctx, messageID, part.Parts, attachments)
		}
		if part.Filename == "" || !strings.HasSuffix(strings.ToLower(part.Filename), ".pdf") {
			continue
		}
		if part.Body == nil || part.Body.AttachmentId == "" {
			continue
		}
		att, err := c.downloadAttachment(ctx, messageID, part.Filename, part.Body.AttachmentId)
		if err != nil {
			c.logger.Warn("failed to download attachment, skipping",
				"message_id", messageID, "filename", part.Filename, "error", err)
			continue
		}
		attachments = append(attachments, *att)
	}
	return attachments
}

func (c *Client) downloadAttachment(ctx context.Context, messageID, filename, attachmentID string) (*Attachment, error) {
	body, err := c.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	data, err := decodeBase64URL(body.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", filename, err)
	}

	return &Attachment{
		Filename:  filename,
		Data:      data,
		MessageID: messageID,
	}, nil
}

// decodeBase64URL handles both padded and unpadded base64url payloads
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
