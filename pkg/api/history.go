// Package api is the request/response client for the assistant server. It
// implements history.Fetcher over GET /api/assistant/{aid}/conversations/{cid}/history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second

	// MetadataKeyMessageID holds the server's message id on fetched entries.
	MetadataKeyMessageID = "message_id"
)

// MessageRecord is one element of the history endpoint's response.
type MessageRecord struct {
	ID             ID        `json:"id"`
	ConversationID ID        `json:"conversation_id"`
	SenderType     string    `json:"sender_type"`
	MediaType      string    `json:"media_type,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      Timestamp `json:"created_at"`
}

type Client struct {
	BaseURL     string
	AssistantID string
	HTTPClient  *http.Client
}

var _ history.Fetcher = &Client{}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.HTTPClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.HTTPClient = &http.Client{Timeout: d} }
}

func NewClient(baseURL, assistantID string, opts ...Option) *Client {
	c := &Client{
		BaseURL:     baseURL,
		AssistantID: assistantID,
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) historyEndpoint(conversationID string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if trimmed == "" {
		return "", errors.New("base URL is empty")
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		return "", errors.New("assistant id is empty")
	}
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("conversation id is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", errors.Wrap(err, "invalid base URL")
	}
	u.Path = strings.TrimRight(u.Path, "/") +
		"/api/assistant/" + url.PathEscape(c.AssistantID) +
		"/conversations/" + url.PathEscape(conversationID) + "/history"
	return u.String(), nil
}

// FetchRecords returns the raw history records of a conversation.
func (c *Client) FetchRecords(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	endpoint, err := c.historyEndpoint(conversationID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "history request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read history response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("history HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var records []MessageRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrap(err, "decode history response")
	}
	return records, nil
}

// FetchHistory implements history.Fetcher.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]history.Entry, error) {
	records, err := c.FetchRecords(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	entries := make([]history.Entry, 0, len(records))
	for i, rec := range records {
		e, err := rec.Entry()
		if err != nil {
			return nil, errors.Wrapf(err, "history record %d", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Entry converts a record into a history entry. Index is left to the store.
func (r MessageRecord) Entry() (history.Entry, error) {
	sender := history.Sender(strings.ToLower(strings.TrimSpace(r.SenderType)))
	if !sender.Valid() {
		return history.Entry{}, errors.Errorf("unknown sender_type %q", r.SenderType)
	}
	mt := protocol.MediaTypeText
	if r.MediaType != "" {
		mt = protocol.MediaType(r.MediaType)
		if !mt.Valid() {
			return history.Entry{}, errors.Errorf("unknown media_type %q", r.MediaType)
		}
	}
	e := history.Entry{
		Sender:    sender,
		MediaType: mt,
		Content:   r.Content,
		CreatedAt: time.Time(r.CreatedAt),
	}
	if r.ID != "" {
		e.Metadata = map[string]any{MetadataKeyMessageID: string(r.ID)}
	}
	return e, nil
}

// ID accepts either a JSON number or a JSON string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "id must be a number or string")
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// Timestamp parses RFC 3339 as well as naive ISO 8601 timestamps (treated as UTC).
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "created_at must be a string")
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return errors.Errorf("unrecognized created_at %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}
