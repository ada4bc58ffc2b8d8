package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Client is the live REST implementation of API.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
}

func NewClient(c Config) *Client {
	return &Client{
		base:    c.APIURL,
		token:   c.Token,
		timeout: time.Duration(c.Timeout),
		http:    &http.Client{},
	}
}

func (c *Client) Channel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	err := c.do(ctx, "GET", "/channels/"+url.PathEscape(channelID), nil, &ch)
	return ch, err
}

func (c *Client) Message(ctx context.Context, channelID, messageID string) (Message, error) {
	var m Message
	err := c.do(ctx, "GET",
		"/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(messageID), nil, &m)
	return m, err
}

func (c *Client) CreateMessage(ctx context.Context, channelID string, p MessagePayload) (Message, error) {
	var m Message
	err := c.do(ctx, "POST", "/channels/"+url.PathEscape(channelID)+"/messages", p, &m)
	return m, err
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, p MessagePayload) (Message, error) {
	var m Message
	err := c.do(ctx, "PATCH",
		"/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(messageID), p, &m)
	return m, err
}

func (c *Client) StartThread(ctx context.Context, channelID, messageID, name string) (Channel, error) {
	body := struct {
		Name                string `json:"name"`
		AutoArchiveDuration int    `json:"auto_archive_duration"`
	}{
		Name:                name,
		AutoArchiveDuration: 1440,
	}
	var th Channel
	err := c.do(ctx, "POST",
		"/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(messageID)+"/threads",
		body, &th)
	return th, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		// Body decode is best-effort; the status alone is meaningful.
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
