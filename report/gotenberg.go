// Package report converts rendered HTML into PDF through a Gotenberg sidecar.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned when no Gotenberg endpoint is configured.
var ErrDisabled = errors.New("report: pdf rendering disabled")

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  string
	Height string
}

// TicketPaper fits a 4x6 thermal label.
var TicketPaper = PaperSize{Width: "4", Height: "6"}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	paper      PaperSize
	httpClient *http.Client
}

// NewClient constructs a new client. An empty baseURL yields a client that returns ErrDisabled.
func NewClient(baseURL string, paper PaperSize) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paper:   paper,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML converts an HTML document into a PDF.
func (c *Client) RenderHTML(ctx context.Context, html []byte) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrDisabled
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(html); err != nil {
		return nil, err
	}
	if c.paper.Width != "" && c.paper.Height != "" {
		fields := map[string]string{
			"paperWidth":   c.paper.Width,
			"paperHeight":  c.paper.Height,
			"marginTop":    "0.2",
			"marginBottom": "0.2",
			"marginLeft":   "0.2",
			"marginRight":  "0.2",
		}
		for k, v := range fields {
			if err := writer.WriteField(k, v); err != nil {
				return nil, err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("render failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
