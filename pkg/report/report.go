// Package report requests generated traffic reports from the backend.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrInvalidRequest = errors.New("invalid report request")

var extensions = map[string]string{
	"pdf":   "pdf",
	"excel": "xlsx",
	"csv":   "csv",
}

type Request struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	ReportType string `json:"report_type"`
	Format     string `json:"format"`
}

func (r Request) Validate() error {
	if r.StartDate == "" || r.EndDate == "" {
		return fmt.Errorf("%w: both start and end dates are required", ErrInvalidRequest)
	}
	start, err := time.Parse(time.DateOnly, r.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date: %v", ErrInvalidRequest, err)
	}
	end, err := time.Parse(time.DateOnly, r.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end_date: %v", ErrInvalidRequest, err)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end_date is before start_date", ErrInvalidRequest)
	}
	if r.ReportType == "" {
		return fmt.Errorf("%w: report_type is required", ErrInvalidRequest)
	}
	if _, ok := extensions[r.Format]; !ok {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, r.Format)
	}
	return nil
}

// Filename is the name the download is saved under.
func (r Request) Filename() string {
	return fmt.Sprintf("network-report-%s-%s-to-%s.%s", r.ReportType, r.StartDate, r.EndDate, extensions[r.Format])
}

// DefaultRange returns a request covering the last week up to now.
func DefaultRange(now time.Time, reportType, format string) Request {
	return Request{
		StartDate:  now.AddDate(0, 0, -7).Format(time.DateOnly),
		EndDate:    now.Format(time.DateOnly),
		ReportType: reportType,
		Format:     format,
	}
}

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// Download posts req and copies the generated file into w. It returns the
// number of bytes written and the content type reported by the backend.
func (c *Client) Download(ctx context.Context, req Request, w io.Writer) (int64, string, error) {
	if err := req.Validate(); err != nil {
		return 0, "", err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, "", fmt.Errorf("encode report request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build report request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return 0, "", fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, "", fmt.Errorf("failed to generate report: http status %d", resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, "", fmt.Errorf("read report body: %w", err)
	}
	return n, resp.Header.Get("Content-Type"), nil
}
