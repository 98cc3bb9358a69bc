package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Payload is a decoded response envelope. Numbers are kept as json.Number.
type Payload map[string]any

// Client talks to one CGI endpoint family, e.g. the advanced API or the legacy API.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
}

func NewClient(name, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{name: name, baseURL: baseURL, http: httpClient}
}

func (c *Client) Name() string { return c.name }

// Get issues GET <base>?action=<action>&<query> and returns the envelope.
func (c *Client) Get(ctx context.Context, action string, query url.Values) (Payload, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &TransportError{Source: c.name, Err: err}
	}
	q := u.Query()
	q.Set("action", action)
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Source: c.name, Err: err}
	}
	return c.do(req)
}

// Post sends body as JSON to the base URL and returns the envelope.
func (c *Client) Post(ctx context.Context, body any) (Payload, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, &TransportError{Source: c.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (Payload, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Source: c.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{Source: c.name, StatusCode: resp.StatusCode}
	}
	return decodeEnvelope(c.name, resp.Body)
}

func decodeEnvelope(name string, r io.Reader) (Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return nil, &ProtocolError{Source: name, Err: err}
	}
	if p == nil {
		return nil, &ProtocolError{Source: name, Err: errors.New("null envelope")}
	}

	if !truthy(p["success"]) {
		msg, _ := p["error"].(string)
		if strings.TrimSpace(msg) == "" {
			msg = "request was not successful"
		}
		return nil, &ApplicationError{Source: name, Message: msg}
	}
	return p, nil
}

// truthy mirrors how the dashboards tested the success flag: older CGI
// scripts emit 1/0 instead of a JSON boolean.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t == "true" || t == "1"
	default:
		return false
	}
}
