package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/roach88/docsync/internal/model"
)

// HTTPClient is a replication peer reached over HTTP at a database URL.
//
// Every failure (connection, non-2xx status, undecodable body) is a
// Transport error.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithRateLimit throttles requests to perSecond with the given burst.
// perSecond <= 0 disables throttling.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(h *HTTPClient) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewHTTPClient creates a client for the database at dbURL
// (e.g. "http://host:5984/notes").
func NewHTTPClient(dbURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(dbURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the database URL.
func (c *HTTPClient) URL() string {
	return c.baseURL
}

// Negotiate opens a replication session.
func (c *HTTPClient) Negotiate(ctx context.Context, peerID string) (string, error) {
	var resp sessionResponse
	if err := c.do(ctx, "negotiate", http.MethodPost, "/_session", "", sessionRequest{PeerID: peerID}, &resp); err != nil {
		return "", err
	}
	if resp.Session == "" {
		return "", model.Errorf(model.KindTransport, "negotiate", "peer returned an empty session")
	}
	return resp.Session, nil
}

// ChangesSince fetches one page of the peer's change feed.
func (c *HTTPClient) ChangesSince(ctx context.Context, session string, since int64, limit int) (model.ChangeBatch, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var batch model.ChangeBatch
	if err := c.do(ctx, "changes", http.MethodGet, "/_changes?"+q.Encode(), session, nil, &batch); err != nil {
		return model.ChangeBatch{}, err
	}
	return batch, nil
}

// PutRevisions sends revisions to the peer.
func (c *HTTPClient) PutRevisions(ctx context.Context, session string, revs []model.Revision) ([]model.Ack, error) {
	var resp revsResponse
	if err := c.do(ctx, "put revisions", http.MethodPost, "/_revs", session, revsRequest{Revisions: revs}, &resp); err != nil {
		return nil, err
	}
	return resp.Acks, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, session string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.Wrap(model.KindTransport, op, err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return model.Wrap(model.KindTransport, op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return model.Wrap(model.KindTransport, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Wrap(model.KindTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.Wrap(model.KindTransport, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// remoteError turns a non-2xx response into a Transport error that keeps
// the peer's own error code in the message.
func remoteError(op string, resp *http.Response) error {
	var e errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || e.Error.Code == "" {
		return model.Errorf(model.KindTransport, op, "peer returned %s", resp.Status)
	}
	return model.Errorf(model.KindTransport, op, "peer returned %d %s: %s", resp.StatusCode, e.Error.Code, e.Error.Message)
}
