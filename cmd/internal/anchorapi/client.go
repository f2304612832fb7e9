package anchorapi

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
	"time"

	"colocation/cmd/internal/anchor"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Client is an anchor.Store backed by a remote anchor API.
type Client struct {
	base *url.URL
	http *http.Client
}

var _ anchor.Store = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a Client for the API rooted at baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("anchorapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("anchorapi: unsupported scheme %q", u.Scheme)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close is a noop; the HTTP client owns no per-store resources.
func (c *Client) Close() error { return nil }

// SaveAnchor uploads an anchor.
func (c *Client) SaveAnchor(ctx context.Context, a anchor.StoredAnchor) error {
	if a.ID == uuid.Nil {
		return anchor.ErrInvalidInput
	}
	return c.do(ctx, http.MethodPut, "/v1/anchors/"+a.ID.String(), saveRequest{Pose: toPose(a.Pose)}, nil)
}

// ShareAnchors associates saved anchors with group.
func (c *Client) ShareAnchors(ctx context.Context, group anchor.GroupID, ids []uuid.UUID) error {
	if group.IsEmpty() {
		return anchor.ErrInvalidGroupID
	}
	if len(ids) == 0 {
		return anchor.ErrInvalidInput
	}
	req := shareRequest{AnchorIDs: lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })}
	return c.do(ctx, http.MethodPost, "/v1/groups/"+group.String()+"/anchors", req, nil)
}

// LoadGroup downloads the anchors shared into group in share order.
func (c *Client) LoadGroup(ctx context.Context, group anchor.GroupID) ([]anchor.StoredAnchor, error) {
	if group.IsEmpty() {
		return nil, anchor.ErrInvalidGroupID
	}
	var resp groupResponse
	if err := c.do(ctx, http.MethodGet, "/v1/groups/"+group.String()+"/anchors", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]anchor.StoredAnchor, 0, len(resp.Anchors))
	for _, a := range resp.Anchors {
		id, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, fmt.Errorf("anchorapi: bad anchor id %q: %w", a.ID, err)
		}
		out = append(out, anchor.StoredAnchor{ID: id, Pose: a.Pose.anchorPose(), SavedAt: a.SavedAt})
	}
	return out, nil
}

// EraseAnchor deletes an anchor from the remote store.
func (c *Client) EraseAnchor(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return anchor.ErrInvalidInput
	}
	return c.do(ctx, http.MethodDelete, "/v1/anchors/"+id.String(), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("anchorapi: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-2xx response that maps to no store sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anchorapi: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er)

	var kind error
	switch er.Error.Code {
	case "not_found":
		kind = anchor.ErrNotFound
	case "invalid_group":
		kind = anchor.ErrInvalidGroupID
	case "invalid_pose":
		kind = anchor.ErrInvalidPose
	case "invalid_request", "invalid_anchor_id":
		kind = anchor.ErrInvalidInput
	}

	apiErr := &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
	if kind == nil {
		return apiErr
	}
	return errors.Join(kind, apiErr)
}
