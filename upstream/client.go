// Package upstream fetches pages of the paginated fields from the community
// GraphQL API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lobby"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultSelection is the item selection set used when none is configured.
const DefaultSelection = "id name"

const maxErrorBody = 4 << 10

// Options holds configuration for Client.
type Options struct {
	HTTPClient HTTPClient
	Tokens     TokenSource
	Logger     *zap.Logger
	// Selections overrides the item selection set per field.
	Selections map[lobby.Field]string
}

// Client implements lobby.Fetcher against a GraphQL endpoint.
type Client struct {
	endpoint   string
	http       HTTPClient
	tokens     TokenSource
	logger     *zap.Logger
	selections map[lobby.Field]string
}

var _ lobby.Fetcher = (*Client)(nil)

// NewClient creates a client for the GraphQL endpoint.
func NewClient(endpoint string, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("upstream: endpoint must be set")
	}
	c := &Client{
		endpoint:   endpoint,
		http:       opts.HTTPClient,
		tokens:     opts.Tokens,
		logger:     opts.Logger,
		selections: make(map[lobby.Field]string),
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	for f, sel := range opts.Selections {
		c.selections[f] = sel
	}
	return c, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []GraphQLErrorItem         `json:"errors"`
}

// FetchPage issues the field's query for one page.
// A token-expiry error triggers one token refresh and one retry; every other
// GraphQL error is returned as *GraphQLError.
func (c *Client) FetchPage(ctx context.Context, req lobby.PageRequest) (lobby.Page, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return lobby.Page{}, err
	}

	page, err := c.do(ctx, req.Field, body, false)
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) && gqlErr.TokenExpired() && c.tokens != nil {
		c.logger.Info("upstream token expired, refreshing", zap.String("field", string(req.Field)))
		if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
			return lobby.Page{}, fmt.Errorf("refresh token: %w", rerr)
		}
		return c.do(ctx, req.Field, body, true)
	}
	return page, err
}

func (c *Client) do(ctx context.Context, field lobby.Field, body []byte, retried bool) (lobby.Page, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return lobby.Page{}, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return lobby.Page{}, fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return lobby.Page{}, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return lobby.Page{}, fmt.Errorf("%w: %d %s", lobby.ErrUpstreamStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return lobby.Page{}, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return lobby.Page{}, &GraphQLError{Field: field, Errors: gqlResp.Errors, Retried: retried}
	}

	raw, ok := gqlResp.Data[string(field)]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return lobby.Page{}, fmt.Errorf("upstream response has no data for field %q", field)
	}
	var page lobby.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return lobby.Page{}, fmt.Errorf("decode %s page: %w", field, err)
	}
	if page.Items == nil {
		page.Items = []json.RawMessage{}
	}
	return page, nil
}

func (c *Client) buildRequest(req lobby.PageRequest) ([]byte, error) {
	policy, ok := lobby.PolicyFor(req.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %q", lobby.ErrUnknownField, req.Field)
	}
	sel := c.selections[req.Field]
	if sel == "" {
		sel = DefaultSelection
	}
	query, vars := buildQuery(policy, sel, req)
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	return body, nil
}
