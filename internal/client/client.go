// Package client talks to a ledger served by the httpapi adapter. It is the
// collaborator side of the system: transport failures and unknown
// deployments surface as domain.ConnectivityError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poudelalish/blockchain-inventory/internal/adapters/httpapi"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// DefaultTimeout bounds each request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client issues ledger calls against one deployment.
type Client struct {
	baseURL      string
	caller       string
	callerHeader string
	http         *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCaller sets the identity sent with mutating calls.
func WithCaller(caller string) Option {
	return func(c *Client) { c.caller = string(domain.NormalizeAddress(caller)) }
}

// WithCallerHeader overrides the caller identity header.
func WithCallerHeader(header string) Option {
	return func(c *Client) {
		if header != "" {
			c.callerHeader = header
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the ledger served at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ledger url %q", baseURL)
	}
	c := &Client{
		baseURL:      strings.TrimRight(u.String(), "/"),
		callerHeader: httpapi.DefaultCallerHeader,
		http:         &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial resolves network through the deployment directory and returns a client
// for the recorded ledger. A network without a deployment is a connectivity
// failure that still names the available networks.
func Dial(ctx context.Context, dir *directory.Directory, network string, opts ...Option) (*Client, error) {
	dep, err := dir.Resolve(ctx, network)
	if err != nil {
		return nil, domain.ConnectivityError{Target: "network " + network, Err: err}
	}
	return New(dep.Address, opts...)
}

// BaseURL returns the ledger address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Caller returns the identity sent with mutating calls.
func (c *Client) Caller() string { return c.caller }

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status     int
	Kind       string
	Message    string
	Violations []domain.Violation
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("ledger returned %d: %s", e.Status, e.Message)
}

// Is matches the domain sentinel of the error kind.
func (e *APIError) Is(target error) bool {
	sentinel := domain.SentinelForKind(e.Kind)
	return sentinel != nil && target == sentinel
}

func request[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return out, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if c.caller == "" {
			return out, domain.AuthorizationError{Operation: strings.TrimPrefix(path, "/v1/")}
		}
		req.Header.Set(c.callerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, domain.ConnectivityError{Target: c.baseURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, domain.ConnectivityError{Target: c.baseURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope httpapi.ErrorBody
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Kind = envelope.Kind
			apiErr.Message = envelope.Error
			apiErr.Violations = envelope.Violations
		}
		return out, apiErr
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return out, nil
}

// Ping checks the ledger is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := request[map[string]string](ctx, c, http.MethodGet, "/healthz", nil)
	return err
}

// Owner returns the ledger owner.
func (c *Client) Owner(ctx context.Context) (domain.Address, error) {
	out, err := request[struct {
		Owner domain.Address `json:"owner"`
	}](ctx, c, http.MethodGet, "/v1/owner", nil)
	return out.Owner, err
}

// Counts returns the product and role counters.
func (c *Client) Counts(ctx context.Context) (domain.Counts, error) {
	return request[domain.Counts](ctx, c, http.MethodGet, "/v1/counts", nil)
}

// Roles lists the role records of kind in ID order.
func (c *Client) Roles(ctx context.Context, kind domain.RoleKind) ([]domain.Role, error) {
	out, err := request[struct {
		Roles []domain.Role `json:"roles"`
	}](ctx, c, http.MethodGet, "/v1/roles/"+string(kind), nil)
	return out.Roles, err
}

// Role returns role id of kind.
func (c *Client) Role(ctx context.Context, kind domain.RoleKind, id uint64) (domain.Role, error) {
	return request[domain.Role](ctx, c, http.MethodGet, "/v1/roles/"+string(kind)+"/"+strconv.FormatUint(id, 10), nil)
}

// RegisterRole registers address as a role of kind.
func (c *Client) RegisterRole(ctx context.Context, kind domain.RoleKind, address, name, place string) (domain.Role, error) {
	out, err := request[httpapi.RoleResponse](ctx, c, http.MethodPost, "/v1/roles/"+string(kind), httpapi.RegisterRoleRequest{
		Address: address,
		Name:    name,
		Place:   place,
	})
	return out.Role, err
}

// Products lists every product in ID order.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	out, err := request[struct {
		Products []domain.Product `json:"products"`
	}](ctx, c, http.MethodGet, "/v1/products", nil)
	return out.Products, err
}

// ProductsInStage returns the products currently in stage.
func (c *Client) ProductsInStage(ctx context.Context, stage domain.Stage) ([]domain.Product, error) {
	out, err := request[struct {
		Products []domain.Product `json:"products"`
	}](ctx, c, http.MethodGet, "/v1/products?"+url.Values{"stage": {stage.String()}}.Encode(), nil)
	return out.Products, err
}

// Product returns product id.
func (c *Client) Product(ctx context.Context, id uint64) (domain.Product, error) {
	return request[domain.Product](ctx, c, http.MethodGet, productPath(id), nil)
}

// StageLabel returns the descriptive label of product id's stage.
func (c *Client) StageLabel(ctx context.Context, id uint64) (string, error) {
	out, err := request[httpapi.StageResponse](ctx, c, http.MethodGet, productPath(id)+"/stage", nil)
	return out.Label, err
}

// Timestamps returns the stage entry instants of product id.
func (c *Client) Timestamps(ctx context.Context, id uint64) (domain.Timestamps, error) {
	return request[domain.Timestamps](ctx, c, http.MethodGet, productPath(id)+"/timestamps", nil)
}

// CreateProduct orders a new product.
func (c *Client) CreateProduct(ctx context.Context, name, description string) (domain.Product, error) {
	out, err := request[httpapi.ProductResponse](ctx, c, http.MethodPost, "/v1/products", httpapi.CreateProductRequest{
		Name:        name,
		Description: description,
	})
	return out.Product, err
}

// Transition runs one of the stage-advancing operations on product id.
func (c *Client) Transition(ctx context.Context, op string, id uint64) (domain.Product, error) {
	if op == "" {
		return domain.Product{}, errors.New("operation must not be empty")
	}
	out, err := request[httpapi.ProductResponse](ctx, c, http.MethodPost, productPath(id)+"/"+url.PathEscape(op), nil)
	return out.Product, err
}

func productPath(id uint64) string {
	return "/v1/products/" + strconv.FormatUint(id, 10)
}
