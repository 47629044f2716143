package services

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

	"go.uber.org/zap"

	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/models"
)

const (
	toastLoginPath        = "authentication/v1/authentication/login"
	toastOrdersBulkPath   = "orders/v2/ordersBulk"
	toastOrderPath        = "orders/v2/orders"
	toastRestaurantHeader = "Toast-Restaurant-External-ID"
	toastTotalCountHeader = "Toast-Total-Count"
	toastUserAccessType   = "TOAST_MACHINE_CLIENT"
	toastTimeLayout       = "2006-01-02T15:04:05.000-0700"

	// OrdersPageSize is the largest page the bulk orders endpoint serves.
	OrdersPageSize = 100
)

// Credentials are the values needed to talk to one restaurant's POS.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	RestaurantGUID string
	BaseURL        string
}

// CredentialsFromIntegration extracts the POS credentials of an integration.
func CredentialsFromIntegration(integration models.PosIntegration) Credentials {
	return Credentials{
		ClientID:       integration.ClientID,
		ClientSecret:   integration.ClientSecret,
		RestaurantGUID: integration.RestaurantGUID,
		BaseURL:        integration.BaseURL,
	}
}

type toastAuthRequest struct {
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	UserAccessType string `json:"userAccessType"`
}

type toastAuthResponse struct {
	Status string `json:"status"`
	Token  struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
		TokenType   string `json:"tokenType"`
	} `json:"token"`
}

// toastResponse bundles the HTTP response metadata.
type toastResponse struct {
	Status int
	Body   []byte
	Header http.Header
}

// ConnectionResult is the outcome of TestConnection.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ToastClient talks to the Toast POS HTTP API for one restaurant.
type ToastClient struct {
	creds      Credentials
	tokens     *TokenCache
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *SyncMetrics
}

// ToastClientOption configures a ToastClient.
type ToastClientOption func(*ToastClient)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(client *http.Client) ToastClientOption {
	return func(c *ToastClient) {
		c.httpClient = client
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *zap.Logger) ToastClientOption {
	return func(c *ToastClient) {
		c.logger = l
	}
}

// WithClientMetrics records request and token metrics.
func WithClientMetrics(m *SyncMetrics) ToastClientOption {
	return func(c *ToastClient) {
		c.metrics = m
	}
}

// NewToastClient builds a client. tokens may be shared between clients; a
// private cache is created when it is nil.
func NewToastClient(creds Credentials, tokens *TokenCache, opts ...ToastClientOption) *ToastClient {
	creds.BaseURL = strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if tokens == nil {
		tokens = NewTokenCache()
	}

	c := &ToastClient{
		creds:      creds,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrGlobal(c.logger).With(zap.String("restaurant_guid", creds.RestaurantGUID))
	return c
}

func (c *ToastClient) tokenKey() TokenKey {
	return TokenKey{ClientID: c.creds.ClientID, RestaurantGUID: c.creds.RestaurantGUID}
}

// Authenticate exchanges the client credentials for a new access token.
func (c *ToastClient) Authenticate(ctx context.Context) (*AccessToken, error) {
	payload, err := json.Marshal(toastAuthRequest{
		ClientID:       c.creds.ClientID,
		ClientSecret:   c.creds.ClientSecret,
		UserAccessType: toastUserAccessType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal POS auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.BaseURL+"/"+toastLoginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create POS auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.execute(req, "login")
	if err != nil {
		return nil, fmt.Errorf("execute POS auth request: %w", err)
	}

	if resp.Status == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, &AuthenticationError{Status: resp.Status, Body: string(resp.Body)}
	}

	var authResp toastAuthResponse
	if err := json.Unmarshal(resp.Body, &authResp); err != nil {
		return nil, &AuthenticationError{Status: resp.Status, Body: string(resp.Body)}
	}
	if authResp.Status != "SUCCESS" || authResp.Token.AccessToken == "" {
		return nil, &AuthenticationError{Status: resp.Status, Body: string(resp.Body)}
	}

	c.metrics.tokenFetched()
	c.logger.Debug("POS token issued", zap.Int("expires_in", authResp.Token.ExpiresIn))

	return &AccessToken{
		Value:     authResp.Token.AccessToken,
		ExpiresIn: time.Duration(authResp.Token.ExpiresIn) * time.Second,
	}, nil
}

// TestConnection reports whether the credentials authenticate. It never
// returns an error; failures are described in the result.
func (c *ToastClient) TestConnection(ctx context.Context) ConnectionResult {
	if _, err := c.Authenticate(ctx); err != nil {
		return ConnectionResult{Success: false, Error: err.Error()}
	}
	return ConnectionResult{Success: true}
}

// GetOrders fetches every order in [start, end], following pagination until
// a page is short or carries no next link. Any failed page aborts the fetch.
func (c *ToastClient) GetOrders(ctx context.Context, start, end time.Time) ([]RawOrder, error) {
	var orders []RawOrder

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("startDate", start.UTC().Format(toastTimeLayout))
		query.Set("endDate", end.UTC().Format(toastTimeLayout))
		query.Set("pageSize", strconv.Itoa(OrdersPageSize))
		query.Set("page", strconv.Itoa(page))

		resp, err := c.get(ctx, toastOrdersBulkPath, query, "ordersBulk")
		if err != nil {
			return nil, fetchError(page, err)
		}
		if err := checkDataResponse(page, resp); err != nil {
			return nil, err
		}

		var batch []RawOrder
		if err := json.Unmarshal(resp.Body, &batch); err != nil {
			return nil, &UpstreamFetchError{Page: page, Status: resp.Status, Err: fmt.Errorf("decode orders page: %w", err)}
		}
		orders = append(orders, batch...)

		c.logger.Debug("POS orders page fetched",
			zap.Int("page", page),
			zap.Int("count", len(batch)),
			zap.String("total_count", resp.Header.Get(toastTotalCountHeader)),
		)

		if !hasNextLink(resp.Header.Get("Link")) || len(batch) != OrdersPageSize {
			break
		}
	}

	return orders, nil
}

// GetOrder fetches a single order by GUID.
func (c *ToastClient) GetOrder(ctx context.Context, guid string) (*RawOrder, error) {
	resp, err := c.get(ctx, toastOrderPath+"/"+url.PathEscape(guid), nil, "order")
	if err != nil {
		return nil, fetchError(0, err)
	}
	if err := checkDataResponse(0, resp); err != nil {
		return nil, err
	}

	var order RawOrder
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return nil, &UpstreamFetchError{Status: resp.Status, Err: fmt.Errorf("decode order: %w", err)}
	}
	return &order, nil
}

// get performs an authenticated GET, refreshing the token and retrying once
// when the POS answers 401.
func (c *ToastClient) get(ctx context.Context, path string, query url.Values, endpoint string) (*toastResponse, error) {
	target := c.creds.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	send := func() (*toastResponse, error) {
		token, err := c.tokens.Token(ctx, c.tokenKey(), c.Authenticate)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(toastRestaurantHeader, c.creds.RestaurantGUID)
		req.Header.Set("Accept", "application/json")

		return c.execute(req, endpoint)
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return resp, nil
	}

	// Token likely revoked or expired early; refresh and retry once.
	c.logger.Info("POS token rejected, refreshing", zap.String("endpoint", endpoint))
	c.tokens.Invalidate(c.tokenKey())
	return send()
}

func (c *ToastClient) execute(req *http.Request, endpoint string) (*toastResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.apiRequest(endpoint, 0)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.apiRequest(endpoint, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &toastResponse{
		Status: resp.StatusCode,
		Body:   body,
		Header: resp.Header.Clone(),
	}, nil
}

func checkDataResponse(page int, resp *toastResponse) error {
	if resp.Status == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return &UpstreamFetchError{Page: page, Status: resp.Status, Body: string(resp.Body)}
	}
	return nil
}

// fetchError keeps authentication and rate-limit failures distinguishable and
// wraps everything else as an UpstreamFetchError.
func fetchError(page int, err error) error {
	var authErr *AuthenticationError
	var rateErr *RateLimitedError
	var fetchErr *UpstreamFetchError
	if errors.As(err, &authErr) || errors.As(err, &rateErr) || errors.As(err, &fetchErr) {
		return err
	}
	return &UpstreamFetchError{Page: page, Err: err}
}

func hasNextLink(link string) bool {
	link = strings.ToLower(link)
	return strings.Contains(link, `rel="next"`) || strings.Contains(link, "rel=next")
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date. It returns zero when the header is absent or unusable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
