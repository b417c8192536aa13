package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"robotrader/internal/logger"
	"robotrader/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

// Config holds the brokerage connection settings.
type Config struct {
	BaseURL        string
	AppKey         string
	AppSecret      string
	AccountNo      string
	AccountProduct string
	TimeoutSeconds int
}

// Client wraps the KIS domestic-stock REST API. It owns OAuth token renewal
// and routes every call through a circuit breaker so a broken brokerage
// session fails fast instead of hammering the endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuit.CircuitBreaker

	appKey         string
	appSecret      string
	accountNo      string
	accountProduct string

	tokenMu      sync.Mutex
	accessToken  string
	tokenExpires time.Time

	loc   *time.Location
	nowFn func() time.Time
}

// NewClient constructs a brokerage client from configuration.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("kis: base_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("kis: parse base_url: %w", err)
	}
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("kis: app_key/app_secret required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("kis: load exchange timezone: %w", err)
	}
	return &Client{
		baseURL:        parsed,
		httpClient:     &http.Client{Timeout: timeout},
		breaker:        circuit.NewCircuitBreaker("kis", 5, 30*time.Second),
		appKey:         strings.TrimSpace(cfg.AppKey),
		appSecret:      strings.TrimSpace(cfg.AppSecret),
		accountNo:      strings.TrimSpace(cfg.AccountNo),
		accountProduct: strings.TrimSpace(cfg.AccountProduct),
		loc:            loc,
		nowFn:          time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Location returns the exchange timezone.
func (c *Client) Location() *time.Location {
	return c.loc
}

// token returns a valid access token, renewing it inside the last minute of
// its lifetime.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && c.nowFn().Before(c.tokenExpires.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	}
	body, _ := json.Marshal(payload)

	endpoint := *c.baseURL
	endpoint.Path = "/oauth2/tokenP"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kis: token request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("kis: token request failed (%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}

	parsed := gjson.ParseBytes(data)
	tok := parsed.Get("access_token").String()
	if tok == "" {
		return "", fmt.Errorf("kis: token response missing access_token")
	}
	expiresIn := parsed.Get("expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	c.accessToken = tok
	c.tokenExpires = c.nowFn().Add(time.Duration(expiresIn) * time.Second)
	logger.Infof("kis: access token renewed, valid until %s", c.tokenExpires.Format(time.RFC3339))
	return tok, nil
}

// doRequest performs an authenticated API call and returns the parsed body.
// Non-zero rt_cd in the body counts as a failure for the breaker.
func (c *Client) doRequest(ctx context.Context, method, path, trID string, query url.Values, payload any) (gjson.Result, error) {
	if !c.breaker.Allow() {
		return gjson.Result{}, circuit.ErrOpen
	}

	res, err := c.do(ctx, method, path, trID, query, payload)
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, err
	}
	c.breaker.RecordSuccess()
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path, trID string, query url.Values, payload any) (gjson.Result, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return gjson.Result{}, err
	}

	endpoint := *c.baseURL
	endpoint.Path = path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("kis: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+tok)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("kis: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("kis: %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}

	parsed := gjson.ParseBytes(data)
	if rt := parsed.Get("rt_cd"); rt.Exists() && rt.String() != "0" {
		return gjson.Result{}, fmt.Errorf("kis: %s rejected (rt_cd=%s): %s",
			path, rt.String(), parsed.Get("msg1").String())
	}
	return parsed, nil
}
