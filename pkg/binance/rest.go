package binance

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

const (
	// DefaultBaseURL is the Binance spot REST endpoint.
	DefaultBaseURL = "https://api.binance.com"

	// DefaultRecvWindow is the validity window Binance applies to a signed
	// request's timestamp.
	DefaultRecvWindow = 5000 * time.Millisecond
)

// Options configures a Client. Construct it once and pass it in; the client
// never reads process-global state.
type Options struct {
	// BaseURL overrides the REST endpoint, mainly for tests.
	BaseURL string

	// Credentials for signed endpoints. Public endpoints work without them.
	Credentials Credentials

	// HTTPTimeout bounds every REST call.
	HTTPTimeout time.Duration

	// RecvWindow is sent with signed requests; Binance rejects requests
	// whose timestamp falls outside it.
	RecvWindow time.Duration

	// MaxRequestsPerSecond paces REST calls.
	MaxRequestsPerSecond int

	// Logger receives structured diagnostics. Defaults to the JSON logger.
	Logger logging.Logger

	// HTTPClient optionally shares a transport between clients.
	HTTPClient *http.Client

	// Clock supplies timestamps for signing. Signing and request emission
	// must share one clock or the exchange rejects on skew. Defaults to
	// time.Now.
	Clock func() time.Time

	// Debug enables request/response dump logging. Signatures and API keys
	// are redacted from dumps.
	Debug bool
}

// NewOptions returns options with production defaults.
func NewOptions() *Options {
	return &Options{
		BaseURL:              DefaultBaseURL,
		HTTPTimeout:          15 * time.Second,
		RecvWindow:           DefaultRecvWindow,
		MaxRequestsPerSecond: 10,
	}
}

// Client executes Binance REST requests: it signs, paces, sends and
// classifies. It holds no mutable state besides the shared transport, so
// concurrent calls are safe. It never retries; retry policy belongs to the
// caller, informed by Error.Retryable.
type Client struct {
	baseURL    string
	creds      Credentials
	signer     *Signer
	httpClient *http.Client
	limiter    ratelimit.RateLimiter
	logger     logging.Logger
	recvWindow int64
	now        func() time.Time
	debug      bool
}

// NewClient creates a REST client from the given options.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = NewOptions()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	recvWindow := opts.RecvWindow
	if recvWindow <= 0 {
		recvWindow = DefaultRecvWindow
	}
	rps := opts.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      opts.Credentials,
		signer:     NewSigner(opts.Credentials),
		httpClient: httpClient,
		limiter:    ratelimit.NewTokenBucketLimiter(ratelimit.Rate{Limit: rps, Interval: time.Second}),
		logger:     logger,
		recvWindow: recvWindow.Milliseconds(),
		now:        now,
		debug:      opts.Debug,
	}
}

// SetRateLimit adjusts request pacing at runtime.
func (c *Client) SetRateLimit(rate ratelimit.Rate) error {
	return c.limiter.SetLimit(rate)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, false, out)
}

func (c *Client) post(ctx context.Context, path string, body url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, false, out)
}

func (c *Client) put(ctx context.Context, path string, body url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, nil, body, false, out)
}

func (c *Client) delete(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, false, out)
}

func (c *Client) signedGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, true, out)
}

func (c *Client) signedPost(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, params, nil, true, out)
}

func (c *Client) signedDelete(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, true, out)
}

// do executes one request. Signed requests receive timestamp, recvWindow and
// signature query parameters; the signature covers exactly the bytes sent.
func (c *Client) do(ctx context.Context, method, path string, query, body url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return NewTransportError(err)
	}

	if query == nil {
		query = url.Values{}
	}
	if body == nil {
		body = url.Values{}
	}

	if signed {
		if c.creds.Empty() {
			return NewAuthenticationError(0, "signed endpoint requires API credentials")
		}
		query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}

	rawQuery := query.Encode()
	encodedBody := body.Encode()

	if signed {
		signature := c.signer.SignRequest(query, body)
		if rawQuery == "" {
			rawQuery = "signature=" + signature
		} else {
			rawQuery += "&signature=" + signature
		}
	}

	reqURL := c.baseURL + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(encodedBody))
	if err != nil {
		return NewProtocolError("building request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.creds.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("http request failed",
			logging.String("method", method),
			logging.String("path", path),
			logging.Error(err),
		)
		return NewTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransportError(err)
	}

	if c.debug {
		c.logDebug(method, path, rawQuery, resp.StatusCode, payload, c.now().Sub(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyResponse(resp.StatusCode, resp.Header, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return NewProtocolError("decoding response body", err)
	}
	return nil
}

// logDebug dumps a completed exchange with secret material stripped.
func (c *Client) logDebug(method, path, rawQuery string, status int, payload []byte, elapsed time.Duration) {
	const maxBodyLog = 4096
	logged := payload
	if len(logged) > maxBodyLog {
		logged = logged[:maxBodyLog]
	}
	c.logger.Debug("http exchange",
		logging.String("method", method),
		logging.String("path", path),
		logging.String("query", redactQuery(rawQuery)),
		logging.Int("status", status),
		logging.Duration("duration", elapsed),
		logging.String("body", string(logged)),
	)
}

// redactQuery strips the signature parameter value from a raw query string
// before it is logged.
func redactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	for i, part := range parts {
		if strings.HasPrefix(part, "signature=") {
			parts[i] = "signature=[REDACTED]"
		}
	}
	return strings.Join(parts, "&")
}
