package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/argo-alpaca/internal/version"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MinRequestInterval is the minimum spacing between two REST requests issued
// by the same Gateway.
const MinRequestInterval = 300 * time.Millisecond

// Authentication headers attached to every REST request.
const (
	HeaderKeyID     = "APCA-API-KEY-ID"
	HeaderSecretKey = "APCA-API-SECRET-KEY"
)

// Host selects which REST host a request targets.
type Host int

const (
	// HostAccount is the trading host, paper or live.
	HostAccount Host = iota
	// HostData is the market-data host.
	HostData
)

func (h Host) String() string {
	switch h {
	case HostAccount:
		return "account"
	case HostData:
		return "data"
	default:
		return "unknown"
	}
}

// Request describes one REST call.
type Request struct {
	Method   string
	Host     Host
	Endpoint string
	Query    url.Values
	// Data is serialized as the JSON body. time.Time values inside maps and
	// slices are sent in TimestampLayout.
	Data any
}

// Response is the raw outcome of a successful REST call.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the response declared a JSON body.
func (r *Response) IsJSON() bool {
	return isJSONContentType(r.ContentType)
}

// Decode parses the body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode response body", err)
	}

	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Requester performs REST calls. Gateway is the production implementation.
type Requester interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Gateway is the single point through which every REST call passes. It
// attaches credentials, serializes bodies, spaces requests out and turns
// broker error envelopes into errors.
type Gateway struct {
	client     *resty.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	keyID      string
	secretKey  string
	accountURL string
	dataURL    string
	paper      bool
}

var _ Requester = (*Gateway)(nil)

// NewGateway creates a Gateway from cfg. The config must carry both credentials.
func NewGateway(cfg Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	o := newOptions(opts)

	var client *resty.Client
	if o.httpClient != nil {
		client = resty.NewWithClient(o.httpClient)
	} else {
		client = resty.New()
	}

	client.SetTimeout(cfg.RequestTimeout)
	client.SetHeader("User-Agent", version.UserAgent())
	client.SetLogger(o.logger.Sugar())

	limiter := rate.NewLimiter(rate.Every(MinRequestInterval), 1)
	if cfg.DisableRateLimit {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	env := cfg.Resolve()

	return &Gateway{
		client:     client,
		limiter:    limiter,
		logger:     o.logger,
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		accountURL: strings.TrimRight(env.TradingURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		paper:      env.IsPaperTrading,
	}, nil
}

// Paper reports whether the gateway targets the paper-trading host.
func (g *Gateway) Paper() bool {
	return g.paper
}

// BaseURL returns the base URL of host.
func (g *Gateway) BaseURL(host Host) string {
	if host == HostData {
		return g.dataURL
	}

	return g.accountURL
}

// Do issues req and returns the raw response. It waits for the rate limiter
// first and fails with ErrCodeRateLimitAborted if ctx ends before the slot.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := g.BaseURL(req.Host) + "/" + strings.TrimLeft(req.Endpoint, "/")

	var body []byte
	if req.Data != nil {
		encoded, err := json.Marshal(normalizePayload(req.Data))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeEncodeFailed, err, "failed to encode %s %s body", method, req.Endpoint)
		}

		body = encoded
	}

	waitStart := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeRateLimitAborted, err, "%s %s aborted while waiting for rate limiter", method, req.Endpoint)
	}

	if waited := time.Since(waitStart); waited > time.Millisecond {
		g.logger.Debug("Request delayed by rate limiter",
			zap.String("method", method),
			zap.String("endpoint", req.Endpoint),
			zap.Duration("waited", waited),
		)
	}

	r := g.client.R().
		SetContext(ctx).
		SetHeader(HeaderKeyID, g.keyID).
		SetHeader(HeaderSecretKey, g.secretKey)

	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}

	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	started := time.Now()

	resp, err := r.Execute(method, target)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeRequestFailed, err, "%s %s failed", method, req.Endpoint)
	}

	out := &Response{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}

	g.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("host", req.Host.String()),
		zap.String("endpoint", req.Endpoint),
		zap.Int("status", out.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if err := checkResponse(method, req.Endpoint, out); err != nil {
		return nil, err
	}

	return out, nil
}

type brokerEnvelope struct {
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
}

// checkResponse classifies a completed response. A body that declares JSON
// must parse. An object carrying both "code" and "message" is the broker's
// error envelope and fails regardless of status. Other non-2xx statuses fail
// with ErrCodeHTTPStatus.
func checkResponse(method, endpoint string, resp *Response) error {
	trimmed := bytes.TrimSpace(resp.Body)

	if resp.IsJSON() && len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			return errors.Wrapf(errors.ErrCodeDecodeFailed,
				&errors.BrokerError{StatusCode: resp.StatusCode, Body: string(resp.Body)},
				"%s %s returned malformed JSON", method, endpoint)
		}

		if trimmed[0] == '{' {
			var envelope brokerEnvelope
			if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Code != nil && envelope.Message != nil {
				brokerErr := &errors.BrokerError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
				_ = json.Unmarshal(envelope.Code, &brokerErr.Code)

				if err := json.Unmarshal(envelope.Message, &brokerErr.Message); err != nil {
					brokerErr.Message = string(envelope.Message)
				}

				return errors.Wrapf(errors.ErrCodeBrokerRejected, brokerErr, "%s %s rejected by broker", method, endpoint)
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(errors.ErrCodeHTTPStatus,
			&errors.BrokerError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Body: string(resp.Body)},
			"%s %s returned status %d", method, endpoint, resp.StatusCode)
	}

	return nil
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
