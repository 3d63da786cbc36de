package alpaca_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-alpaca/internal/mockserver"
	"github.com/rxtech-lab/argo-alpaca/pkg/alpaca"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type GatewayTestSuite struct {
	suite.Suite
	server *mockserver.MockAlpacaServer
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewayTestSuite))
}

func (suite *GatewayTestSuite) SetupTest() {
	suite.server = startServer(suite.T(), mockserver.ServerConfig{})
}

func (suite *GatewayTestSuite) newGateway(mutate func(*alpaca.Config)) *alpaca.Gateway {
	config := serverConfig(suite.server)
	if mutate != nil {
		mutate(&config)
	}

	gateway, err := alpaca.NewGateway(config)
	suite.Require().NoError(err)

	return gateway
}

func (suite *GatewayTestSuite) TestNewGatewayRequiresCredentials() {
	_, err := alpaca.NewGateway(alpaca.Config{SecretKey: "s"})
	suite.True(errors.HasCode(err, errors.ErrCodeMissingCredential))
}

func (suite *GatewayTestSuite) TestBaseURLFollowsEnvironment() {
	gateway, err := alpaca.NewGateway(alpaca.Config{KeyID: "k", SecretKey: "s"})
	suite.Require().NoError(err)
	suite.True(gateway.Paper())
	suite.Equal(alpaca.DefaultPaperTradingURL, gateway.BaseURL(alpaca.HostAccount))
	suite.Equal(alpaca.DefaultDataURL, gateway.BaseURL(alpaca.HostData))

	gateway, err = alpaca.NewGateway(alpaca.Config{KeyID: "k", SecretKey: "s", Environment: alpaca.EnvironmentLive})
	suite.Require().NoError(err)
	suite.False(gateway.Paper())
	suite.Equal(alpaca.DefaultLiveTradingURL, gateway.BaseURL(alpaca.HostAccount))
}

func (suite *GatewayTestSuite) TestAttachesCredentials() {
	gateway := suite.newGateway(nil)

	resp, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
	suite.Require().NoError(err)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.True(resp.IsJSON())

	last, ok := suite.server.LastRequest()
	suite.Require().True(ok)
	suite.Equal(http.MethodGet, last.Method)
	suite.Equal("/v2/clock", last.Path)
	suite.Equal(testKeyID, last.Header.Get(alpaca.HeaderKeyID))
	suite.Equal(testSecretKey, last.Header.Get(alpaca.HeaderSecretKey))
	suite.True(strings.HasPrefix(last.Header.Get("User-Agent"), "argo-alpaca/"))
}

func (suite *GatewayTestSuite) TestDataHost() {
	gateway := suite.newGateway(nil)

	_, err := gateway.Do(context.Background(), alpaca.Request{
		Host:     alpaca.HostData,
		Endpoint: "last/stocks/AAPL",
	})
	suite.Require().NoError(err)

	last, _ := suite.server.LastRequest()
	suite.Equal("/v1/last/stocks/AAPL", last.Path)
}

func (suite *GatewayTestSuite) TestBrokerEnvelopeIsRejected() {
	gateway := suite.newGateway(func(c *alpaca.Config) { c.SecretKey = "wrong" })

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "account"})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBrokerRejected))
	suite.True(errors.IsCategory(err, errors.CategoryBroker))

	var brokerErr *errors.BrokerError
	suite.Require().True(errors.As(err, &brokerErr))
	suite.Equal(http.StatusUnauthorized, brokerErr.StatusCode)
	suite.Equal(mockserver.CodeUnauthorized, brokerErr.Code)
	suite.Equal("request is not authorized", brokerErr.Message)
	suite.Contains(brokerErr.Body, "request is not authorized")
}

func (suite *GatewayTestSuite) TestNotFoundEnvelope() {
	gateway := suite.newGateway(nil)

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "orders/missing"})
	suite.True(errors.HasCode(err, errors.ErrCodeBrokerRejected))
	suite.True(errors.IsBrokerError(err))
}

func (suite *GatewayTestSuite) TestEnvelopeWithSuccessStatusStillFails() {
	suite.server.Override(http.MethodGet, "/v2/clock", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":40010001,"message":"bad request"}`))
	})

	gateway := suite.newGateway(nil)

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
	suite.True(errors.HasCode(err, errors.ErrCodeBrokerRejected))
}

func (suite *GatewayTestSuite) TestMalformedJSON() {
	suite.server.Override(http.MethodGet, "/v2/account", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": `))
	})

	gateway := suite.newGateway(nil)

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "account"})
	suite.True(errors.HasCode(err, errors.ErrCodeDecodeFailed))
}

func (suite *GatewayTestSuite) TestNonJSONErrorStatus() {
	suite.server.Override(http.MethodGet, "/v2/account", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	})

	gateway := suite.newGateway(nil)

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "account"})
	suite.True(errors.HasCode(err, errors.ErrCodeHTTPStatus))

	var brokerErr *errors.BrokerError
	suite.Require().True(errors.As(err, &brokerErr))
	suite.Equal(http.StatusBadGateway, brokerErr.StatusCode)
	suite.Equal("upstream unavailable", brokerErr.Body)
}

func (suite *GatewayTestSuite) TestNoContentSucceeds() {
	gateway := suite.newGateway(nil)

	created, err := gateway.Do(context.Background(), alpaca.Request{
		Method:   http.MethodPost,
		Host:     alpaca.HostAccount,
		Endpoint: "watchlists",
		Data:     map[string]any{"name": "tech"},
	})
	suite.Require().NoError(err)

	var watchlist struct {
		ID string `json:"id"`
	}
	suite.Require().NoError(created.Decode(&watchlist))

	resp, err := gateway.Do(context.Background(), alpaca.Request{
		Method:   http.MethodDelete,
		Host:     alpaca.HostAccount,
		Endpoint: "watchlists/" + watchlist.ID,
	})
	suite.Require().NoError(err)
	suite.Equal(http.StatusNoContent, resp.StatusCode)
	suite.Empty(resp.Text())
}

func (suite *GatewayTestSuite) TestBodyTimestampsAreNormalized() {
	gateway := suite.newGateway(nil)
	at := time.Date(2020, 1, 2, 15, 0, 0, 0, time.UTC)

	_, err := gateway.Do(context.Background(), alpaca.Request{
		Method:   http.MethodPost,
		Host:     alpaca.HostAccount,
		Endpoint: "watchlists",
		Data:     map[string]any{"name": "dated", "at": at},
	})
	suite.Require().NoError(err)

	last, _ := suite.server.LastRequest()
	suite.JSONEq(`{"name":"dated","at":"2020-01-02T15:00:00.000Z"}`, string(last.Body))
	suite.Equal("application/json", last.Header.Get("Content-Type"))
}

// dispatchRecorder stamps the instant each request leaves the client.
type dispatchRecorder struct {
	mu    sync.Mutex
	times []time.Time
	next  http.RoundTripper
}

func (d *dispatchRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.times = append(d.times, time.Now())
	d.mu.Unlock()

	return d.next.RoundTrip(req)
}

func (d *dispatchRecorder) dispatched() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]time.Time(nil), d.times...)
}

func (suite *GatewayTestSuite) TestTypedBodyTimestampsAreNormalized() {
	suite.server.Override(http.MethodPost, "/v2/watchlists", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	gateway := suite.newGateway(nil)
	at := time.Date(2020, 1, 2, 15, 0, 0, 0, time.UTC)

	type window struct {
		Name  string      `json:"name"`
		At    time.Time   `json:"at"`
		Marks []time.Time `json:"marks"`
	}

	bodies := []struct {
		data     any
		expected string
	}{
		{data: map[string][]time.Time{"at": {at}}, expected: `{"at":["2020-01-02T15:00:00.000Z"]}`},
		{data: map[string]time.Time{"at": at}, expected: `{"at":"2020-01-02T15:00:00.000Z"}`},
		{
			data:     window{Name: "w", At: at, Marks: []time.Time{at}},
			expected: `{"name":"w","at":"2020-01-02T15:00:00.000Z","marks":["2020-01-02T15:00:00.000Z"]}`,
		},
	}

	for _, body := range bodies {
		_, err := gateway.Do(context.Background(), alpaca.Request{
			Method:   http.MethodPost,
			Host:     alpaca.HostAccount,
			Endpoint: "watchlists",
			Data:     body.data,
		})
		suite.Require().NoError(err)

		last, _ := suite.server.LastRequest()
		suite.JSONEq(body.expected, string(last.Body))
	}
}

func (suite *GatewayTestSuite) TestRateLimitSpacesRequests() {
	config := serverConfig(suite.server)
	config.DisableRateLimit = false

	recorder := &dispatchRecorder{next: http.DefaultTransport}

	gateway, err := alpaca.NewGateway(config, alpaca.WithHTTPClient(&http.Client{Transport: recorder}))
	suite.Require().NoError(err)

	for i := 0; i < 3; i++ {
		_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
		suite.Require().NoError(err)
	}

	dispatched := recorder.dispatched()
	suite.Require().Len(dispatched, 3)

	// The limiter grants a slot right before resty builds the request, so a
	// dispatch instant trails its slot by the request setup time. Only the
	// difference between two setup times can shorten a gap.
	const setupJitter = 5 * time.Millisecond

	for i := 1; i < len(dispatched); i++ {
		gap := dispatched[i].Sub(dispatched[i-1])
		suite.GreaterOrEqual(gap, alpaca.MinRequestInterval-setupJitter, "gap %d", i)
	}

	suite.Len(suite.server.Requests(), 3)
}

func (suite *GatewayTestSuite) TestDisabledRateLimitDoesNotWait() {
	gateway := suite.newGateway(nil)

	started := time.Now()

	for i := 0; i < 3; i++ {
		_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
		suite.Require().NoError(err)
	}

	suite.Less(time.Since(started), 2*alpaca.MinRequestInterval)
}

func (suite *GatewayTestSuite) TestCanceledContextAbortsWait() {
	gateway := suite.newGateway(func(c *alpaca.Config) { c.DisableRateLimit = false })

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
	suite.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = gateway.Do(ctx, alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
	suite.True(errors.HasCode(err, errors.ErrCodeRateLimitAborted))
	suite.Len(suite.server.Requests(), 1)
}

func (suite *GatewayTestSuite) TestUnreachableHost() {
	gateway := suite.newGateway(func(c *alpaca.Config) {
		c.PaperTradingURL = "http://127.0.0.1:1/v2"
		c.RequestTimeout = time.Second
	})

	_, err := gateway.Do(context.Background(), alpaca.Request{Host: alpaca.HostAccount, Endpoint: "clock"})
	suite.True(errors.HasCode(err, errors.ErrCodeRequestFailed))
}
