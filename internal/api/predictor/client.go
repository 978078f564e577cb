// Package predictor calls the externally hosted next-day-high inference
// services. The services are opaque HTTP endpoints: the dashboard only
// builds the request and reads the predicted value back.
package predictor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
	httpClient "github.com/Alias1177/CoinDash/internal/platform/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mode selects how the request is built.
type Mode string

const (
	// ModeLive sends no inputs; the service pulls live data itself.
	ModeLive Mode = "live"
	// ModeFeatures sends a flat feature map as query parameters.
	ModeFeatures Mode = "features"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive, "":
		return ModeLive, nil
	case ModeFeatures:
		return ModeFeatures, nil
	}
	return "", fmt.Errorf("%w: unknown prediction mode %q", market.ErrValidation, s)
}

// ValueFields are the response fields known to carry the predicted value.
var ValueFields = []string{
	"predicted_high_next_day",
	"predicted_tomorrow_high",
	"predicted_next_day_high",
	"yhat",
	"prediction",
}

// RetryStatuses are the statuses a sleeping or restarting service answers with.
var RetryStatuses = []int{
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	524, // origin timeout behind a proxy
}

// Endpoint describes one coin's inference service.
type Endpoint struct {
	Symbol string
	URL    string
	Mode   Mode
	// ValueField is tried before ValueFields.
	ValueField string
}

// Prediction is one answer of an inference service.
type Prediction struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
	// Field is the response field the value was read from.
	Field         string         `json:"field"`
	AsOf          *time.Time     `json:"as_of,omitempty"`
	ModelVersion  string         `json:"model_version,omitempty"`
	PredictedDate string         `json:"predicted_date,omitempty"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	// Sent holds the features of a features-mode request.
	Sent        map[string]float64 `json:"sent,omitempty"`
	RequestedAt time.Time          `json:"requested_at"`
	Took        time.Duration      `json:"took"`
}

// Client calls one inference endpoint.
type Client struct {
	endpoint   Endpoint
	httpClient *httpClient.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Client. Cold-starting
// services may need long timeouts and many retries.
type ClientOptions struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// NewClient creates a client for endpoint.
func NewClient(endpoint Endpoint, options ClientOptions) *Client {
	if endpoint.Mode == "" {
		endpoint.Mode = ModeLive
	}
	endpoint.Symbol = market.NormalizeSymbol(endpoint.Symbol)
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Client{
		endpoint: endpoint,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Name:           "predict_" + strings.ToLower(endpoint.Symbol),
			Timeout:        options.Timeout,
			RequestsPerSec: 2,
			MaxRetries:     options.MaxRetries,
			RetryDelay:     options.RetryDelay,
			MaxRetryDelay:  options.MaxRetryDelay,
			RetryStatuses:  RetryStatuses,
		}),
		now:    options.Now,
		logger: log.With().Str("component", "predictor").Str("symbol", endpoint.Symbol).Logger(),
	}
}

// Endpoint returns the endpoint the client calls.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Predict requests a prediction. Live endpoints ignore features; features
// endpoints require a non-empty map of finite values.
func (c *Client) Predict(ctx context.Context, features map[string]float64) (*Prediction, error) {
	var params url.Values
	var sent map[string]float64

	if c.endpoint.Mode == ModeFeatures {
		if len(features) == 0 {
			return nil, fmt.Errorf("%w: %s prediction needs input features", market.ErrValidation, c.endpoint.Symbol)
		}
		var err error
		params, err = EncodeFeatures(features)
		if err != nil {
			return nil, err
		}
		sent = make(map[string]float64, len(features))
		for k, v := range features {
			sent[k] = v
		}
	}

	started := c.now()
	c.logger.Debug().Str("url", c.endpoint.URL).Str("mode", string(c.endpoint.Mode)).Msg("Requesting prediction")

	var body map[string]any
	if err := c.httpClient.GetJSON(ctx, c.endpoint.URL, params, &body); err != nil {
		c.logger.Warn().Err(err).Msg("Prediction request failed")
		return nil, fmt.Errorf("%w: %s: %w", market.ErrPredictionUnavailable, c.endpoint.Symbol, err)
	}

	pred, err := c.parse(body)
	if err != nil {
		return nil, err
	}
	pred.Sent = sent
	pred.RequestedAt = started.UTC()
	pred.Took = c.now().Sub(started)

	c.logger.Info().Float64("value", pred.Value).Str("field", pred.Field).Dur("took", pred.Took).Msg("Prediction received")
	return pred, nil
}

func (c *Client) parse(body map[string]any) (*Prediction, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: %s: empty response", market.ErrPredictionUnavailable, c.endpoint.Symbol)
	}

	fields := ValueFields
	if c.endpoint.ValueField != "" {
		fields = append([]string{c.endpoint.ValueField}, ValueFields...)
	}

	pred := &Prediction{Symbol: c.endpoint.Symbol}
	found := false
	for _, f := range fields {
		if v, ok := market.ParseFloat(body[f]); ok {
			pred.Value = v
			pred.Field = f
			found = true
			break
		}
	}
	if !found {
		detail := ""
		if d, ok := body["detail"]; ok {
			detail = fmt.Sprintf(" (detail: %v)", d)
		}
		return nil, fmt.Errorf("%w: %s: response has no predicted value%s", market.ErrPredictionUnavailable, c.endpoint.Symbol, detail)
	}

	if ts, ok := market.ParseTime(body["as_of"]); ok {
		pred.AsOf = &ts
	}
	if s, ok := body["model_version"].(string); ok {
		pred.ModelVersion = s
	}
	if s, ok := body["predicted_date"].(string); ok {
		pred.PredictedDate = s
	}
	if m, ok := body["inputs_used"].(map[string]any); ok {
		pred.Inputs = m
	}
	return pred, nil
}

// EncodeFeatures renders a feature map as query parameters. Every value must
// be finite.
func EncodeFeatures(features map[string]float64) (url.Values, error) {
	params := url.Values{}
	var bad []string
	for k, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, k)
			continue
		}
		params.Set(k, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("%w: non-finite feature value(s): %s", market.ErrValidation, strings.Join(bad, ", "))
	}
	return params, nil
}
