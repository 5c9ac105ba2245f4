package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	httpClient "github.com/Alias1177/VolumeSpike/internal/platform/http"
	"github.com/Alias1177/VolumeSpike/models"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"

	// Granularity is fixed: every bucket width is a multiple of 15 minutes
	Granularity = "M15"
	priceMid    = "M"
)

// zoneless layouts tried after RFC3339Nano, read as UTC
var fallbackLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Client is the OANDA v3 candles client
type Client struct {
	apiKey     string
	accountID  string
	baseURL    string
	httpClient *httpClient.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new OANDA client
type ClientOptions struct {
	APIKey          string
	AccountID       string
	BaseURL         string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetries      int
	MaxRetryTimeout time.Duration
	Now             func() time.Time
}

// NewClient creates a new OANDA API client
func NewClient(options ClientOptions) *Client {
	httpOpts := httpClient.ClientOptions{
		Timeout:         options.RequestTimeout,
		RequestsPerSec:  options.RequestsPerSec,
		MaxRetries:      options.MaxRetries,
		MaxRetryTimeout: options.MaxRetryTimeout,
	}

	if options.BaseURL == "" {
		options.BaseURL = PracticeURL
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Client{
		apiKey:     options.APIKey,
		accountID:  options.AccountID,
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpClient.NewClient(httpOpts),
		now:        options.Now,
		logger:     log.With().Str("component", "oanda_client").Logger(),
	}
}

// GetCandles fetches 15-minute midpoint candles of one instrument in [from, to].
// Both bounds are clamped to now; an empty range returns no candles without a request.
func (c *Client) GetCandles(ctx context.Context, code string, from, to time.Time) ([]models.Candle, error) {
	now := c.now()
	if from.After(now) {
		from = now
	}
	if to.After(now) {
		to = now
	}
	if from.After(to) {
		c.logger.Debug().Str("instrument", code).Msg("Empty time range, skipping request")
		return nil, nil
	}

	params := url.Values{}
	params.Set("granularity", Granularity)
	params.Set("price", priceMid)
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("to", to.UTC().Format(time.RFC3339))

	endpoint := fmt.Sprintf(
		"%s/v3/accounts/%s/instruments/%s/candles?%s",
		c.baseURL,
		url.PathEscape(c.accountID),
		url.PathEscape(code),
		params.Encode(),
	)

	c.logger.Debug().
		Str("instrument", code).
		Time("from", from).
		Time("to", to).
		Msg("Fetching candles")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s candles: %w", code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var data models.OandaCandlesResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	candles := make([]models.Candle, 0, len(data.Candles))
	for _, raw := range data.Candles {
		ts, err := ParseTime(raw.Time)
		if err != nil {
			c.logger.Warn().Err(err).Str("instrument", code).Str("time", raw.Time).Msg("Skipping candle with bad timestamp")
			continue
		}

		candle := models.Candle{Time: ts, Volume: raw.Volume, Complete: raw.Complete}
		if err := parsePrices(&candle, raw.Mid.O, raw.Mid.H, raw.Mid.L, raw.Mid.C); err != nil {
			c.logger.Warn().Err(err).Str("instrument", code).Str("time", raw.Time).Msg("Skipping candle with bad prices")
			continue
		}
		if candle.Volume < 0 {
			c.logger.Warn().Str("instrument", code).Int64("volume", raw.Volume).Msg("Skipping candle with negative volume")
			continue
		}

		candles = append(candles, candle)
	}

	// Oldest first
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	c.logger.Debug().Str("instrument", code).Int("count", len(candles)).Msg("Fetched candles")
	return candles, nil
}

// ParseTime parses a provider timestamp: RFC3339 with optional fraction,
// the same without a zone (UTC), or UNIX seconds with a fraction.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	if secs, err := decimal.NewFromString(value); err == nil {
		whole := secs.IntPart()
		nanos := secs.Sub(decimal.NewFromInt(whole)).Shift(9).IntPart()
		return time.Unix(whole, nanos).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func parsePrices(c *models.Candle, o, h, l, cl string) error {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", o, &c.Open},
		{"high", h, &c.High},
		{"low", l, &c.Low},
		{"close", cl, &c.Close},
	}

	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("%s price %s: %w", f.name, strconv.Quote(f.raw), err)
		}
		*f.dst = v
	}
	return nil
}
