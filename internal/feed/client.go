package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chokli/nifty-backtest/internal/models"
)

// timestampLayouts lists the datetime formats observed in store blobs.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ObjectStoreClient fetches per-day JSON blobs over HTTP. Blobs live at
// {baseURL}/{prefix}/{date}.json with one prefix for option candles and one
// for the spot series.
type ObjectStoreClient struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	optionsPrefix string
	spotPrefix    string
	logger        *logrus.Logger
}

// ClientOptions configures an ObjectStoreClient.
type ClientOptions struct {
	BaseURL       string
	APIKey        string
	OptionsPrefix string
	SpotPrefix    string
	Timeout       time.Duration
	HTTPClient    *http.Client // optional, for tests
}

// Ensure ObjectStoreClient implements Provider at compile time.
var _ Provider = (*ObjectStoreClient)(nil)

// NewObjectStoreClient creates a store client with the given options.
func NewObjectStoreClient(opts ClientOptions, logger *logrus.Logger) *ObjectStoreClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ObjectStoreClient{
		client:        httpClient,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		optionsPrefix: opts.OptionsPrefix,
		spotPrefix:    opts.SpotPrefix,
		logger:        logger,
	}
}

// OptionChain fetches and flattens the option blob for a date.
func (c *ObjectStoreClient) OptionChain(ctx context.Context, date string) ([]models.OptionRecord, error) {
	body, err := c.getBlob(ctx, c.optionsPrefix, date)
	if err != nil {
		return nil, err
	}

	var wire []optionWireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &MalformedRecordError{Date: date, Index: -1, Reason: err.Error()}
	}

	records := make([]models.OptionRecord, 0, len(wire))
	for i, w := range wire {
		rec, err := w.flatten(date, i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	c.logger.WithFields(logrus.Fields{"date": date, "rows": len(records)}).
		Debug("fetched option chain")
	return records, nil
}

// SpotSeries fetches the spot OHLC blob for a date.
func (c *ObjectStoreClient) SpotSeries(ctx context.Context, date string) ([]models.Candle, error) {
	body, err := c.getBlob(ctx, c.spotPrefix, date)
	if err != nil {
		return nil, err
	}

	var wire []wireCandle
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &MalformedRecordError{Date: date, Index: -1, Reason: err.Error()}
	}

	candles := make([]models.Candle, 0, len(wire))
	for i, w := range wire {
		candle, err := w.toCandle(date, i)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	c.logger.WithFields(logrus.Fields{"date": date, "rows": len(candles)}).
		Debug("fetched spot series")
	return candles, nil
}

func (c *ObjectStoreClient) getBlob(ctx context.Context, prefix, date string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/%s.json", c.baseURL, url.PathEscape(prefix), url.PathEscape(date))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", prefix, date, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrDataUnavailable, prefix, date)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s body: %w", prefix, date, err)
	}
	return body, nil
}

// optionWireRecord mirrors the option blob's shape. Pointer fields distinguish
// absent values from zeroes so missing data surfaces as MalformedRecordError
// instead of a silent zero price.
type optionWireRecord struct {
	Date       string      `json:"date"`
	Strike     *int        `json:"strike"`
	ATM        float64     `json:"atm"`
	Right      string      `json:"right"`
	Expiry     string      `json:"expiry"`
	OptionData *wireCandle `json:"option_data"`
}

type wireCandle struct {
	Datetime string   `json:"datetime"`
	Open     *float64 `json:"open"`
	High     *float64 `json:"high"`
	Low      *float64 `json:"low"`
	Close    *float64 `json:"close"`
}

func (w optionWireRecord) flatten(date string, index int) (models.OptionRecord, error) {
	if w.Strike == nil {
		return models.OptionRecord{}, &MalformedRecordError{Date: date, Index: index, Reason: "missing strike"}
	}
	right, err := models.ParseRight(w.Right)
	if err != nil {
		return models.OptionRecord{}, &MalformedRecordError{Date: date, Index: index, Reason: err.Error()}
	}
	if w.OptionData == nil {
		return models.OptionRecord{}, &MalformedRecordError{Date: date, Index: index, Reason: "missing option_data"}
	}
	candle, err := w.OptionData.toCandle(date, index)
	if err != nil {
		return models.OptionRecord{}, err
	}
	return models.OptionRecord{
		Date:   w.Date,
		Strike: *w.Strike,
		ATM:    w.ATM,
		Right:  right,
		Expiry: w.Expiry,
		Candle: candle,
	}, nil
}

func (w wireCandle) toCandle(date string, index int) (models.Candle, error) {
	if w.Open == nil || w.High == nil || w.Low == nil || w.Close == nil {
		return models.Candle{}, &MalformedRecordError{Date: date, Index: index, Reason: "missing OHLC field"}
	}
	ts, err := parseTimestamp(w.Datetime)
	if err != nil {
		return models.Candle{}, &MalformedRecordError{Date: date, Index: index, Reason: err.Error()}
	}
	return models.Candle{
		Time:  ts,
		Open:  *w.Open,
		High:  *w.High,
		Low:   *w.Low,
		Close: *w.Close,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing datetime")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", s)
}
