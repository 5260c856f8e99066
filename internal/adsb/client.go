package adsb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/ridscan/pkg/logger"
)

// DefaultBaseURL is the public point-query API used when none is configured
const DefaultBaseURL = "https://api.airplanes.live"

const maxBodyBytes = 8 << 20

// ErrBodyTooLarge is wrapped by the NetworkError returned for an oversized response
var ErrBodyTooLarge = errors.New("response body too large")

// NetworkError reports a failed request: transport failure, timeout or a non-200
// response. StatusCode is 0 when no response was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client queries the upstream flight-data API for aircraft around a point
type Client struct {
	httpClient *http.Client
	baseURL    string
	radiusNM   float64
	maxBody    int64
	logger     *logger.Logger
}

// NewClient creates a new point-query client. timeout bounds every request.
func NewClient(baseURL string, radiusNM float64, timeout time.Duration, loggerObj *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		radiusNM: radiusNM,
		maxBody:  maxBodyBytes,
		logger:   loggerObj.Named("adsb-cli"),
	}
}

// PointURL builds the query URL for a position
func (c *Client) PointURL(lat, lon float64) string {
	return fmt.Sprintf("%s/v2/point/%.4f/%.4f/%s",
		c.baseURL, lat, lon, strconv.FormatFloat(c.radiusNM, 'f', -1, 64))
}

// FetchPoint performs one GET for the given position and returns the raw body
func (c *Client) FetchPoint(ctx context.Context, lat, lon float64) ([]byte, error) {
	urlStr := c.PointURL(lat, lon)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching nearby aircraft", logger.String("url", urlStr))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to execute request", logger.Error(err), logger.String("url", urlStr))
		return nil, &NetworkError{URL: urlStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Unexpected status code",
			logger.Int("status_code", resp.StatusCode),
			logger.String("url", urlStr))
		return nil, &NetworkError{URL: urlStr, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
	}

	// One byte past the limit tells an oversized body from one that fits exactly
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.logger.Error("Failed to read response body", logger.Error(err))
		return nil, &NetworkError{URL: urlStr, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		c.logger.Error("Response body too large",
			logger.Int64("limit", c.maxBody),
			logger.String("url", urlStr))
		return nil, &NetworkError{URL: urlStr, Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBody)}
	}

	bodyPreview := string(body)
	if len(bodyPreview) > excerptLen {
		bodyPreview = bodyPreview[:excerptLen] + "..."
	}
	c.logger.Debug("Response body preview", logger.String("body", bodyPreview))

	return body, nil
}
