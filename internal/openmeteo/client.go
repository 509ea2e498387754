// Package openmeteo implements the HTTP client for the Open-Meteo hourly
// APIs. The client speaks to both the forecast endpoint and the archive
// endpoint, selecting per request based on how old the requested window is.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/config"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/objectstore"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/exception"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/timeslot"
)

const moduleName = "openmeteo_client"

// hourlyFields is the fixed field set requested for every entity.
const hourlyFields = "temperature_2m,precipitation,wind_speed_10m"

// Client fetches hourly observations from Open-Meteo. Every request carries
// a bounded timeout and passes through a circuit breaker so a degraded
// provider trips fast instead of burning the whole batch budget.
type Client struct {
	forecastURL   string
	archiveURL    string
	apiKey        string
	archiveCutoff time.Duration
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
	now           func() time.Time
}

// NewClient creates a Client from the provider configuration.
func NewClient(cfg config.ProviderConfig) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		forecastURL:   cfg.ForecastEndpoint,
		archiveURL:    cfg.ArchiveEndpoint,
		apiKey:        cfg.APIKey,
		archiveCutoff: time.Duration(cfg.ArchiveCutoffHours) * time.Hour,
		httpClient:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		breaker:       cb,
		now:           time.Now,
	}
}

// FetchHourly requests the hourly arrays for one coordinate pair over the
// given window. The provider is queried by calendar date, so the response
// may cover more slots than the window. Callers must filter against their
// own slot list rather than trust the response span.
func (c *Client) FetchHourly(ctx context.Context, latitude, longitude float64, window timeslot.Window) (*objectstore.Payload, error) {
	endpoint := c.forecastURL
	if c.archiveCutoff > 0 && window.End.Before(c.now().Add(-c.archiveCutoff)) {
		endpoint = c.archiveURL
	}

	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", latitude))
	params.Set("longitude", fmt.Sprintf("%.4f", longitude))
	params.Set("hourly", hourlyFields)
	params.Set("timezone", "UTC")
	params.Set("start_date", window.Start.Format("2006-01-02"))
	// end_date is inclusive; the last slot of the half-open window is End-1h.
	params.Set("end_date", window.End.Add(-time.Hour).Format("2006-01-02"))
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	reqURL := endpoint + "?" + params.Encode()
	logger.Debugf("Fetching hourly data: %s window %s", endpoint, window)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, reqURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, exception.NewETLError(moduleName, "provider circuit breaker is open", err, true)
		}
		return nil, err
	}
	return result.(*objectstore.Payload), nil
}

func (c *Client) doRequest(ctx context.Context, reqURL string) (*objectstore.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, exception.NewETLError(moduleName, "failed to create provider request", err, false)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, exception.NewETLError(moduleName, "provider request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		isRetryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, exception.NewETLError(moduleName,
			fmt.Sprintf("provider returned status %d: %s", resp.StatusCode, bodyString),
			errors.New(bodyString), isRetryable)
	}

	var payload objectstore.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, exception.NewETLError(moduleName, "failed to decode provider response", err, false)
	}
	logger.Debugf("Provider returned %d hourly records.", payload.Slots())
	return &payload, nil
}
