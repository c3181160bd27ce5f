// Package location resolves a best-effort human-readable position for SOS
// alerts.
package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Unavailable is reported whenever no position can be determined.
const Unavailable = "Location unavailable"

var ErrUnavailable = errors.New("location unavailable")

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Format renders coordinates as "<lat>, <lon>".
func Format(c Coordinates) string {
	return fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
}

type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// Describe asks the locator once and formats the answer, substituting
// Unavailable on any failure. A nil locator is always unavailable.
func Describe(ctx context.Context, l Locator) string {
	if l == nil {
		return Unavailable
	}
	c, err := l.Locate(ctx)
	if err != nil {
		slog.Warn("location: lookup failed", "error", err)
		return Unavailable
	}
	return Format(c)
}

// Static always reports the configured coordinates.
type Static struct {
	Coordinates Coordinates
}

func (s Static) Locate(context.Context) (Coordinates, error) {
	return s.Coordinates, nil
}

// IPLocator queries an IP geolocation service that answers with a JSON body
// carrying "lat" and "lon" (ip-api.com style) or "latitude" and "longitude".
type IPLocator struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewIPLocator(url string, timeout time.Duration) *IPLocator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &IPLocator{url: url, client: &http.Client{}, timeout: timeout}
}

func (l *IPLocator) Locate(ctx context.Context) (Coordinates, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("build location request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("location request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Coordinates{}, fmt.Errorf("read location response: %w", err)
	}
	return parseCoordinates(body)
}

func parseCoordinates(body []byte) (Coordinates, error) {
	if !gjson.ValidBytes(body) {
		return Coordinates{}, fmt.Errorf("%w: invalid json", ErrUnavailable)
	}
	doc := gjson.ParseBytes(body)
	if status := doc.Get("status"); status.Exists() && status.String() != "success" {
		return Coordinates{}, fmt.Errorf("%w: lookup status %q", ErrUnavailable, status.String())
	}

	lat := firstNumber(doc, "lat", "latitude")
	lon := firstNumber(doc, "lon", "longitude")
	if !lat.Exists() || !lon.Exists() {
		return Coordinates{}, fmt.Errorf("%w: response has no coordinates", ErrUnavailable)
	}

	c := Coordinates{Latitude: lat.Float(), Longitude: lon.Float()}
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return Coordinates{}, fmt.Errorf("%w: coordinates out of range", ErrUnavailable)
	}
	return c, nil
}

func firstNumber(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.Number {
			return v
		}
	}
	return gjson.Result{}
}
