// Package locationselection snaps a user-chosen pickup to the nearest
// operationally valid pickup point via the Location Selection API.
package locationselection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

const findPickupPointsPath = "/v1beta:findPickupPointsForLocation"

const apiKeyHeader = "X-Goog-Api-Key"

var (
	// ErrMissingResponseData means the response body could not be
	// parsed as a JSON object. Callers treat this as retryable.
	ErrMissingResponseData = errors.New("location selection: missing response data")

	// ErrMissingExpectedFields means the response parsed but the
	// nested pickup-point result path was absent. Callers fall back
	// to manual pickup selection.
	ErrMissingExpectedFields = errors.New("location selection: expected fields not found")
)

// PickupPoint is a snapped pickup location and the walking distance
// from the searched location.
type PickupPoint struct {
	LatLng                models.LatLng
	WalkingDistanceMeters float64
}

// Client calls the location-selection service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// Localization sent with every lookup.
	LanguageCode string
	RegionCode   string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		LanguageCode: "en-US",
		RegionCode:   "US",
	}
}

type findRequest struct {
	SearchLocation          models.LatLng `json:"search_location"`
	LocalizationPreferences localization  `json:"localization_preferences"`
	MaxResults              int           `json:"max_results"`
	OrderBy                 string        `json:"order_by"`
	TravelModes             string        `json:"travel_modes"`
	ComputeWalkingEta       bool          `json:"compute_walking_eta"`
}

type localization struct {
	LanguageCode string `json:"language_code"`
	RegionCode   string `json:"region_code"`
}

// FindPickupPoint returns the single pickup point with the lowest
// walking ETA from searchLocation.
func (c *Client) FindPickupPoint(ctx context.Context, searchLocation models.TerminalLocation) (PickupPoint, error) {
	payload := findRequest{
		SearchLocation:          searchLocation.WirePoint(),
		LocalizationPreferences: localization{LanguageCode: c.LanguageCode, RegionCode: c.RegionCode},
		MaxResults:              1,
		OrderBy:                 "WALKING_ETA_FROM_SEARCH_LOCATION",
		TravelModes:             "WALKING",
		ComputeWalkingEta:       true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PickupPoint{}, fmt.Errorf("location selection: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+findPickupPointsPath, bytes.NewReader(body))
	if err != nil {
		return PickupPoint{}, fmt.Errorf("location selection: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return PickupPoint{}, fmt.Errorf("location selection: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return PickupPoint{}, fmt.Errorf("location selection: read response: %w", err)
	}

	// The body must at least be a JSON object; anything else is
	// MissingResponseData (retryable). A parseable object without the
	// expected nested result path is MissingExpectedFields, which the
	// caller maps to manual pickup selection.
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return PickupPoint{}, ErrMissingResponseData
	}
	return parsePickupPoint(parsed)
}

func parsePickupPoint(parsed map[string]any) (PickupPoint, error) {
	results, ok := parsed["placePickupPointResults"].([]any)
	if !ok || len(results) == 0 {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	result, ok := first["pickupPointResult"].(map[string]any)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	pickupPoint, ok := result["pickupPoint"].(map[string]any)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	location, ok := pickupPoint["location"].(map[string]any)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	latitude, ok := location["latitude"].(float64)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	longitude, ok := location["longitude"].(float64)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	distanceMeters, ok := result["distanceMeters"].(float64)
	if !ok {
		return PickupPoint{}, ErrMissingExpectedFields
	}
	return PickupPoint{
		LatLng:                models.LatLng{Latitude: latitude, Longitude: longitude},
		WalkingDistanceMeters: distanceMeters,
	}, nil
}
