// Package provider holds the typed REST client for the provider
// backend: the ride-hailing operator's own server fronting the fleet
// management platform.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

const contentTypeJSON = "application/json"

// Client issues trip and vehicle calls against a provider backend.
// All endpoints are relative to BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type createTripRequest struct {
	Pickup                   models.LatLng   `json:"pickup"`
	Dropoff                  models.LatLng   `json:"dropoff"`
	IntermediateDestinations []models.LatLng `json:"intermediateDestinations"`
}

// CreateTrip creates an exclusive trip and returns the trip ID. The
// provider's `name` field is used verbatim; unlike vehicle names it
// carries no providers/... qualifier.
func (c *Client) CreateTrip(ctx context.Context, pickup, dropoff models.TerminalLocation, intermediateDestinations []models.TerminalLocation) (string, error) {
	const op = "createTrip"
	payload := createTripRequest{
		Pickup:                   pickup.WirePoint(),
		Dropoff:                  dropoff.WirePoint(),
		IntermediateDestinations: make([]models.LatLng, 0, len(intermediateDestinations)),
	}
	for _, dest := range intermediateDestinations {
		payload.IntermediateDestinations = append(payload.IntermediateDestinations, dest.WirePoint())
	}

	var resp struct {
		Name *string `json:"name"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/trip/new", payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == nil {
		return "", &MissingFieldError{Op: op, Field: "name"}
	}
	return *resp.Name, nil
}

// CancelTrip marks the trip CANCELED. The provider's response body is
// not inspected beyond being readable.
func (c *Client) CancelTrip(ctx context.Context, tripID string) error {
	const op = "cancelTrip"
	path, err := idPath("/trip/", tripID)
	if err != nil {
		return err
	}
	payload := map[string]string{"status": string(models.TripStatusCanceled)}
	return c.do(ctx, op, http.MethodPut, path, payload, nil)
}

type createVehicleRequest struct {
	VehicleID         string `json:"vehicleId"`
	BackToBackEnabled bool   `json:"backToBackEnabled"`
}

// CreateVehicle registers a vehicle and returns its ID. The provider
// answers with a fully qualified name of the form
// providers/{providerID}/vehicles/{vehicleID}; the last path segment
// is the ID.
func (c *Client) CreateVehicle(ctx context.Context, vehicleID string, backToBackEnabled bool) (string, error) {
	const op = "createVehicle"
	payload := createVehicleRequest{VehicleID: vehicleID, BackToBackEnabled: backToBackEnabled}

	var resp struct {
		Name *string `json:"name"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/vehicle/new", payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == nil {
		return "", &MissingFieldError{Op: op, Field: "name"}
	}
	segments := strings.Split(*resp.Name, "/")
	id := segments[len(segments)-1]
	if id == "" {
		return "", ErrInvalidVehicleName
	}
	return id, nil
}

// GetVehicle returns the trip IDs currently matched to the vehicle,
// ordered current-then-next. An empty list means no match yet.
func (c *Client) GetVehicle(ctx context.Context, vehicleID string) ([]string, error) {
	const op = "getVehicle"
	path, err := idPath("/vehicle/", vehicleID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CurrentTripsIDs *[]string `json:"currentTripsIds"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.CurrentTripsIDs == nil {
		return nil, &MissingFieldError{Op: op, Field: "currentTripsIds"}
	}
	return *resp.CurrentTripsIDs, nil
}

type wireWaypoint struct {
	Location *struct {
		Point *models.LatLng `json:"point"`
	} `json:"location"`
	WaypointType   *string `json:"waypointType"`
	DistanceMeters float64 `json:"distanceMeters"`
	ETASeconds     float64 `json:"etaSeconds"`
}

// GetTrip returns the trip's status and its ordered waypoints. The
// returned waypoints carry tripID so a mixed waypoint queue (during
// back-to-back handover) stays attributable.
func (c *Client) GetTrip(ctx context.Context, tripID string) (models.TripStatus, []models.TripWaypoint, error) {
	const op = "getTrip"
	path, err := idPath("/trip/", tripID)
	if err != nil {
		return models.TripStatusUnknown, nil, err
	}

	var resp struct {
		Trip *struct {
			TripStatus *string         `json:"tripStatus"`
			Waypoints  *[]wireWaypoint `json:"waypoints"`
		} `json:"trip"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return models.TripStatusUnknown, nil, err
	}
	if resp.Trip == nil {
		return models.TripStatusUnknown, nil, &MissingFieldError{Op: op, Field: "trip"}
	}
	if resp.Trip.TripStatus == nil {
		return models.TripStatusUnknown, nil, &MissingFieldError{Op: op, Field: "trip.tripStatus"}
	}
	if resp.Trip.Waypoints == nil {
		return models.TripStatusUnknown, nil, &MissingFieldError{Op: op, Field: "trip.waypoints"}
	}

	waypoints := make([]models.TripWaypoint, 0, len(*resp.Trip.Waypoints))
	for _, w := range *resp.Trip.Waypoints {
		if w.Location == nil || w.Location.Point == nil {
			return models.TripStatusUnknown, nil, &MissingFieldError{Op: op, Field: "trip.waypoints.location.point"}
		}
		if w.WaypointType == nil {
			return models.TripStatusUnknown, nil, &MissingFieldError{Op: op, Field: "trip.waypoints.waypointType"}
		}
		point := *w.Location.Point
		waypoints = append(waypoints, models.TripWaypoint{
			Location:                 models.TerminalLocation{Point: &point},
			TripID:                   tripID,
			Type:                     models.ParseWaypointType(*w.WaypointType),
			DistanceToPreviousMeters: w.DistanceMeters,
			ETASeconds:               w.ETASeconds,
		})
	}
	return models.ParseTripStatus(*resp.Trip.TripStatus), waypoints, nil
}

type updateTripRequest struct {
	Status                       string `json:"status"`
	IntermediateDestinationIndex *int   `json:"intermediateDestinationIndex,omitempty"`
}

// UpdateTrip moves the trip to status. intermediateDestinationIndex is
// sent only when non-nil; the provider requires it solely for
// ENROUTE_TO_INTERMEDIATE_DESTINATION transitions.
func (c *Client) UpdateTrip(ctx context.Context, tripID string, status models.TripStatus, intermediateDestinationIndex *int) error {
	const op = "updateTrip"
	path, err := idPath("/trip/", tripID)
	if err != nil {
		return err
	}
	payload := updateTripRequest{
		Status:                       string(status),
		IntermediateDestinationIndex: intermediateDestinationIndex,
	}
	return c.do(ctx, op, http.MethodPut, path, payload, nil)
}

// do runs one JSON request. Transport failures, undecodable bodies and
// everything else are reported through the package error taxonomy; the
// HTTP status code is deliberately not inspected, matching the
// provider protocol where errors show up as unparseable bodies.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return &DecodeError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return ErrMissingURL
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// idPath composes a resource path from prefix and an identifier.
func idPath(prefix, id string) (string, error) {
	if id == "" {
		return "", ErrMissingURL
	}
	return prefix + url.PathEscape(id), nil
}
