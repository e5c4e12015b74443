package models

// LatLng is a WGS-84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TerminalLocation is a pickup, dropoff or intermediate destination.
// A nil Point means the location has not been chosen yet.
type TerminalLocation struct {
	Point         *LatLng
	Label         string
	Description   string
	PlaceID       string
	GeneratedID   string
	AccessPointID string
}

// LocationAt returns a TerminalLocation with only a point set.
func LocationAt(lat, lng float64) TerminalLocation {
	return TerminalLocation{Point: &LatLng{Latitude: lat, Longitude: lng}}
}

// WirePoint returns the coordinates sent to the provider backend.
// The provider expects (0,0) as the placeholder for an unset location,
// so the substitution happens here rather than rejecting the location.
func (l TerminalLocation) WirePoint() LatLng {
	if l.Point == nil {
		return LatLng{}
	}
	return *l.Point
}

// Set reports whether the location has coordinates.
func (l TerminalLocation) Set() bool { return l.Point != nil }

// TripStatus is the provider's trip lifecycle status.
type TripStatus string

const (
	TripStatusUnknown                          TripStatus = "UNKNOWN"
	TripStatusNew                              TripStatus = "NEW"
	TripStatusEnrouteToPickup                  TripStatus = "ENROUTE_TO_PICKUP"
	TripStatusArrivedAtPickup                  TripStatus = "ARRIVED_AT_PICKUP"
	TripStatusEnrouteToIntermediateDestination TripStatus = "ENROUTE_TO_INTERMEDIATE_DESTINATION"
	TripStatusArrivedAtIntermediateDestination TripStatus = "ARRIVED_AT_INTERMEDIATE_DESTINATION"
	TripStatusEnrouteToDropoff                 TripStatus = "ENROUTE_TO_DROPOFF"
	TripStatusComplete                         TripStatus = "COMPLETE"
	TripStatusCanceled                         TripStatus = "CANCELED"
)

// ParseTripStatus maps a wire string onto a TripStatus. Strings the
// client does not know collapse to TripStatusUnknown instead of
// failing, so a newer backend cannot break older clients.
func ParseTripStatus(s string) TripStatus {
	switch TripStatus(s) {
	case TripStatusNew, TripStatusEnrouteToPickup, TripStatusArrivedAtPickup,
		TripStatusEnrouteToIntermediateDestination, TripStatusArrivedAtIntermediateDestination,
		TripStatusEnrouteToDropoff, TripStatusComplete, TripStatusCanceled:
		return TripStatus(s)
	}
	return TripStatusUnknown
}

// Terminal reports whether the status ends the trip lifecycle.
func (s TripStatus) Terminal() bool {
	return s == TripStatusComplete || s == TripStatusCanceled
}

// WaypointType classifies a trip waypoint.
type WaypointType int

const (
	WaypointTypeUnknown WaypointType = iota
	WaypointTypePickup
	WaypointTypeIntermediateDestination
	WaypointTypeDropoff
)

// Waypoint type wire strings used by the provider backend.
const (
	WirePickupWaypoint                  = "PICKUP_WAYPOINT_TYPE"
	WireDropoffWaypoint                 = "DROP_OFF_WAYPOINT_TYPE"
	WireIntermediateDestinationWaypoint = "INTERMEDIATE_DESTINATION_WAYPOINT_TYPE"
)

// ParseWaypointType maps a wire string onto a WaypointType. Unknown
// strings map to WaypointTypeUnknown.
func ParseWaypointType(s string) WaypointType {
	switch s {
	case WirePickupWaypoint:
		return WaypointTypePickup
	case WireDropoffWaypoint:
		return WaypointTypeDropoff
	case WireIntermediateDestinationWaypoint:
		return WaypointTypeIntermediateDestination
	}
	return WaypointTypeUnknown
}

// WireString returns the provider wire string for the type, or "" for
// WaypointTypeUnknown.
func (t WaypointType) WireString() string {
	switch t {
	case WaypointTypePickup:
		return WirePickupWaypoint
	case WaypointTypeDropoff:
		return WireDropoffWaypoint
	case WaypointTypeIntermediateDestination:
		return WireIntermediateDestinationWaypoint
	}
	return ""
}

func (t WaypointType) String() string {
	switch t {
	case WaypointTypePickup:
		return "pickup"
	case WaypointTypeDropoff:
		return "dropoff"
	case WaypointTypeIntermediateDestination:
		return "intermediate_destination"
	}
	return "unknown"
}

// TripWaypoint is one stop of a trip's ordered route. The first
// waypoint of a queue is always the current navigation target.
type TripWaypoint struct {
	Location                 TerminalLocation
	TripID                   string
	Type                     WaypointType
	DistanceToPreviousMeters float64
	ETASeconds               float64
}
