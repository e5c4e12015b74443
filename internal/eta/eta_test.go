package eta

import (
	"testing"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

func TestCacheHitAndExpiry(t *testing.T) {
	a := models.LatLng{Latitude: 37.42, Longitude: -122.08}
	b := models.LatLng{Latitude: 37.44, Longitude: -122.14}

	c := NewCache(time.Hour)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("hit on empty cache")
	}
	c.Set(a, b, 120)
	v, ok := c.Get(a, b)
	if !ok || v != 120 {
		t.Fatalf("got %v, %t; want 120, true", v, ok)
	}
	// Direction matters.
	if _, ok := c.Get(b, a); ok {
		t.Error("reverse direction served from cache")
	}

	expired := NewCache(time.Nanosecond)
	expired.Set(a, b, 120)
	time.Sleep(time.Millisecond)
	if _, ok := expired.Get(a, b); ok {
		t.Error("expired entry served")
	}
}

func TestEstimateSecondsScalesWithSpeed(t *testing.T) {
	a := models.LatLng{Latitude: 37.42, Longitude: -122.08}
	b := models.LatLng{Latitude: 37.44, Longitude: -122.14}

	slow := EstimateSeconds(a, b, 5)
	fast := EstimateSeconds(a, b, 10)
	if slow <= 0 || fast <= 0 {
		t.Fatalf("non-positive estimates: %v %v", slow, fast)
	}
	if slow <= fast {
		t.Errorf("slower speed gave shorter ETA: %v vs %v", slow, fast)
	}

	if same := EstimateSeconds(a, a, 10); same != 0 {
		t.Errorf("zero-distance ETA = %v", same)
	}
}
