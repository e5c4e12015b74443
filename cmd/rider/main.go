// rider is a console stand-in for the rider app: pick a pickup and
// dropoff, book the trip and watch its status stream by.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/example/ridehail-demo/internal/auth"
	"github.com/example/ridehail-demo/internal/config"
	"github.com/example/ridehail-demo/internal/consumer"
	"github.com/example/ridehail-demo/internal/locationselection"
	"github.com/example/ridehail-demo/internal/logging"
	"github.com/example/ridehail-demo/internal/models"
	"github.com/example/ridehail-demo/internal/provider"
	"github.com/example/ridehail-demo/internal/tripmonitor"
)

func main() {
	cfg, err := config.LoadRiderConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewConsoleLogger(cfg.LogLevel, os.Stderr)

	client := provider.NewClient(cfg.ProviderBaseURL)
	client.HTTPClient.Timeout = cfg.HTTPTimeout
	monitor := tripmonitor.New(cfg.ProviderBaseURL, logger)
	tokens := auth.NewProvider(cfg.ProviderBaseURL)

	session := consumer.NewSession(client, monitor, logger)
	if cfg.LocationSelectionAPIKey != "" {
		session.PickupPoints = locationselection.NewClient(cfg.LocationSelectionBaseURL, cfg.LocationSelectionAPIKey)
	} else {
		logger.Info("no location-selection API key, pickup points disabled")
	}

	ctx := context.Background()
	session.OnEvent = func(ev consumer.Event) {
		line := "state: " + ev.State.String()
		if ev.TripID != "" {
			line += " trip=" + ev.TripID
		}
		if ev.TripStatus != "" && ev.TripStatus != models.TripStatusUnknown {
			line += " status=" + string(ev.TripStatus)
		}
		if ev.Message != "" {
			line += " (" + ev.Message + ")"
		}
		fmt.Println(line)

		if ev.State == consumer.StateJourneySharing && ev.TripID != "" {
			if tok, err := tokens.ConsumerToken(ctx, ev.TripID); err != nil {
				logger.Warn("consumer token fetch failed", "trip_id", ev.TripID, "error", err)
			} else {
				logger.Info("consumer token issued", "trip_id", ev.TripID, "expires_at", tok.ExpiresAt)
			}
		}
	}

	fmt.Println("commands: ride | pickup <lat> <lng> | dropoff <lat> <lng> | confirm | add | cancel | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "ride":
			err = session.RequestRide()
		case "pickup":
			err = setLocation(fields, session.SetPickup)
		case "dropoff":
			err = setLocation(fields, session.SetDropoff)
		case "confirm":
			err = confirm(ctx, session)
		case "add":
			err = session.AddIntermediateDestination()
		case "cancel":
			err = session.Cancel(ctx)
		case "status":
			fmt.Printf("state=%s trip=%s status=%s\n", session.State(), session.TripID(), session.TripStatus())
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

// confirm advances whichever selection step the session is on, the way
// a single confirm button would.
func confirm(ctx context.Context, session *consumer.Session) error {
	switch session.State() {
	case consumer.StateSelectingPickup:
		return session.ConfirmPickup(ctx)
	case consumer.StateConfirmingPickupPoint:
		point := session.SuggestedPickupPoint()
		fmt.Printf("pickup point %.5f,%.5f (%.0f m walk)\n",
			point.LatLng.Latitude, point.LatLng.Longitude, point.WalkingDistanceMeters)
		return session.ConfirmPickupPoint()
	case consumer.StateSelectingDropoff:
		return session.ConfirmDropoff()
	case consumer.StateTripPreview:
		return session.ConfirmTripPreview(ctx)
	default:
		return fmt.Errorf("nothing to confirm in state %s", session.State())
	}
}

func setLocation(fields []string, set func(models.TerminalLocation)) error {
	if len(fields) != 3 {
		return fmt.Errorf("usage: %s <lat> <lng>", fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("bad latitude %q", fields[1])
	}
	lng, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("bad longitude %q", fields[2])
	}
	set(models.LocationAt(lat, lng))
	return nil
}
