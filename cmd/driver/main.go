// driver is a console stand-in for the driver app: register a vehicle,
// wait for a match and step through the trip with a single button.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/ridehail-demo/internal/auth"
	"github.com/example/ridehail-demo/internal/config"
	"github.com/example/ridehail-demo/internal/driver"
	"github.com/example/ridehail-demo/internal/logging"
	"github.com/example/ridehail-demo/internal/models"
	"github.com/example/ridehail-demo/internal/provider"
)

func main() {
	cfg, err := config.LoadDriverConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewConsoleLogger(cfg.LogLevel, os.Stderr)

	client := provider.NewClient(cfg.ProviderBaseURL)
	client.HTTPClient.Timeout = cfg.HTTPTimeout
	tokens := auth.NewProvider(cfg.ProviderBaseURL)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)

	vehicleID := fmt.Sprintf("%s-%d", cfg.VehicleIDPrefix, time.Now().Unix())
	vehicleID, ok := createVehicle(ctx, client, scanner, vehicleID, cfg.BackToBackEnabled)
	if !ok {
		return
	}
	fmt.Println("vehicle registered:", vehicleID)

	if tok, err := tokens.DriverToken(ctx, vehicleID); err != nil {
		logger.Warn("driver token fetch failed", "vehicle_id", vehicleID, "error", err)
	} else {
		logger.Info("driver token issued", "vehicle_id", vehicleID, "expires_at", tok.ExpiresAt)
	}

	session := driver.NewSession(client, vehicleID, cfg.BackToBackEnabled, logger)
	session.SetPollInterval(cfg.PollInterval)
	session.OnEvent = func(ev driver.Event) {
		line := "state: " + ev.State.String()
		if ev.CurrentTripID != "" {
			line += " trip=" + ev.CurrentTripID
		}
		if ev.NextTripID != "" {
			line += " next=" + ev.NextTripID
		}
		fmt.Println(line)
	}

	session.GoOnline(ctx)
	defer session.Stop()
	fmt.Println("waiting for trips; commands: go | status | quit")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "go", "arrived":
			if err := session.TapControlButton(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "status":
			printStatus(session)
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

// createVehicle registers the vehicle, prompting to retry on failure
// the way the sample app re-offers its creation dialog.
func createVehicle(ctx context.Context, client *provider.Client, scanner *bufio.Scanner, vehicleID string, backToBack bool) (string, bool) {
	for {
		id, err := client.CreateVehicle(ctx, vehicleID, backToBack)
		if err == nil {
			return id, true
		}
		fmt.Println("vehicle creation failed:", err)
		fmt.Print("retry? [y/N] ")
		if !scanner.Scan() {
			return "", false
		}
		if answer := strings.ToLower(strings.TrimSpace(scanner.Text())); answer != "y" && answer != "yes" {
			return "", false
		}
	}
}

func printStatus(session *driver.Session) {
	fmt.Printf("state=%s trip=%s next=%s polling=%t\n",
		session.State(), session.CurrentTripID(), session.NextTripID(), session.Polling())
	if wp, ok := session.NextWaypoint(); ok {
		point := wp.Location.WirePoint()
		fmt.Printf("next waypoint: %s at %.5f,%.5f\n", waypointName(wp.Type), point.Latitude, point.Longitude)
	}
}

func waypointName(t models.WaypointType) string {
	switch t {
	case models.WaypointTypePickup:
		return "pickup"
	case models.WaypointTypeIntermediateDestination:
		return "intermediate stop"
	case models.WaypointTypeDropoff:
		return "dropoff"
	default:
		return "unknown"
	}
}
