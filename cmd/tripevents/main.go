// tripevents tails the trip lifecycle topic and keeps per-status
// counters plus the latest state of every trip in Redis.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ridehail-demo/internal/backend"
	"github.com/example/ridehail-demo/internal/config"
	"github.com/example/ridehail-demo/internal/logging"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripevents_consumed_total",
		Help: "Total trip events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripevents_invalid_total",
		Help: "Total undecodable trip events",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripevents_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripevents_redis_errors_total",
		Help: "Total redis update failures after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadTripEventsConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	recorder := &redisRecorder{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		reader.Close()
		rc.Close()
	}()

	logger.Info("consuming trip events",
		"topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		eventsConsumed.Inc()

		var event backend.TripEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			eventsInvalid.Inc()
			logger.Warn("undecodable event", "error", err)
			continue
		}

		if err := recordEventWithRetry(ctx, recorder, event, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Warn("redis update failed", "trip_id", event.TripID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// EventRecorder is the slice of redis the consumer needs, small enough
// to fake in tests.
type EventRecorder interface {
	IncrStatus(ctx context.Context, status string) error
	SetTripState(ctx context.Context, tripID string, fields map[string]interface{}) error
}

type redisRecorder struct{ c *redis.Client }

func (r *redisRecorder) IncrStatus(ctx context.Context, status string) error {
	return r.c.Incr(ctx, "trips:status:"+status).Err()
}

func (r *redisRecorder) SetTripState(ctx context.Context, tripID string, fields map[string]interface{}) error {
	return r.c.HSet(ctx, "trip:state:"+tripID, fields).Err()
}

// recordEventWithRetry writes one event's counter bump and state hash,
// retrying each round with doubling delay.
func recordEventWithRetry(ctx context.Context, rec EventRecorder, event backend.TripEvent, attempts int, delay time.Duration) error {
	fields := map[string]interface{}{
		"status":      event.Status,
		"vehicle_id":  event.VehicleID,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
	for i := 0; i < attempts; i++ {
		if err := rec.IncrStatus(ctx, event.Status); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rec.SetTripState(ctx, event.TripID, fields); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
