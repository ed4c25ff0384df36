package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"shuttle-service/internal/logger"
	"shuttle-service/internal/types"

	"github.com/redis/go-redis/v9"
)

type Callbacks struct {
	ActionCallback       func(string) error                // "start-shift", "start-trip", "depart-stop", "arrive-stop", "start-boarding", "finish-trip", "route-complete"
	ScanStartCallback    func() error                      // driver opened the scan dialog
	ScanCancelCallback   func() error                      // driver dismissed the scan dialog
	ScanConfirmCallback  func(float64, string) error       // device validated a QR code: sum, recipient
	ScanInvalidCallback  func() error                      // device rejected the QR code
	DecisionCallback     func(string, types.PassengerID) error // "accept", "reject", "return"
	QueueAddCallback     func(types.Passenger) error
	QueueSetCallback     func([]types.Passenger) error
	LegacyStatusCallback func(string) error // old trip-status vocabulary from legacy producers
	StopNameCallback     func(string) error // next stop name for the arrive button annotation
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

const eventLogKey = "shuttle:events"
const eventLogMax = 1000

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l.WithTag("Redis"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts all Redis listeners after system initialization is complete
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	pubsub := r.client.Subscribe(r.ctx, "trip-status", "route")
	r.wg.Add(1)
	go r.pubsubListener(pubsub)

	r.wg.Add(4)
	go r.listCommandListener("shuttle:action", r.handleActionCommand)
	go r.listCommandListener("shuttle:scan", r.handleScanCommand)
	go r.listCommandListener("shuttle:decision", r.handleDecisionCommand)
	go r.listCommandListener("shuttle:queue", r.handleQueueCommand)

	return nil
}

func (r *RedisClient) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Debugf("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debugf("Context cancelled, exiting %s listener", key)
			return
		default:
			// BRPOP with a short timeout so context cancellation is noticed
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if r.ctx.Err() != nil {
					r.logger.Debugf("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Warnf("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) pubsubListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	channel := pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debugf("Context cancelled, exiting pubsub listener")
			return
		case msg, ok := <-channel:
			if !ok || msg == nil {
				r.logger.Warnf("Redis pubsub channel closed")
				return
			}

			r.logger.Debugf("Received Redis message: channel=%s payload=%s", msg.Channel, msg.Payload)

			switch msg.Channel {
			case "trip-status":
				if r.callbacks.LegacyStatusCallback != nil {
					if err := r.callbacks.LegacyStatusCallback(msg.Payload); err != nil {
						r.logger.Warnf("Failed to handle legacy trip status: %v", err)
					}
				}
			case "route":
				if msg.Payload == "stop" {
					name, err := r.GetStopName()
					if err != nil {
						r.logger.Warnf("Failed to read stop name: %v", err)
						continue
					}
					if r.callbacks.StopNameCallback != nil {
						if err := r.callbacks.StopNameCallback(name); err != nil {
							r.logger.Warnf("Failed to handle stop name update: %v", err)
						}
					}
				}
			}
		}
	}
}

func (r *RedisClient) handleActionCommand(value string) error {
	if r.callbacks.ActionCallback == nil {
		return nil
	}
	switch value {
	case "start-shift", "start-trip", "depart-stop", "arrive-stop",
		"start-boarding", "finish-trip", "route-complete":
		return r.callbacks.ActionCallback(value)
	default:
		return fmt.Errorf("invalid action command: %s", value)
	}
}

// handleScanCommand processes scan dialog commands. Confirmations carry the
// payment payload as "confirm:<sum>:<recipient>".
func (r *RedisClient) handleScanCommand(value string) error {
	switch {
	case value == "start":
		if r.callbacks.ScanStartCallback != nil {
			return r.callbacks.ScanStartCallback()
		}
	case value == "cancel":
		if r.callbacks.ScanCancelCallback != nil {
			return r.callbacks.ScanCancelCallback()
		}
	case value == "invalid":
		if r.callbacks.ScanInvalidCallback != nil {
			return r.callbacks.ScanInvalidCallback()
		}
	case strings.HasPrefix(value, "confirm:"):
		rest := strings.TrimPrefix(value, "confirm:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid scan confirm command: %s", value)
		}
		sum, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return fmt.Errorf("invalid scan confirm sum %q: %w", parts[0], err)
		}
		if r.callbacks.ScanConfirmCallback != nil {
			return r.callbacks.ScanConfirmCallback(sum, parts[1])
		}
	default:
		return fmt.Errorf("invalid scan command: %s", value)
	}
	return nil
}

// handleDecisionCommand processes "accept:<id>", "reject:<id>", "return:<id>".
func (r *RedisClient) handleDecisionCommand(value string) error {
	if r.callbacks.DecisionCallback == nil {
		return nil
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid decision command: %s", value)
	}
	switch parts[0] {
	case "accept", "reject", "return":
	default:
		return fmt.Errorf("invalid decision command: %s", value)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid decision passenger id %q: %w", parts[1], err)
	}
	return r.callbacks.DecisionCallback(parts[0], types.PassengerID(id))
}

type queueCommand struct {
	Op         string            `json:"op"` // "add" or "set"
	Passenger  *types.Passenger  `json:"passenger,omitempty"`
	Passengers []types.Passenger `json:"passengers,omitempty"`
}

func (r *RedisClient) handleQueueCommand(value string) error {
	var cmd queueCommand
	if err := json.Unmarshal([]byte(value), &cmd); err != nil {
		return fmt.Errorf("invalid queue command: %w", err)
	}
	switch cmd.Op {
	case "add":
		if cmd.Passenger == nil {
			return fmt.Errorf("queue add without passenger")
		}
		if r.callbacks.QueueAddCallback != nil {
			return r.callbacks.QueueAddCallback(*cmd.Passenger)
		}
	case "set":
		if r.callbacks.QueueSetCallback != nil {
			return r.callbacks.QueueSetCallback(cmd.Passengers)
		}
	default:
		return fmt.Errorf("invalid queue op: %s", cmd.Op)
	}
	return nil
}

// GetRaceState reads the saved lifecycle state, if any.
func (r *RedisClient) GetRaceState() (types.RaceState, error) {
	state, err := r.client.HGet(r.ctx, "race", "state").Result()
	if err == redis.Nil {
		return types.RaceOffline, nil
	}
	if err != nil {
		return types.RaceOffline, fmt.Errorf("failed to get race state: %w", err)
	}
	return types.RaceState(state), nil
}

// GetStopName reads the current next-stop name published by the route planner.
func (r *RedisClient) GetStopName() (string, error) {
	name, err := r.client.HGet(r.ctx, "route", "stop:name").Result()
	if err == redis.Nil {
		return "", nil
	}
	return name, err
}

// PublishRaceState atomically updates the race hash and notifies subscribers.
func (r *RedisClient) PublishRaceState(state types.RaceState) error {
	r.logger.Infof("Publishing race state: %s", state)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "race", "state", string(state))
	pipe.HSet(r.ctx, "race", "state:timestamp", time.Now().Format(time.RFC3339))
	pipe.Publish(r.ctx, "race", "state")
	_, err := pipe.Exec(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to publish race state: %w", err)
	}
	return nil
}

// PublishQueue publishes a full queue snapshot (replace semantics).
func (r *RedisClient) PublishQueue(passengers []types.Passenger) error {
	data, err := json.Marshal(passengers)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "race", "queue", string(data))
	pipe.Publish(r.ctx, "race", "queue")
	_, err = pipe.Exec(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to publish queue: %w", err)
	}
	return nil
}

// PublishDecision notifies external systems of a validated boarding decision.
func (r *RedisClient) PublishDecision(op string, id types.PassengerID) error {
	return r.client.Publish(r.ctx, "race:boarding", fmt.Sprintf("%s:%d", op, id)).Err()
}

type eventRecord struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

// Emit implements events.Sink: append the event to a capped audit list and
// notify subscribers. Best-effort, never fails.
func (r *RedisClient) Emit(name string, details map[string]any) {
	rec := eventRecord{
		Event:     name,
		Timestamp: time.Now().Format(time.RFC3339),
		Details:   details,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warnf("Failed to marshal event %s: %v", name, err)
		return
	}

	pipe := r.client.Pipeline()
	pipe.LPush(r.ctx, eventLogKey, string(data))
	pipe.LTrim(r.ctx, eventLogKey, 0, eventLogMax-1)
	pipe.Publish(r.ctx, eventLogKey, name)
	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to publish event %s: %v", name, err)
	}
}
