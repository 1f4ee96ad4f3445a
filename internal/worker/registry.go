package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TaskHandler is the blueprint for any function that does work. input is the
// JSON encoded task payload.
type TaskHandler func(ctx context.Context, input []byte) ([]byte, error)

// TaskRegistry holds all our executable actions
type TaskRegistry map[string]TaskHandler

// InitRegistry wires up the built-in actions
func InitRegistry() TaskRegistry {
	registry := make(TaskRegistry)

	registry["noop"] = func(ctx context.Context, input []byte) ([]byte, error) {
		return nil, nil
	}

	registry["echo"] = func(ctx context.Context, input []byte) ([]byte, error) {
		return input, nil
	}

	// fail always fails with payload.reason
	registry["fail"] = func(ctx context.Context, input []byte) ([]byte, error) {
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(input, &p)
		if p.Reason == "" {
			p.Reason = "task failed"
		}
		return nil, errors.New(p.Reason)
	}

	// sleep waits for payload.duration ("1s", "250ms") or until the deadline
	registry["sleep"] = func(ctx context.Context, input []byte) ([]byte, error) {
		var p struct {
			Duration string `json:"duration"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return nil, errors.Wrap(err, "decode sleep payload")
		}
		d, err := time.ParseDuration(p.Duration)
		if err != nil {
			return nil, errors.Wrap(err, "parse sleep duration")
		}
		select {
		case <-time.After(d):
			return json.Marshal(map[string]string{"slept": d.String()})
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return registry
}
