// Package replay feeds a recorded action log through the aggregator. Because every
// update is a pure function of the interaction history, replaying a log in order
// rebuilds the same similarity state.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aevon-lab/eventsim/internal/aggregation"
	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	core "github.com/aevon-lab/eventsim/internal/core/aggregation"
	"gopkg.in/yaml.v3"
)

// Log is the on-disk shape of an action log.
type Log struct {
	Actions []v1.UserAction `yaml:"actions"`
}

// Submitter is satisfied by *aggregation.Aggregator.
type Submitter interface {
	Submit(ctx context.Context, action v1.UserAction) (aggregation.Result, error)
}

// Summary counts replay outcomes.
type Summary struct {
	Applied      int
	Skipped      int
	Invalid      int
	Similarities int
}

// Load decodes a YAML action log.
func Load(r io.Reader) ([]v1.UserAction, error) {
	var log Log
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&log); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode action log: %w", err)
	}
	return log.Actions, nil
}

// LoadFile reads the action log at path.
func LoadFile(path string) ([]v1.UserAction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Run submits actions in order. Invalid actions are logged and counted; any other
// error stops the replay.
func Run(ctx context.Context, sub Submitter, actions []v1.UserAction) (Summary, error) {
	var sum Summary
	for i, a := range actions {
		res, err := sub.Submit(ctx, a)
		switch {
		case errors.Is(err, v1.ErrInvalidAction), errors.Is(err, core.ErrUnknownActionType):
			sum.Invalid++
			slog.Warn("[Replay] Skipping invalid action", "index", i, "key", a.Key(), "error", err)
			continue
		case err != nil:
			return sum, fmt.Errorf("replay action %d (%s): %w", i, a.Key(), err)
		}

		if res.Applied {
			sum.Applied++
			sum.Similarities += len(res.Similarities)
		} else {
			sum.Skipped++
		}
	}

	slog.Info("[Replay] Action log replayed",
		"actions", len(actions),
		"applied", sum.Applied,
		"skipped", sum.Skipped,
		"invalid", sum.Invalid,
		"similarities", sum.Similarities)
	return sum, nil
}
