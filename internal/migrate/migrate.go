// Package migrate moves a store's application schema between versions.
//
// Steps are registered by key ("0003_add_orders"); the numeric prefix is the
// version the step produces. A run visits each step at most once, inside a
// single store transaction, so a failing step leaves the store exactly as it
// was before the run.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperengineering/simplesync/internal/store"
)

// Latest targets the highest registered version.
const Latest = -1

var (
	ErrInvalidStepKey   = errors.New("invalid migration step key")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	ErrUnknownDefOp     = errors.New("unknown def operation")
	ErrStepFailed       = errors.New("migration step failed")
	ErrInvalidManifest  = errors.New("invalid schema manifest")
)

// Func is a step callback. It runs inside the migration transaction.
type Func func(ctx context.Context, s store.Store) error

// Step is an immutable migration step.
type Step struct {
	Up   Func
	Down Func
	Def  []Def
}

// Registry maps step keys to steps.
type Registry map[string]Step

// Direction of a migration run.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Result summarizes a run.
type Result struct {
	From      int
	To        int
	Direction Direction
	Applied   []string
}

type plannedStep struct {
	key     string
	version int
	step    Step
}

// ParseVersion extracts the version from a step key such as "0012_orders".
func ParseVersion(key string) (int, error) {
	prefix := key
	if i := strings.IndexByte(key, '_'); i >= 0 {
		prefix = key[:i]
	}
	if prefix == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStepKey, key)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidStepKey, key)
		}
	}
	trimmed := strings.TrimLeft(prefix, "0")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: %q has version 0", ErrInvalidStepKey, key)
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidStepKey, key, err)
	}
	return v, nil
}

func (r Registry) ordered() ([]plannedStep, error) {
	steps := make([]plannedStep, 0, len(r))
	seen := make(map[int]string, len(r))
	for key, st := range r {
		v, err := ParseVersion(key)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[v]; ok {
			return nil, fmt.Errorf("%w: %d (%s, %s)", ErrDuplicateVersion, v, other, key)
		}
		seen[v] = key
		steps = append(steps, plannedStep{key: key, version: v, step: st})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// LatestVersion returns the highest registered version, or 0.
func (r Registry) LatestVersion() (int, error) {
	steps, err := r.ordered()
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, nil
	}
	return steps[len(steps)-1].version, nil
}

// Migrate moves s to target (or Latest). Moving up runs each pending step's
// def creates and then Up; moving down runs Down and then the def drops in
// reverse. Reaching version 0 on the way down clears the last-synced stamp.
func Migrate(ctx context.Context, s store.Store, reg Registry, target int) (Result, error) {
	steps, err := reg.ordered()
	if err != nil {
		return Result{}, err
	}
	if target < Latest {
		return Result{}, fmt.Errorf("invalid target version %d", target)
	}

	var res Result
	err = s.Transact(ctx, func(ctx context.Context) error {
		current, err := store.SchemaVersion(ctx, s)
		if err != nil {
			return err
		}
		res = Result{From: current, To: current, Direction: DirectionNone}

		switch {
		case target == Latest || target > current:
			res.Direction = DirectionUp
			for _, ps := range steps {
				if ps.version <= current {
					continue
				}
				if target != Latest && ps.version > target {
					break
				}
				if err := runUp(ctx, s, ps); err != nil {
					return err
				}
				if err := setVersion(ctx, s, ps.version); err != nil {
					return err
				}
				current = ps.version
				res.Applied = append(res.Applied, ps.key)
			}
		case target < current:
			res.Direction = DirectionDown
			for i := len(steps) - 1; i >= 0; i-- {
				ps := steps[i]
				if ps.version > current {
					continue
				}
				if ps.version <= target {
					break
				}
				if err := runDown(ctx, s, ps); err != nil {
					return err
				}
				prev := target
				if i > 0 && steps[i-1].version > target {
					prev = steps[i-1].version
				}
				if err := setVersion(ctx, s, prev); err != nil {
					return err
				}
				current = prev
				res.Applied = append(res.Applied, ps.key)
			}
			if current != target {
				if err := setVersion(ctx, s, target); err != nil {
					return err
				}
				current = target
			}
			if current == 0 {
				if err := s.DeleteMeta(ctx, store.MetaSyncedAt); err != nil {
					return fmt.Errorf("clear synced_at: %w", err)
				}
			}
		}
		res.To = current
		if len(res.Applied) == 0 {
			res.Direction = DirectionNone
		}
		return nil
	})
	if err != nil {
		slog.Error("migration rolled back",
			"component", "migrate",
			"action", "migrate_failed",
			"target", target,
			"error", err,
		)
		return Result{}, err
	}

	if len(res.Applied) > 0 {
		slog.Info("migration complete",
			"component", "migrate",
			"action", "migrate",
			"direction", res.Direction,
			"from", res.From,
			"to", res.To,
			"steps", len(res.Applied),
		)
	}
	return res, nil
}

func runUp(ctx context.Context, s store.Store, ps plannedStep) error {
	for _, d := range ps.step.Def {
		if err := d.create(ctx, s); err != nil {
			return fmt.Errorf("%w: %s up: %s: %w", ErrStepFailed, ps.key, d, err)
		}
	}
	if ps.step.Up != nil {
		if err := ps.step.Up(ctx, s); err != nil {
			return fmt.Errorf("%w: %s up: %w", ErrStepFailed, ps.key, err)
		}
	}
	slog.Debug("migration step applied", "component", "migrate", "step", ps.key, "direction", DirectionUp)
	return nil
}

func runDown(ctx context.Context, s store.Store, ps plannedStep) error {
	if ps.step.Down != nil {
		if err := ps.step.Down(ctx, s); err != nil {
			return fmt.Errorf("%w: %s down: %w", ErrStepFailed, ps.key, err)
		}
	}
	for i := len(ps.step.Def) - 1; i >= 0; i-- {
		d := ps.step.Def[i]
		if err := d.drop(ctx, s); err != nil {
			return fmt.Errorf("%w: %s down: %s: %w", ErrStepFailed, ps.key, d, err)
		}
	}
	slog.Debug("migration step reverted", "component", "migrate", "step", ps.key, "direction", DirectionDown)
	return nil
}

func setVersion(ctx context.Context, s store.Store, v int) error {
	if err := s.SetMeta(ctx, store.MetaSchemaVersion, strconv.Itoa(v)); err != nil {
		return fmt.Errorf("record schema version %d: %w", v, err)
	}
	return nil
}

// StepStatus reports whether a registered step is applied.
type StepStatus struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	Applied bool   `json:"applied"`
}

// Status returns the store's current version and the state of every step.
func Status(ctx context.Context, s store.Store, reg Registry) (int, []StepStatus, error) {
	steps, err := reg.ordered()
	if err != nil {
		return 0, nil, err
	}
	current, err := store.SchemaVersion(ctx, s)
	if err != nil {
		return 0, nil, err
	}
	out := make([]StepStatus, len(steps))
	for i, ps := range steps {
		out[i] = StepStatus{Key: ps.key, Version: ps.version, Applied: ps.version <= current}
	}
	return current, out, nil
}
