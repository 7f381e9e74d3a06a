package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Module is the capture/apply/revert contract every tweak controller implements.
//
// Capture reads the current state of each configured target and never
// mutates; absent targets are skipped, and targets that exist but cannot be
// read are returned as failures next to the items. Apply mutates each
// captured item to its tweaked value and reports per-item outcomes. Revert restores each item's
// original value and must be idempotent. A returned error means the module
// could not run at all; per-item problems belong in the ModuleResult.
type Module interface {
	Kind() ModuleKind
	Capture(ctx context.Context) ([]TweakItem, []ItemFailure, error)
	Apply(ctx context.Context, items []TweakItem) (ModuleResult, error)
	Revert(ctx context.Context, items []TweakItem) (ModuleResult, error)
}

// NewItem builds a TweakItem, encoding the original and applied payloads
func NewItem(kind ModuleKind, key string, original, applied any) (TweakItem, error) {
	orig, err := json.Marshal(original)
	if err != nil {
		return TweakItem{}, fmt.Errorf("failed to encode original value for %s: %w", key, err)
	}
	item := TweakItem{
		Module:     kind,
		Key:        key,
		Original:   orig,
		CapturedAt: time.Now().UTC(),
	}
	if applied != nil {
		app, err := json.Marshal(applied)
		if err != nil {
			return TweakItem{}, fmt.Errorf("failed to encode applied value for %s: %w", key, err)
		}
		item.Applied = app
	}
	return item, nil
}

// NewItemFailure classifies err for a target that could not be handled
func NewItemFailure(key string, err error) ItemFailure {
	return ItemFailure{Key: key, Reason: KindOf(err), Message: err.Error()}
}

// DecodeOriginal unmarshals the item's original payload into v
func (it TweakItem) DecodeOriginal(v any) error {
	if err := json.Unmarshal(it.Original, v); err != nil {
		return fmt.Errorf("failed to decode original value for %s: %w", it.Key, err)
	}
	return nil
}

// DecodeApplied unmarshals the item's applied payload into v
func (it TweakItem) DecodeApplied(v any) error {
	if len(it.Applied) == 0 {
		return fmt.Errorf("item %s has no applied value", it.Key)
	}
	if err := json.Unmarshal(it.Applied, v); err != nil {
		return fmt.Errorf("failed to decode applied value for %s: %w", it.Key, err)
	}
	return nil
}
