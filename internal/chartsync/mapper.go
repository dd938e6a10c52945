package chartsync

import (
	"context"
	"fmt"
)

// VariableMapper resolves source-environment variable ids to their
// target-environment counterparts. Variable ids are assigned independently
// per environment and are not portable; catalog paths are.
type VariableMapper interface {
	// TargetVariableIDs maps source variable ids to target variable ids.
	// Ids with no counterpart in target are omitted from the result.
	TargetVariableIDs(ctx context.Context, sourceIDs []int64) (map[int64]int64, error)
}

// StoreVariableMapper maps variables by looking up catalog paths in the
// source store and resolving them against the target store.
type StoreVariableMapper struct {
	source Store
	target Store
}

// NewStoreVariableMapper creates a mapper over one source/target pair.
func NewStoreVariableMapper(source, target Store) *StoreVariableMapper {
	return &StoreVariableMapper{source: source, target: target}
}

// TargetVariableIDs implements VariableMapper. Source variables without a
// catalog path, or whose catalog path has no variable in target, are left
// unmapped; callers decide whether that is fatal.
func (m *StoreVariableMapper) TargetVariableIDs(ctx context.Context, sourceIDs []int64) (map[int64]int64, error) {
	if len(sourceIDs) == 0 {
		return map[int64]int64{}, nil
	}
	sourceVars, err := m.source.FetchVariablesByID(ctx, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching variables from source: %w", err)
	}

	paths := make([]string, 0, len(sourceVars))
	for _, v := range sourceVars {
		if v.CatalogPath != "" {
			paths = append(paths, v.CatalogPath)
		}
	}
	targetVars, err := m.target.FetchVariablesByCatalogPath(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("fetching variables from target: %w", err)
	}

	mapping := make(map[int64]int64, len(sourceVars))
	for id, v := range sourceVars {
		if v.CatalogPath == "" {
			continue
		}
		if tgt, ok := targetVars[v.CatalogPath]; ok {
			mapping[id] = tgt.ID
		}
	}
	return mapping, nil
}
