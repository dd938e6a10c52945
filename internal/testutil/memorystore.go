package testutil

import (
	"context"
	"strings"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
)

// MemoryStore is an in-memory Store for tests. Charts are bound to variables
// through their Dimensions; edited-chart and edited-variable queries derive
// from the stored edit timestamps the same way the SQL store's queries do.
type MemoryStore struct {
	Charts    map[int64]*chartsync.Chart
	Variables map[int64]chartsync.Variable

	// ExtraSlugs simulates slug redirects: slugs taken in this environment
	// beyond the stored charts' own.
	ExtraSlugs []string

	// Err, when set, is returned by every fetch.
	Err error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Charts:    make(map[int64]*chartsync.Chart),
		Variables: make(map[int64]chartsync.Variable),
	}
}

// AddChart registers a chart.
func (s *MemoryStore) AddChart(c *chartsync.Chart) {
	s.Charts[c.ID] = c
}

// AddVariable registers a variable.
func (s *MemoryStore) AddVariable(v chartsync.Variable) {
	s.Variables[v.ID] = v
}

func (s *MemoryStore) FetchEditedCharts(_ context.Context, since time.Time, ids []int64) ([]chartsync.EditedChart, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	keep := idSet(ids)
	var edited []chartsync.EditedChart
	for _, c := range s.Charts {
		if c.UpdatedAt.Before(since) {
			continue
		}
		if keep != nil {
			if _, ok := keep[c.ID]; !ok {
				continue
			}
		}
		edited = append(edited, chartsync.EditedChart{
			ID:             c.ID,
			ConfigHash:     chartsync.HashConfig(c.Config),
			EditedByUserID: c.LastEditedByUserID,
			EditedAt:       c.UpdatedAt,
		})
	}
	return edited, nil
}

func (s *MemoryStore) FetchConfigHashes(_ context.Context, ids []int64) (map[int64]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	hashes := make(map[int64]string)
	for _, id := range ids {
		if c, ok := s.Charts[id]; ok {
			hashes[id] = chartsync.HashConfig(c.Config)
		}
	}
	return hashes, nil
}

func (s *MemoryStore) FetchChart(ctx context.Context, id int64) (*chartsync.Chart, error) {
	charts, err := s.FetchCharts(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return charts[id], nil
}

func (s *MemoryStore) FetchCharts(_ context.Context, ids []int64) (map[int64]*chartsync.Chart, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	charts := make(map[int64]*chartsync.Chart)
	for _, id := range ids {
		if c, ok := s.Charts[id]; ok {
			charts[id] = c
		}
	}
	return charts, nil
}

func (s *MemoryStore) FetchEditedVariables(_ context.Context, since time.Time, datasetPaths []string) ([]chartsync.EditedVariable, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var edited []chartsync.EditedVariable
	for _, c := range s.Charts {
		for _, dim := range c.Dimensions {
			v, ok := s.Variables[dim.VariableID]
			if !ok {
				continue
			}
			if v.DataEditedAt.Before(since) && v.MetadataEditedAt.Before(since) {
				continue
			}
			if !matchesDatasetPaths(v.CatalogPath, datasetPaths) {
				continue
			}
			edited = append(edited, chartsync.EditedVariable{
				ChartID:          c.ID,
				VariableID:       v.ID,
				CatalogPath:      v.CatalogPath,
				DataChecksum:     v.DataChecksum,
				MetadataChecksum: v.MetadataChecksum,
				DataEditedAt:     v.DataEditedAt,
				MetadataEditedAt: v.MetadataEditedAt,
			})
		}
	}
	return edited, nil
}

func (s *MemoryStore) FetchVariablesByCatalogPath(_ context.Context, paths []string) (map[string]chartsync.Variable, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	byPath := make(map[string]chartsync.Variable)
	for _, p := range paths {
		for _, v := range s.Variables {
			if v.CatalogPath == p {
				byPath[p] = v
			}
		}
	}
	return byPath, nil
}

func (s *MemoryStore) FetchVariablesByID(_ context.Context, ids []int64) (map[int64]chartsync.Variable, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	byID := make(map[int64]chartsync.Variable)
	for _, id := range ids {
		if v, ok := s.Variables[id]; ok {
			byID[id] = v
		}
	}
	return byID, nil
}

func (s *MemoryStore) FetchVariableChecksums(_ context.Context, chartIDs []int64) ([]chartsync.VariableChecksum, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var checksums []chartsync.VariableChecksum
	for _, id := range chartIDs {
		c, ok := s.Charts[id]
		if !ok {
			continue
		}
		for _, dim := range c.Dimensions {
			v, ok := s.Variables[dim.VariableID]
			if !ok {
				continue
			}
			checksums = append(checksums, chartsync.VariableChecksum{
				ChartID:          id,
				CatalogPath:      v.CatalogPath,
				DataChecksum:     v.DataChecksum,
				MetadataChecksum: v.MetadataChecksum,
			})
		}
	}
	return checksums, nil
}

func (s *MemoryStore) FetchSlugs(_ context.Context) (map[string]struct{}, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	slugs := make(map[string]struct{})
	for _, c := range s.Charts {
		slugs[c.Slug] = struct{}{}
	}
	for _, slug := range s.ExtraSlugs {
		slugs[slug] = struct{}{}
	}
	return slugs, nil
}

func (s *MemoryStore) FetchChartTags(_ context.Context, id int64) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if c, ok := s.Charts[id]; ok {
		return c.Tags, nil
	}
	return nil, nil
}

func (s *MemoryStore) Close() error { return nil }

func idSet(ids []int64) map[int64]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func matchesDatasetPaths(catalogPath string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(catalogPath, p) {
			return true
		}
	}
	return false
}

// Compile-time check that MemoryStore implements the Store interface
var _ chartsync.Store = (*MemoryStore)(nil)
