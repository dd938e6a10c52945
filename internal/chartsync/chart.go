// Package chartsync reconciles published charts between two independently
// operated environments: an ephemeral per-branch staging database ("source")
// and the shared production database ("target"). It detects which charts
// differ, classifies the difference (config / data / metadata), maintains
// durable approve/reject decisions, flags production-side conflicts, and
// applies approved changes through the remote admin API.
package chartsync

import "time"

// Chart is a read-only projection of one chart row in one environment.
//
// Chart ids are assigned independently per environment, so two rows sharing
// an id denote the same logical chart only when their CreatedAt timestamps
// are equal. All pairing logic must apply that check first.
type Chart struct {
	ID                 int64
	Slug               string
	Config             map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PublishedAt        *time.Time
	LastEditedByUserID int64
	Dimensions         []Dimension
	Tags               []string
}

// SamePairAs reports whether other denotes the same logical chart.
func (c *Chart) SamePairAs(other *Chart) bool {
	return other != nil && c.ID == other.ID && c.CreatedAt.Equal(other.CreatedAt)
}

// Dimension binds one chart dimension (y, x, size, ...) to a variable.
type Dimension struct {
	Property    string
	VariableID  int64
	CatalogPath string
}

// Variable is a read-only projection of one variable row in one environment.
// Checksums are nil when the environment has not computed them yet.
type Variable struct {
	ID               int64
	CatalogPath      string
	DataChecksum     *string
	MetadataChecksum *string
	DataEditedAt     time.Time
	MetadataEditedAt time.Time
}

// EditedChart is one row of the config-change signal query: a chart edited
// in the source environment since the staging branch was created.
type EditedChart struct {
	ID             int64
	ConfigHash     string
	EditedByUserID int64
	EditedAt       time.Time
}

// EditedVariable is one row of the data/metadata-change signal query: a
// variable bound to a chart whose data or metadata was edited in the source
// environment since the staging branch was created.
type EditedVariable struct {
	ChartID          int64
	VariableID       int64
	CatalogPath      string
	DataChecksum     *string
	MetadataChecksum *string
	DataEditedAt     time.Time
	MetadataEditedAt time.Time
}

// VariableChecksum is one row of the fine-grained per-variable checksum
// fetch used to compute a diff's modified-checksum table.
type VariableChecksum struct {
	ChartID          int64
	CatalogPath      string
	DataChecksum     *string
	MetadataChecksum *string
}

// ChecksumFlags holds the per-chart boolean change signals produced by the
// ChangeDetector. ChartEditedInStaging is nil when the chart never appeared
// in the config signal, so the detector cannot tell whether the chart was
// edited on staging or only its variables were.
type ChecksumFlags struct {
	ConfigEdited         bool
	DataEdited           bool
	MetadataEdited       bool
	ChartEditedInStaging *bool
}

// Changed reports whether any change signal is set.
func (f ChecksumFlags) Changed() bool {
	return f.ConfigEdited || f.DataEdited || f.MetadataEdited
}
