package chartsync

// VariableDiff is one aligned per-variable checksum comparison between the
// two environments, carried on a ChartDiff so change types can be derived.
type VariableDiff struct {
	ChartID         int64
	CatalogPath     string
	DataChanged     bool
	MetadataChanged bool
}

// CompareVariableChecksums aligns the two environments' per-variable
// checksum tables on (chart id, catalog path) and compares element-wise.
// Variables present on only one side are ignored (a variable missing from
// target is classified as a config change, not a data change), and a nil
// checksum ("not yet computed") compares as unchanged. Only rows with a
// change are returned, in source order.
func CompareVariableChecksums(source, target []VariableChecksum) []VariableDiff {
	type key struct {
		chartID int64
		path    string
	}
	targetByKey := make(map[key]VariableChecksum, len(target))
	for _, row := range target {
		targetByKey[key{row.ChartID, row.CatalogPath}] = row
	}

	var diffs []VariableDiff
	for _, src := range source {
		tgt, ok := targetByKey[key{src.ChartID, src.CatalogPath}]
		if !ok {
			continue
		}
		data := checksumsDiffer(src.DataChecksum, tgt.DataChecksum)
		metadata := checksumsDiffer(src.MetadataChecksum, tgt.MetadataChecksum)
		if !data && !metadata {
			continue
		}
		diffs = append(diffs, VariableDiff{
			ChartID:         src.ChartID,
			CatalogPath:     src.CatalogPath,
			DataChanged:     data,
			MetadataChanged: metadata,
		})
	}
	return diffs
}

// VariableSignals compares one variable's source and target rows and
// reports the boolean data/metadata change signals. Rows where target's
// edit timestamp is newer than or equal to source's are dropped: in that
// case the source is lagging behind a separately-evolving target and a raw
// checksum difference is noise, not a staging edit.
func VariableSignals(src EditedVariable, tgt Variable) (dataChanged, metadataChanged bool) {
	if checksumsDiffer(src.DataChecksum, tgt.DataChecksum) && src.DataEditedAt.After(tgt.DataEditedAt) {
		dataChanged = true
	}
	if checksumsDiffer(src.MetadataChecksum, tgt.MetadataChecksum) && src.MetadataEditedAt.After(tgt.MetadataEditedAt) {
		metadataChanged = true
	}
	return dataChanged, metadataChanged
}

// checksumsDiffer treats a missing checksum on either side as unchanged.
func checksumsDiffer(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a != *b
}
