package models

// GeocodeError is the user-facing description of a failed row.
type GeocodeError struct {
	RowID     string `json:"rowId"`
	Address   string `json:"address"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Provider  string `json:"provider,omitempty"`
}

// RowResult pairs an input row with its outcome. Exactly one of Result and Error is set.
type RowResult struct {
	Row    ImportRow      `json:"row"`
	Result *GeocodeResult `json:"result,omitempty"`
	Error  *GeocodeError  `json:"error,omitempty"`
}

// Succeeded reports whether the row resolved to a coordinate.
func (r RowResult) Succeeded() bool {
	return r.Result != nil
}

// Skipped reports whether the row kept its existing coordinates.
func (r RowResult) Skipped() bool {
	return r.Result != nil && r.Result.Precision == PrecisionExisting
}

// Progress is the live state of one geocoding job.
type Progress struct {
	Total        int            `json:"total"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	InProgress   bool           `json:"inProgress"`
	Errors       []GeocodeError `json:"errors"`
	CurrentBatch int            `json:"currentBatch"`
	TotalBatches int            `json:"totalBatches"`
}

// Clone returns a deep copy safe to hand to callers.
func (p *Progress) Clone() Progress {
	clone := *p
	clone.Errors = make([]GeocodeError, len(p.Errors))
	copy(clone.Errors, p.Errors)

	return clone
}

// Summary aggregates the final outcome of a job.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Summarize counts the outcome of every row result.
func Summarize(results []RowResult) Summary {
	summary := Summary{Total: len(results)}
	for _, res := range results {
		switch {
		case res.Skipped():
			summary.Skipped++
		case res.Succeeded():
			summary.Successful++
		default:
			summary.Failed++
		}
	}

	return summary
}
