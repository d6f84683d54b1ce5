package models

// GeocodeRequest is the job submitted by the import layer over HTTP, WebSocket or the queue.
type GeocodeRequest struct {
	ProviderPreference string       `json:"providerPreference,omitempty"`
	Rows               []GeocodeRow `json:"rows"`
}

// GeocodeRow is the wire form of an ImportRow.
type GeocodeRow struct {
	ID        string   `json:"id"`
	Address   string   `json:"address,omitempty"`
	City      string   `json:"city,omitempty"`
	Postcode  string   `json:"postcode,omitempty"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
}

// ImportRows converts the request rows into import rows.
func (r GeocodeRequest) ImportRows() []ImportRow {
	rows := make([]ImportRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		rows = append(rows, ImportRow(row))
	}

	return rows
}

// GeocodeResponse is the final answer for a job.
type GeocodeResponse struct {
	JobID   string             `json:"jobId,omitempty"`
	Results []GeocodeResultDto `json:"results"`
	Summary Summary            `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// GeocodeResultDto is the wire form of a RowResult.
type GeocodeResultDto struct {
	ID        string    `json:"id"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	Precision Precision `json:"precision,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Error     string    `json:"error,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

// NewGeocodeResponse builds the wire response for a finished job.
func NewGeocodeResponse(jobID string, results []RowResult, summary Summary) GeocodeResponse {
	dtos := make([]GeocodeResultDto, 0, len(results))
	for _, res := range results {
		dto := GeocodeResultDto{ID: res.Row.ID}
		if res.Result != nil {
			lat, lng := res.Result.Latitude, res.Result.Longitude
			dto.Lat = &lat
			dto.Lng = &lng
			dto.Precision = res.Result.Precision
			dto.Provider = res.Result.Provider
		}
		if res.Error != nil {
			dto.Error = res.Error.Reason
			dto.Retryable = res.Error.Retryable
			dto.Provider = res.Error.Provider
		}
		dtos = append(dtos, dto)
	}

	return GeocodeResponse{JobID: jobID, Results: dtos, Summary: summary}
}
