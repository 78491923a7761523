package sparql

// Phase is a step of query execution reported through progress events.
type Phase string

// Phases in emission order.
const (
	PhaseExecuting   Phase = "executing"
	PhaseDownloading Phase = "downloading"
	PhaseParsing     Phase = "parsing"
	PhaseRendering   Phase = "rendering"
)

// Order returns the position of p in the execution sequence.
func (p Phase) Order() int {
	switch p {
	case PhaseExecuting:
		return 0
	case PhaseDownloading:
		return 1
	case PhaseParsing:
		return 2
	case PhaseRendering:
		return 3
	}
	return -1
}

// DownloadProgress describes bytes received so far. TotalBytes is zero when
// the response carried no usable Content-Length.
type DownloadProgress struct {
	BytesReceived  int64   `json:"bytes_received"`
	TotalBytes     int64   `json:"total_bytes,omitempty"`
	BytesPerSecond float64 `json:"bytes_per_second"`
}

// ParseProgress describes decoding progress. Zero fields are unknown.
type ParseProgress struct {
	RowsParsed int `json:"rows_parsed,omitempty"`
	TotalRows  int `json:"total_rows,omitempty"`
}

// ProgressEvent reports one step of a request. Download is set only in the
// downloading phase and Parse only in the parsing phase.
type ProgressEvent struct {
	Phase     Phase             `json:"phase"`
	Download  *DownloadProgress `json:"download,omitempty"`
	Parse     *ParseProgress    `json:"parse,omitempty"`
	Timestamp int64             `json:"timestamp"`
}
