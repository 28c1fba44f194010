package service

// EventKind identifies an ingestion progress event.
type EventKind int

const (
	RunStarted EventKind = iota
	FileStarted
	FileIngested
	FileSkipped
	RunFinished
)

func (k EventKind) String() string {
	switch k {
	case RunStarted:
		return "run_started"
	case FileStarted:
		return "file_started"
	case FileIngested:
		return "file_ingested"
	case FileSkipped:
		return "file_skipped"
	case RunFinished:
		return "run_finished"
	}
	return "unknown"
}

// Skip reasons reported with FileSkipped.
const (
	ReasonEmpty     = "empty"
	ReasonChunking  = "chunking"
	ReasonEmbedding = "embedding"
	ReasonEncoding  = "encoding"
	ReasonStorage   = "storage"
)

// IngestEvent is emitted by IngestService as a run progresses. Only the
// fields relevant to Kind are set.
type IngestEvent struct {
	Kind EventKind

	Path  string
	Index int // 1-based position of Path in the run
	Total int

	Chunks  int
	Summary string

	Reason string
	Err    error

	Successful int
	Skipped    int
}

// FileOutcome is the per-file line of an IngestReport.
type FileOutcome struct {
	Path    string
	Chunks  int
	Skipped bool
	Reason  string
	Summary string
	Err     error
}

// IngestReport summarizes a run with at least one successful file.
type IngestReport struct {
	SuccessfulFiles int
	SkippedFiles    int
	Chunks          int
	Files           []FileOutcome
}
