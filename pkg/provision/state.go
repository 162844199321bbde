package provision

// State is a step of the install pipeline.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateExtracting  State = "extracting"
	StateOrganizing  State = "organizing"
	StateRecording   State = "recording"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage names a progress-tracked step. Start and Complete wrap each tool
// when several are installed in one call.
type Stage string

const (
	StageStart    Stage = "start"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageOrganize Stage = "organize"
	StageComplete Stage = "complete"
)

// ProgressEvent reports percent completion of one stage.
type ProgressEvent struct {
	Tool    string
	Stage   Stage
	Percent int
}

// ProgressFunc is called synchronously on the installing goroutine.
type ProgressFunc func(ProgressEvent)

func percent(current, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(current * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
