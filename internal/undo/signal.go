package undo

// SignalKind identifies a manager notification.
type SignalKind int

const (
	// SignalUndoAvailable carries the new UndoAvailable value.
	SignalUndoAvailable SignalKind = iota + 1
	// SignalUndoTextChanged carries the new UndoText value.
	SignalUndoTextChanged
	// SignalUndoJobFinished carries the Result of a finished undo session.
	SignalUndoJobFinished
	// SignalFilesAdded asks views of Dir to refresh.
	SignalFilesAdded
)

func (k SignalKind) String() string {
	switch k {
	case SignalUndoAvailable:
		return "undo_available"
	case SignalUndoTextChanged:
		return "undo_text_changed"
	case SignalUndoJobFinished:
		return "undo_job_finished"
	case SignalFilesAdded:
		return "files_added"
	}
	return "unknown"
}

// Signal is one manager notification; only the fields of its Kind are set.
type Signal struct {
	Kind      SignalKind
	Available bool
	Text      string
	Dir       string
	Result    Result
}

// Result describes a finished undo session. Steps counts compensating jobs
// that completed; a non-nil Err with Steps > 0 means the undo was partially
// applied.
type Result struct {
	Command Command
	Steps   int
	Err     error
}
