package datasource

// ProgressSink receives progress updates for an add operation. Implementations
// must be safe for use from the task goroutine and the poller goroutine.
type ProgressSink interface {
	SetIndeterminate(indeterminate bool)
	SetProgress(percent int)
	SetProgressText(text string)
}

// NoopProgressSink discards every update.
type NoopProgressSink struct{}

func (NoopProgressSink) SetIndeterminate(bool)  {}
func (NoopProgressSink) SetProgress(int)        {}
func (NoopProgressSink) SetProgressText(string) {}
