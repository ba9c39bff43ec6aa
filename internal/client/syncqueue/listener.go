package syncqueue

import "github.com/dmitrijs2005/famsync/internal/client/models"

// Listener observes drains. Callbacks run on the draining goroutine and
// must not block.
type Listener interface {
	OnSyncStart()
	OnSyncProgress(processed, total int)
	OnSyncComplete(summary Summary, err error)
	OnConflict(rec models.ConflictRecord)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Start    func()
	Progress func(processed, total int)
	Complete func(summary Summary, err error)
	Conflict func(rec models.ConflictRecord)
}

func (f ListenerFuncs) OnSyncStart() {
	if f.Start != nil {
		f.Start()
	}
}

func (f ListenerFuncs) OnSyncProgress(processed, total int) {
	if f.Progress != nil {
		f.Progress(processed, total)
	}
}

func (f ListenerFuncs) OnSyncComplete(summary Summary, err error) {
	if f.Complete != nil {
		f.Complete(summary, err)
	}
}

func (f ListenerFuncs) OnConflict(rec models.ConflictRecord) {
	if f.Conflict != nil {
		f.Conflict(rec)
	}
}
