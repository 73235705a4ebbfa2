package history

import (
	"github.com/sweeney/espresso-pid/internal/logic"
)

// Appender stores a finished shot.
type Appender interface {
	Add(shot Shot) error
}

// Recorder turns supervisor brew events into shot records and owns the
// shot ID attached to published events.
type Recorder struct {
	store   Appender
	newID   func() string
	current *Shot
	id      string
}

// NewRecorder creates a Recorder. store may be nil, in which case shots are
// tracked but not persisted.
func NewRecorder(store Appender, newID func() string) *Recorder {
	return &Recorder{store: store, newID: newID}
}

// Observe consumes the events of one control-loop status. It returns the
// shot that ended during this status, if any. A storage error is returned
// alongside the shot.
func (r *Recorder) Observe(st logic.Status) (*Shot, error) {
	var done *Shot
	for _, e := range st.Events {
		switch e.Type {
		case logic.EventBrewStart:
			r.id = r.newID()
			r.current = &Shot{ID: r.id, Start: e.Timestamp, StartTemp: e.Input}
		case logic.EventBrewEnd, logic.EventBrewAbort:
			if r.current == nil {
				continue
			}
			shot := *r.current
			shot.End = e.Timestamp
			shot.Duration = e.Timestamp.Sub(shot.Start).Seconds()
			shot.Weight = st.Weight
			shot.EndTemp = e.Input
			if e.Type == logic.EventBrewAbort {
				shot.Aborted = true
				if e.Detail == "interlock" {
					shot.Reason = e.Detail
				}
			}
			r.current = nil
			done = &shot
		}
	}

	if done != nil && r.store != nil {
		return done, r.store.Add(*done)
	}
	return done, nil
}

// ShotID returns the ID of the running shot, or of the last shot once it
// has ended. It is empty before the first shot.
func (r *Recorder) ShotID() string {
	return r.id
}

// Running reports whether a shot is being recorded.
func (r *Recorder) Running() bool {
	return r.current != nil
}
