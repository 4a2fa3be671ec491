package streamcache

import "github.com/google/uuid"

// EventKind identifies what happened in a coordinator.
type EventKind int

const (
	EventSubmitted     EventKind = iota // request registered
	EventCacheHit                       // Length bytes served from the cache file
	EventFetchStarted                   // network task opened at Offset, Length is -1 when open ended
	EventNetworkData                    // Length bytes received from the network
	EventReadAheadCut                   // network task dropped because enough data was cached ahead
	EventContentInfo                    // content length and type became known
	EventCompleted                      // request fully served
	EventFailed                         // request failed with Err
	EventCancelled                      // request cancelled by the caller
	EventPersistFailed                  // cache write or metadata save failed with Err
	EventShutdown                       // coordinator invalidated
)

var eventNames = [...]string{
	EventSubmitted:     "submitted",
	EventCacheHit:      "cache_hit",
	EventFetchStarted:  "fetch_started",
	EventNetworkData:   "network_data",
	EventReadAheadCut:  "read_ahead_cut",
	EventContentInfo:   "content_info",
	EventCompleted:     "completed",
	EventFailed:        "failed",
	EventCancelled:     "cancelled",
	EventPersistFailed: "persist_failed",
	EventShutdown:      "shutdown",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is passed to observers. Request is the zero UUID for events that are
// not tied to a request.
type Event struct {
	Kind    EventKind
	Request uuid.UUID
	Offset  int64
	Length  int64
	Info    ContentInfo
	Err     error
}

// Observer receives coordinator events. Observe is called while the
// coordinator holds its lock: it must return quickly and must not call back
// into the coordinator.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers combines several observers into one, skipping nil entries.
func Observers(obs ...Observer) Observer {
	var res multiObserver
	for _, o := range obs {
		if o != nil {
			res = append(res, o)
		}
	}
	switch len(res) {
	case 0:
		return nil
	case 1:
		return res[0]
	}
	return res
}
