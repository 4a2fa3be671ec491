package streamcache

import (
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type logObserver struct {
	log logrus.FieldLogger
}

// NewLogObserver returns an Observer writing coordinator events to log.
// Per-chunk events are logged at trace level, request lifecycle at debug,
// failures at warn.
func NewLogObserver(log logrus.FieldLogger) Observer {
	return &logObserver{log: log}
}

func (o *logObserver) Observe(ev Event) {
	fields := logrus.Fields{"action": ev.Kind.String()}
	if ev.Request != uuid.Nil {
		fields["request"] = ev.Request.String()
	}

	switch ev.Kind {
	case EventNetworkData, EventCacheHit:
		fields["offset"] = ev.Offset
		fields["length"] = ev.Length
		o.log.WithFields(fields).Trace("data delivered")
	case EventSubmitted, EventFetchStarted, EventReadAheadCut:
		fields["offset"] = ev.Offset
		fields["length"] = ev.Length
		o.log.WithFields(fields).Debug("request update")
	case EventContentInfo:
		fields["content_length"] = ev.Info.ContentLength
		fields["content_type"] = ev.Info.ContentType
		o.log.WithFields(fields).Infof("content is %s", humanize.IBytes(uint64(ev.Info.ContentLength)))
	case EventCompleted, EventCancelled:
		o.log.WithFields(fields).Debug("request finished")
	case EventFailed, EventPersistFailed:
		fields["offset"] = ev.Offset
		fields["length"] = ev.Length
		o.log.WithFields(fields).WithError(ev.Err).Warn("request error")
	default:
		o.log.WithFields(fields).Info("coordinator event")
	}
}
