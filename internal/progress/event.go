package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageSourceStart  Stage = "SOURCE_START"
	StageSourceDone   Stage = "SOURCE_DONE"
	StageProbe        Stage = "PROBE"
	StageFetchAttempt Stage = "FETCH_ATTEMPT"
	StageRoute        Stage = "ROUTE"
	StageStrategy     Stage = "STRATEGY"
	StageQualify      Stage = "QUALIFY"
)

// Outcome values shared by emitters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeAccept  = "accept"
	OutcomeReject  = "reject"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch attempts.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a harvest job.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// TopicID is set on job events.
	TopicID string
	// Domain is the normalized host the event concerns.
	Domain string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// SourceID scopes source and strategy events.
	SourceID string
	// Strategy names the discovery strategy or alternate route.
	Strategy string
	// Diagnosis is the accessibility diagnosis for probe and fetch events.
	Diagnosis string
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Outcome is success/failure/skipped or accept/reject.
	Outcome string
	// Reason carries a short rejection or failure reason.
	Reason string
	// Count is the number of articles found or stored.
	Count int
	// Dur captures execution latency.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageSourceStart, StageSourceDone:
		if e.SourceID == "" {
			return errors.New("source events require source id")
		}
	case StageProbe, StageFetchAttempt:
		if e.Domain == "" {
			return fmt.Errorf("%s requires domain", e.Stage)
		}
	case StageRoute, StageStrategy:
		if e.Strategy == "" {
			return fmt.Errorf("%s requires strategy", e.Stage)
		}
	case StageQualify:
		if e.Outcome == "" {
			return errors.New("qualify requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// Lifecycle reports whether the stage drives job and source status. The
// remaining stages are per-attempt diagnostics and are shed first under load.
func (s Stage) Lifecycle() bool {
	switch s {
	case StageJobStart, StageJobDone, StageJobError, StageSourceStart, StageSourceDone:
		return true
	default:
		return false
	}
}

// JobUUID converts the binary job ID to uuid.UUID for repositories.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

type jobIDKey struct{}

// WithJobID attaches a job id to ctx so deep components can emit events
// without threading the id through every call.
func WithJobID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, jobIDKey{}, UUIDToBytes(id))
}

// JobIDFrom returns the job id stored in ctx.
func JobIDFrom(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(jobIDKey{}).([16]byte)
	return id, ok && id != [16]byte{}
}

// Emit stamps evt with the job id from ctx and the current time, then hands it
// to e. Events outside a job are discarded.
func Emit(ctx context.Context, e Emitter, evt Event) {
	if e == nil {
		return
	}
	if evt.JobID == [16]byte{} {
		id, ok := JobIDFrom(ctx)
		if !ok {
			return
		}
		evt.JobID = id
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	e.Emit(evt)
}
