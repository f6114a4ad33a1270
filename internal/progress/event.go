package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePageDone   Stage = "PAGE_DONE"
	StageDetailDone Stage = "DETAIL_DONE"
	StageRecord     Stage = "RECORD"
	StageNoData     Stage = "NO_DATA"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// City scopes the event to the crawled destination.
	City string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Page is the 1-based listing page index for page events.
	Page int
	// Bytes carries the response size for the fetch.
	Bytes int64
	// Records increments by the number of records a milestone produced.
	Records int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageNoData:
		if e.City == "" {
			return errors.New("no-data requires city")
		}
	case StagePageDone:
		if e.City == "" {
			return errors.New("page done requires city")
		}
		if e.Page < 1 {
			return errors.New("page done requires page index")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageDetailDone:
		if e.City == "" {
			return errors.New("detail done requires city")
		}
		if e.StatusClass == "" {
			return errors.New("detail done requires status class")
		}
	case StageRecord:
		if e.City == "" {
			return errors.New("record requires city")
		}
		if e.Page < 1 {
			return errors.New("record requires page index")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for sinks.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
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
