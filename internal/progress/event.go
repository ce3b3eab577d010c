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
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StagePageDone Stage = "PAGE_DONE"
	StagePageFail Stage = "PAGE_FAIL"
	StagePageSkip Stage = "PAGE_SKIP"
)

// Event captures a single archiving milestone.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which run or page milestone occurred.
	Stage Stage
	// URL is the page URL for page stages.
	URL string
	// Section names the entry point the page belongs to.
	Section string
	// OutputPath is the artifact URI recorded for archived pages.
	OutputPath string
	// Category carries the failure classification for PAGE_FAIL.
	Category string
	// Succeeded/Failed/Skipped hold end-of-run tallies on run completion.
	Succeeded int
	Failed    int
	Skipped   int
	// Dur captures handling latency for pages and wall time for runs.
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
	case StagePageDone, StagePageSkip:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StagePageFail:
		if e.URL == "" {
			return errors.New("page fail requires url")
		}
		if e.Category == "" {
			return errors.New("page fail requires category")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
