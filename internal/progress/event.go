package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageArticleDone Stage = "ARTICLE_DONE"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Event captures one milestone of a crawl run. Events for a single run are
// emitted with monotonically increasing Crawled counts.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Account is the public account being crawled.
	Account string
	// Title is the article title for ARTICLE_DONE events.
	Title string
	// Crawled is the number of articles persisted so far.
	Crawled int
	// Total is the source-reported article count (0 until the first page).
	Total int
	// Progress is Crawled/Total as a percentage rounded to one decimal.
	Progress float64
	// Dur captures run wall time on RUN_DONE / RUN_ERROR.
	Dur time.Duration
	// Note carries low-volume context such as the failure message.
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
	case StageArticleDone:
		if e.Crawled <= 0 {
			return errors.New("article done requires a positive crawled count")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Crawled < 0 || e.Total < 0 {
		return errors.New("counters must be >= 0")
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

// Percent computes crawled/max(total,1) as a percentage rounded to one
// decimal place.
func Percent(crawled, total int) float64 {
	if total < 1 {
		total = 1
	}
	pct := float64(crawled) / float64(total) * 100
	return math.Round(pct*10) / 10
}
