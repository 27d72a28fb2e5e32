// Package routine supervises the pod's long-running one-shot control loops
// (empty, fill, calibrate) and tracks their progress in a fixed-capacity
// registry that front ends query by routine ID.
package routine

import "math"

// Status is the lifecycle state of a routine. Terminal states are sticky.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Height sentinels. Heights are raw sensor distances in millimeters.
const (
	heightUnmeasured = -1
	minHeightInit    = math.MaxInt32
)

// Record is the live progress/result record of one routine. All access goes
// through the Registry; tasks mutate their record only through
// Registry.Update with their captured generation.
type Record struct {
	InUse      bool
	ID         int
	Name       string
	Status     Status
	Generation uint64

	StartHeightMM int
	EndHeightMM   int
	MinHeightMM   int
	MaxHeightMM   int
	TimeElapsedS  float64
	PowerUsedMWS  float64 // energy, milliwatt-seconds
}

// reset re-arms a record for a new run, bumping its generation so any
// still-running task bound to the old generation self-aborts.
func (r *Record) reset(name string) {
	r.Name = clipName(name)
	r.Status = StatusPending
	r.Generation++
	r.StartHeightMM = heightUnmeasured
	r.EndHeightMM = heightUnmeasured
	r.MinHeightMM = minHeightInit
	r.MaxHeightMM = 0
	r.TimeElapsedS = 0
	r.PowerUsedMWS = 0
}

// ObserveHeight folds a valid sensor reading into the min/max tracking.
func (r *Record) ObserveHeight(mm int) {
	if mm < r.MinHeightMM {
		r.MinHeightMM = mm
	}
	if mm > r.MaxHeightMM {
		r.MaxHeightMM = mm
	}
}

const maxNameLen = 31

func clipName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}
