// Package tracestore provides read access to a recorded cluster trace.
package tracestore

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Store answers the questions the mutation engine asks about a trace.
// Implementations must be safe for concurrent readers.
type Store interface {
	// HasObj reports whether the trace contains an object with key "namespace/name".
	HasObj(key string) bool
	// LookupPodLifecycle returns the recorded lifecycle of the ordinal-th pod with the
	// given spec hash owned by ownerKey.
	LookupPodLifecycle(ownerKey string, hash uint64, ordinal int) PodLifecycleData
}

// LifecycleState discriminates PodLifecycleData.
type LifecycleState int

const (
	LifecycleUnknown LifecycleState = iota
	LifecycleRunning
	LifecycleFinished
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleRunning:
		return "Running"
	case LifecycleFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// PodLifecycleData is what the trace knows about one historical pod.
// Timestamps are unix seconds; EndTS is only meaningful when State is LifecycleFinished.
type PodLifecycleData struct {
	State   LifecycleState
	StartTS int64
	EndTS   int64
}

// Unknown is returned when the trace has no record for a pod.
func Unknown() PodLifecycleData { return PodLifecycleData{} }

// Running describes a pod that was still running when the trace ended.
func Running(start int64) PodLifecycleData {
	return PodLifecycleData{State: LifecycleRunning, StartTS: start}
}

// Finished describes a pod that started and terminated within the trace.
func Finished(start, end int64) PodLifecycleData {
	return PodLifecycleData{State: LifecycleFinished, StartTS: start, EndTS: end}
}

// Lifetime returns the duration in seconds of a finished pod.
// ok is false for any other state or for a negative duration.
func (d PodLifecycleData) Lifetime() (seconds int64, ok bool) {
	if d.State != LifecycleFinished || d.EndTS < d.StartTS {
		return 0, false
	}
	return d.EndTS - d.StartTS, true
}

func (d PodLifecycleData) String() string {
	switch d.State {
	case LifecycleFinished:
		return fmt.Sprintf("Finished(%d,%d)", d.StartTS, d.EndTS)
	case LifecycleRunning:
		return fmt.Sprintf("Running(%d)", d.StartTS)
	default:
		return "Unknown"
	}
}

// Trace is the on-disk representation of a recording.
type Trace struct {
	// Version of the trace format.
	Version int `json:"version"`
	// Events are the recorded object changes, ordered by TS.
	Events []Event `json:"events,omitempty"`
	// Objects lists additional "namespace/name" keys known to the trace.
	// Every object applied by an event is known implicitly.
	Objects []string `json:"objects,omitempty"`
	// PodLifecycles holds the observed pod lifetimes, grouped by owner and spec hash.
	PodLifecycles []PodLifecycleRecord `json:"podLifecycles,omitempty"`
}

// Event is a batch of object changes observed at one point in time.
type Event struct {
	// TS is the unix timestamp of the event in seconds.
	TS int64 `json:"ts"`
	// Applied objects were created or updated.
	Applied []unstructured.Unstructured `json:"applied,omitempty"`
	// Deleted objects were removed.
	Deleted []unstructured.Unstructured `json:"deleted,omitempty"`
}

// PodLifecycleRecord lists the pods of one owner sharing a spec hash, in creation order.
type PodLifecycleRecord struct {
	// OwnerKey is the "namespace/name" of the pod's owner in the trace.
	OwnerKey string `json:"ownerKey"`
	// Hash is the decimal pod spec hash.
	Hash string `json:"hash"`
	// Lifecycles are indexed by replica ordinal.
	Lifecycles []LifecycleRecord `json:"lifecycles"`
}

// LifecycleRecord is one pod's observed timing. A missing EndTS means it never terminated.
type LifecycleRecord struct {
	StartTS int64  `json:"startTS"`
	EndTS   *int64 `json:"endTS,omitempty"`
}

// Data converts the record to PodLifecycleData.
func (r LifecycleRecord) Data() PodLifecycleData {
	if r.EndTS == nil {
		return Running(r.StartTS)
	}
	return Finished(r.StartTS, *r.EndTS)
}

// ObjectKey returns the "namespace/name" key used to address trace objects.
func ObjectKey(namespace, name string) string {
	return namespace + "/" + name
}
