package tracestore

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"sigs.k8s.io/yaml"
)

type lifecycleKey struct {
	owner string
	hash  uint64
}

// FileStore is an in-memory Store built from a Trace. It is read-only after construction.
type FileStore struct {
	trace      *Trace
	objects    map[string]struct{}
	lifecycles map[lifecycleKey][]PodLifecycleData
}

var _ Store = &FileStore{}

// Load reads a trace from a file:// URI or a plain path. YAML and JSON are both accepted.
func Load(uri string) (*FileStore, error) {
	path, err := tracePath(uri)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trace file: %w", err)
	}

	return NewFileStore(&t)
}

// NewFileStore indexes t.
func NewFileStore(t *Trace) (*FileStore, error) {
	s := &FileStore{
		trace:      t,
		objects:    make(map[string]struct{}),
		lifecycles: make(map[lifecycleKey][]PodLifecycleData),
	}

	for _, key := range t.Objects {
		s.objects[key] = struct{}{}
	}
	for _, evt := range t.Events {
		for i := range evt.Applied {
			obj := &evt.Applied[i]
			s.objects[ObjectKey(obj.GetNamespace(), obj.GetName())] = struct{}{}
		}
	}

	for _, rec := range t.PodLifecycles {
		hash, err := strconv.ParseUint(rec.Hash, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pod spec hash %q for owner %q: %w", rec.Hash, rec.OwnerKey, err)
		}
		key := lifecycleKey{owner: rec.OwnerKey, hash: hash}
		for _, lc := range rec.Lifecycles {
			s.lifecycles[key] = append(s.lifecycles[key], lc.Data())
		}
	}

	return s, nil
}

// HasObj implements Store.
func (s *FileStore) HasObj(key string) bool {
	_, ok := s.objects[key]
	return ok
}

// LookupPodLifecycle implements Store. Ordinals beyond the recorded replicas wrap around.
func (s *FileStore) LookupPodLifecycle(ownerKey string, hash uint64, ordinal int) PodLifecycleData {
	lcs := s.lifecycles[lifecycleKey{owner: ownerKey, hash: hash}]
	if len(lcs) == 0 || ordinal < 0 {
		return Unknown()
	}
	return lcs[ordinal%len(lcs)]
}

// Events returns the recorded events in order.
func (s *FileStore) Events() []Event {
	return s.trace.Events
}

// Start returns the timestamp of the first event, or 0 for an empty trace.
func (s *FileStore) Start() int64 {
	if len(s.trace.Events) == 0 {
		return 0
	}
	return s.trace.Events[0].TS
}

func tracePath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid trace location %q: %w", uri, err)
	}
	switch u.Scheme {
	case "":
		return uri, nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("file trace location %q must not name a host", uri)
		}
		return u.Path, nil
	default:
		return "", fmt.Errorf("unsupported trace scheme %q", u.Scheme)
	}
}
