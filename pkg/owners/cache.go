// Package owners resolves owner-reference chains of live objects, caching what it fetches.
package owners

import (
	"context"
	"fmt"
	"sync"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/go-logr/logr"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/metrics"
)

const (
	// MaxDepth bounds how many ownership hops Chain follows above the starting object.
	MaxDepth = 16

	DefaultSize = 10000
	DefaultTTL  = 10 * time.Minute
)

// Key identifies an object whose owner references are cached.
type Key struct {
	APIVersion string
	Kind       string
	Namespace  string
	Name       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s %s/%s", k.APIVersion, k.Kind, k.Namespace, k.Name)
}

// KeyFor returns the identity of the object ref points at, assuming it lives in namespace.
func KeyFor(ref metav1.OwnerReference, namespace string) Key {
	return Key{APIVersion: ref.APIVersion, Kind: ref.Kind, Namespace: namespace, Name: ref.Name}
}

// Ancestor is one link of an owner chain.
type Ancestor struct {
	Ref       metav1.OwnerReference
	Namespace string
	// Depth is 1 for a direct owner of the starting object.
	Depth int
}

// IsSimulationRoot reports whether the ancestor is a SimulationRoot.
func (a Ancestor) IsSimulationRoot() bool {
	return isSimulationRoot(a.Ref)
}

// Cache maps object identities to their owner references as last observed.
// A single lock covers both the lookup and, on a miss, the live fetch.
type Cache struct {
	client  client.Reader
	mu      sync.Mutex
	entries *cache.Cache[Key, []metav1.OwnerReference]
	ttl     time.Duration
	metrics *metrics.Collectors
	log     logr.Logger
}

// Config configures a Cache.
type Config struct {
	Client client.Reader
	Log    logr.Logger
	// Size bounds the number of cached entries. Least recently used entries are evicted first.
	Size int
	// TTL is how long an entry is trusted before it is fetched again.
	TTL     time.Duration
	Metrics *metrics.Collectors
}

// NewCache creates a new owner-resolution Cache.
func NewCache(cfg Config) *Cache {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client:  cfg.Client,
		entries: cache.New[Key, []metav1.OwnerReference](cache.AsLRU[Key, []metav1.OwnerReference](lru.WithCapacity(size))),
		ttl:     ttl,
		metrics: cfg.Metrics,
		log:     cfg.Log.WithName("owners"),
	}
}

// Resolve returns the owner references of the object identified by key.
// A deleted object yields an error for which apierrors.IsNotFound is true.
func (c *Cache) Resolve(ctx context.Context, key Key) ([]metav1.OwnerReference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if refs, ok := c.entries.Get(key); ok {
		c.metrics.RecordOwnerLookup(metrics.CacheHit)
		return refs, nil
	}

	gv, err := schema.ParseGroupVersion(key.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid API version %q: %w", key.APIVersion, err)
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gv.WithKind(key.Kind))
	if err := c.client.Get(ctx, client.ObjectKey{Namespace: key.Namespace, Name: key.Name}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			c.metrics.RecordOwnerLookup(metrics.CacheNotFound)
		}
		return nil, fmt.Errorf("failed to get owner %s: %w", key, err)
	}
	c.metrics.RecordOwnerLookup(metrics.CacheMiss)

	refs := obj.GetOwnerReferences()
	c.entries.Set(key, refs, cache.WithExpiration(c.ttl))
	c.log.V(1).Info("cached owner references", "object", key.String(), "owners", len(refs))
	return refs, nil
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Delete(key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Chain walks the ownership graph above obj breadth-first and returns every ancestor,
// nearest first. The walk stops at SimulationRoots and at MaxDepth, and visits each
// identity at most once, so malformed ownership graphs cannot loop.
func (c *Cache) Chain(ctx context.Context, obj client.Object) ([]Ancestor, error) {
	var chain []Ancestor
	seen := map[Key]bool{}

	queue := make([]Ancestor, 0, len(obj.GetOwnerReferences()))
	for _, ref := range obj.GetOwnerReferences() {
		queue = append(queue, Ancestor{Ref: ref, Namespace: obj.GetNamespace(), Depth: 1})
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		key := KeyFor(next.Ref, next.Namespace)
		if seen[key] {
			continue
		}
		seen[key] = true
		chain = append(chain, next)

		if next.IsSimulationRoot() {
			continue
		}
		if next.Depth >= MaxDepth {
			c.log.Info("owner chain exceeds maximum depth, truncating", "object", key.String(), "maxDepth", MaxDepth)
			continue
		}

		refs, err := c.Resolve(ctx, key)
		if err != nil {
			return chain, err
		}
		for _, ref := range refs {
			queue = append(queue, Ancestor{Ref: ref, Namespace: next.Namespace, Depth: next.Depth + 1})
		}
	}

	return chain, nil
}

func isSimulationRoot(ref metav1.OwnerReference) bool {
	gv, err := schema.ParseGroupVersion(ref.APIVersion)
	if err != nil {
		return false
	}
	return gv.Group == simkubev1.GroupName && ref.Kind == "SimulationRoot"
}
