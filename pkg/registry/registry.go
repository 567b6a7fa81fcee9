package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/metrics"
	"tokenizerd/pkg/utils"
)

// CountCache stores derived token counts keyed by scheme and text hash.
// Implementations must be safe for concurrent use. Misses and write failures
// are non-fatal; the registry falls back to computing the count.
type CountCache interface {
	Get(key string) (int, bool)
	Set(key string, count int)
}

// Registry holds at most one active tokenizer in a guarded slot. A single
// mutex covers the whole read-or-replace critical section and is never
// exposed; the Encoder is not assumed safe to share without it, so all access
// is serialized here. Lock acquisition has no timeout: callers block until
// the current holder finishes.
type Registry struct {
	mu       sync.Mutex
	enc      encoder.Encoder // nil = empty slot
	poisoned bool            // set when an encoder panics under the lock; sticky

	resolver  encoder.Resolver
	cache     CountCache         // optional
	collector *metrics.Collector // optional, nil-safe
	log       *logrus.Entry
}

// NewRegistry builds a registry around the given resolver. cache and
// collector may be nil.
func NewRegistry(resolver encoder.Resolver, cache CountCache, collector *metrics.Collector, appLogger *logrus.Logger) *Registry {
	if appLogger == nil {
		appLogger = logrus.StandardLogger()
	}
	return &Registry{
		resolver:  resolver,
		cache:     cache,
		collector: collector,
		log:       appLogger.WithField("component", "registry"),
	}
}

// Initialize resolves the named scheme and installs its encoder in the slot,
// replacing any previous tokenizer (last writer wins). The returned error is
// always one of the status sentinels; StatusOf maps it to the boundary code.
//
// An absent name fails with ErrNullInput and a name outside the closed set
// with ErrUnrecognizedScheme, both without touching the slot or its guard.
// A recognized scheme whose encoder cannot be loaded clears the slot and
// fails with ErrResolutionFailed.
func (r *Registry) Initialize(name *string) error {
	if name == nil {
		r.collector.RecordInitialize("", StatusNullInput.String())
		return ErrNullInput
	}

	schemeName := *name
	if !utf8.ValidString(schemeName) {
		// Undecodable bytes degrade to empty text, which names no scheme.
		schemeName = ""
	}

	// Resolution happens outside the critical section; vocabulary loading is
	// the expensive part and must not extend lock hold time.
	enc, err := r.resolver.Resolve(schemeName)
	if err != nil && errors.Is(err, encoder.ErrUnknownScheme) {
		r.log.WithField("scheme", schemeName).Warn("Initialization rejected: unrecognized scheme")
		r.collector.RecordInitialize(schemeName, StatusUnrecognizedScheme.String())
		return fmt.Errorf("%w: %q", ErrUnrecognizedScheme, schemeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		r.collector.RecordInitialize(schemeName, StatusLockFailure.String())
		return ErrLockFailure
	}

	if err != nil {
		// Scheme recognized but no encoder came back. Clear the slot so a
		// half-configured registry cannot keep serving counts.
		r.enc = nil
		r.log.WithField("scheme", schemeName).WithError(err).Error("Encoder resolution failed, registry cleared")
		r.collector.RecordInitialize(schemeName, StatusResolutionFailed.String())
		return fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	r.enc = enc
	r.log.WithFields(logrus.Fields{
		"scheme": enc.Scheme().String(),
		"model":  enc.Scheme().ModelID(),
	}).Info("Tokenizer initialized")
	r.collector.RecordInitialize(schemeName, StatusOK.String())
	return nil
}

// Count returns the token count of text under the active tokenizer. It never
// fails: an absent reference, undecodable bytes, an empty registry and a
// poisoned registry all degrade to zero. Callers that need to tell these
// apart consult Active.
func (r *Registry) Count(text *string) (count int) {
	if text == nil {
		return 0
	}

	s := *text
	if !utf8.ValidString(s) {
		s = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned || r.enc == nil {
		return 0
	}

	// An encoder panic under the lock leaves the slot in an unknown state;
	// mark the registry poisoned and degrade this and every later call.
	defer func() {
		if p := recover(); p != nil {
			r.poisoned = true
			r.log.WithField("panic", p).Error("Encoder panicked during count, registry poisoned until restart")
			count = 0
		}
	}()

	scheme := r.enc.Scheme()
	var key string
	if r.cache != nil {
		key = cacheKey(scheme, s)
		if cached, ok := r.cache.Get(key); ok {
			r.collector.RecordCacheHit()
			return cached
		}
		r.collector.RecordCacheMiss()
	}

	start := time.Now()
	count = r.enc.Count(s)
	r.collector.RecordCount(scheme.String(), count, time.Since(start))

	if r.cache != nil {
		r.cache.Set(key, count)
	}
	return count
}

// Reset clears the slot. It is idempotent and reports nothing; resetting an
// empty registry is a no-op, and a poisoned registry stays untouched.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return
	}
	if r.enc != nil {
		r.log.WithField("scheme", r.enc.Scheme().String()).Info("Tokenizer reset")
	}
	r.enc = nil
	r.collector.RecordReset()
}

// Active reports the scheme of the installed tokenizer, if any. A poisoned
// registry reports none.
func (r *Registry) Active() (encoder.Scheme, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned || r.enc == nil {
		return encoder.SchemeUnset, false
	}
	return r.enc.Scheme(), true
}

// Poisoned reports whether the registry has entered the unrecoverable
// degraded mode.
func (r *Registry) Poisoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poisoned
}

// Counts are a pure function of (scheme, text), so keys carry both: a
// re-initialized registry can never serve another scheme's segmentation.
func cacheKey(s encoder.Scheme, text string) string {
	return string(s) + ":" + utils.CalculateStringSHA256(text)
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the shared process-wide registry behind the package-level
// operations. It resolves against the embedded vocabularies and carries no
// cache or metrics.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(encoder.NewTiktokenResolver(), nil, nil, logrus.StandardLogger())
	})
	return defaultRegistry
}

// Initialize selects the active tokenizer on the shared registry.
func Initialize(name *string) error {
	return Default().Initialize(name)
}

// Count returns the token count of text under the shared registry's tokenizer.
func Count(text *string) int {
	return Default().Count(text)
}

// Reset clears the shared registry.
func Reset() {
	Default().Reset()
}
