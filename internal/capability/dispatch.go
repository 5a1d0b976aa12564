package capability

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nowwhat/placeagent/internal/telemetry"
)

// Outcome is what a single dispatch produced.
type Outcome struct {
	Result   map[string]interface{}
	Attempts int
	Cached   bool
}

// Dispatcher validates, caches and invokes capabilities. It owns the retry
// discipline; recording outcomes into the session is the loop's job.
type Dispatcher struct {
	registry    *Registry
	cache       ResultCache
	cacheTTL    time.Duration
	callTimeout time.Duration
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
}

// NewDispatcher wires a dispatcher. cache may be nil to disable result
// caching; callTimeout bounds each invocation attempt.
func NewDispatcher(registry *Registry, cache ResultCache, cacheTTL, callTimeout time.Duration, logger *log.Logger, tel *telemetry.Telemetry) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)
	}
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Dispatcher{
		registry:    registry,
		cache:       cache,
		cacheTTL:    cacheTTL,
		callTimeout: callTimeout,
		logger:      logger,
		telemetry:   tel,
	}
}

// Registry exposes the underlying registry for descriptor listings.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Validate checks a request against the registry without invoking anything.
// Returns ErrUnknownCapability or ErrInvalidArguments.
func (d *Dispatcher) Validate(name string, args map[string]interface{}) (Descriptor, error) {
	desc, _, ok := d.registry.Lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	if err := Validate(desc.InputSchema, args); err != nil {
		return desc, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	return desc, nil
}

// Dispatch invokes a capability whose request has already passed Validate.
// It retries within the descriptor's attempt cap, bounds every attempt with
// the per-call timeout, validates the output schema, and serves idempotent
// capabilities through the result cache. The returned error, if any, is the
// last attempt's; it is non-fatal to the session.
func (d *Dispatcher) Dispatch(ctx context.Context, desc Descriptor, args map[string]interface{}) (Outcome, error) {
	handler := d.handlerFor(desc.Name)

	var cacheKey string
	if d.cache != nil && desc.Idempotent {
		cacheKey = CacheKey(desc.Name, args)
		if result, ok := d.cache.Get(ctx, cacheKey); ok {
			d.telemetry.CacheHit()
			return Outcome{Result: result, Cached: true}, nil
		}
		d.telemetry.CacheMiss()
	}

	attempts := desc.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		result, err := d.invoke(ctx, handler, args)
		if err == nil {
			err = validateOutput(desc, result)
		}
		elapsed := time.Since(start)
		if err == nil {
			d.telemetry.Dispatch(desc.Name, "success", elapsed)
			if cacheKey != "" {
				d.cache.Set(ctx, cacheKey, result, d.cacheTTL)
			}
			return Outcome{Result: result, Attempts: attempt}, nil
		}
		lastErr = err
		d.telemetry.Dispatch(desc.Name, "failure", elapsed)
		d.logger.Printf("capability %s attempt %d/%d failed: %v", desc.Name, attempt, attempts, err)
		if ctx.Err() != nil {
			// Session deadline hit mid-dispatch; no point retrying.
			return Outcome{Attempts: attempt}, fmt.Errorf("capability %s: %w", desc.Name, ctx.Err())
		}
	}
	return Outcome{Attempts: attempts}, fmt.Errorf("capability %s failed after %d attempts: %w", desc.Name, attempts, lastErr)
}

func (d *Dispatcher) handlerFor(name string) Handler {
	_, h, _ := d.registry.Lookup(name)
	return h
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, args map[string]interface{}) (map[string]interface{}, error) {
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	return handler(ctx, args)
}

func validateOutput(desc Descriptor, result map[string]interface{}) error {
	if err := Validate(desc.OutputSchema, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutput, desc.Name, err)
	}
	return nil
}
