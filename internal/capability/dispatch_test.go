package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T, r *Registry, cache ResultCache) *Dispatcher {
	t.Helper()
	return NewDispatcher(r, cache, time.Minute, time.Second, nil, nil)
}

func TestValidateUnknownCapability(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry(), nil)
	_, err := d.Validate("no-such-tool", nil)
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestValidateBadArguments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testDescriptor("place-search"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := newTestDispatcher(t, r, nil)
	_, err := d.Validate("place-search", map[string]interface{}{"limit": float64(3)})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestDispatchRetriesWithinAttemptCap(t *testing.T) {
	r := NewRegistry()
	calls := 0
	desc := Descriptor{
		Name:         "flaky",
		InputSchema:  ObjectSchema(nil),
		OutputSchema: ObjectSchema(nil),
		MaxRetry:     2,
	}
	err := r.Register(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return nil, fmt.Errorf("upstream unavailable")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	d := newTestDispatcher(t, r, nil)
	outcome, err := d.Dispatch(context.Background(), desc, map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if calls != 2 {
		t.Fatalf("max_retry=2 must cap at 2 attempts, ran %d", calls)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", outcome.Attempts)
	}
}

func TestDispatchRecoversOnLaterAttempt(t *testing.T) {
	r := NewRegistry()
	calls := 0
	desc := Descriptor{
		Name:         "flaky",
		InputSchema:  ObjectSchema(nil),
		OutputSchema: ObjectSchema(map[string]string{"ok": "boolean"}),
		MaxRetry:     3,
	}
	_ = r.Register(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		calls++
		if calls < 2 {
			return nil, fmt.Errorf("transient")
		}
		return map[string]interface{}{"ok": true}, nil
	})
	d := newTestDispatcher(t, r, nil)
	outcome, err := d.Dispatch(context.Background(), desc, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %d", outcome.Attempts)
	}
}

func TestDispatchMalformedOutputIsFailure(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{
		Name:         "broken",
		InputSchema:  ObjectSchema(nil),
		OutputSchema: ObjectSchema(map[string]string{"count": "integer"}, "count"),
		MaxRetry:     1,
	}
	_ = r.Register(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"count": "three"}, nil
	})
	d := newTestDispatcher(t, r, nil)
	_, err := d.Dispatch(context.Background(), desc, map[string]interface{}{})
	if !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
}

func TestDispatchStopsWhenContextCancelled(t *testing.T) {
	r := NewRegistry()
	calls := 0
	desc := Descriptor{
		Name:         "slow",
		InputSchema:  ObjectSchema(nil),
		OutputSchema: ObjectSchema(nil),
		MaxRetry:     5,
	}
	ctx, cancel := context.WithCancel(context.Background())
	_ = r.Register(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		calls++
		cancel()
		return nil, fmt.Errorf("interrupted")
	})
	d := newTestDispatcher(t, r, nil)
	_, err := d.Dispatch(ctx, desc, map[string]interface{}{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d attempts", calls)
	}
}

func TestDispatchServesIdempotentResultsFromCache(t *testing.T) {
	r := NewRegistry()
	calls := 0
	desc := Descriptor{
		Name:         "geo",
		InputSchema:  ObjectSchema(map[string]string{"q": "string"}, "q"),
		OutputSchema: ObjectSchema(nil),
		Idempotent:   true,
		MaxRetry:     1,
	}
	_ = r.Register(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"answer": args["q"]}, nil
	})
	d := newTestDispatcher(t, r, NewMemoryCache())

	args := map[string]interface{}{"q": "seoul"}
	first, err := d.Dispatch(context.Background(), desc, args)
	if err != nil || first.Cached {
		t.Fatalf("first call: err=%v cached=%v", err, first.Cached)
	}
	second, err := d.Dispatch(context.Background(), desc, args)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Cached {
		t.Fatalf("expected cache hit on identical arguments")
	}
	if calls != 1 {
		t.Fatalf("handler should run once, ran %d times", calls)
	}
}

func TestMemoryCacheExpiryTreatedAsAbsent(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(context.Background(), "k", map[string]interface{}{"v": 1}, time.Minute)
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatalf("expected fresh entry")
	}
	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatalf("expired entry must be treated as absent")
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("place-search", map[string]interface{}{"q": "pasta", "limit": 5})
	b := CacheKey("place-search", map[string]interface{}{"limit": 5, "q": "pasta"})
	if a != b {
		t.Fatalf("equivalent argument maps must hash identically")
	}
	c := CacheKey("place-search", map[string]interface{}{"q": "pizza", "limit": 5})
	if a == c {
		t.Fatalf("different arguments must not collide")
	}
}
