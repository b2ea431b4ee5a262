// Package testutil provides shared test helpers for buildhook.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Epoch is a fixed instant used as the default starting point in tests.
var Epoch = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock by d. Negative values step it backwards.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Post returns a published post modified at Epoch.
func Post(id, title, body string) domain.ContentItem {
	return domain.ContentItem{
		ID:         id,
		Type:       domain.ContentTypePost,
		Title:      title,
		Body:       body,
		Status:     domain.ContentStatusPublish,
		ModifiedAt: Epoch,
	}
}

// Page returns a published page modified at Epoch.
func Page(id, title, body string) domain.ContentItem {
	item := Post(id, title, body)
	item.Type = domain.ContentTypePage
	return item
}
