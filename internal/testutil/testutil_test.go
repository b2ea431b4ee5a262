package testutil

import (
	"testing"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

func TestFakeClock_Now(t *testing.T) {
	clock := NewFakeClock(Epoch)

	if got := clock.Now(); !got.Equal(Epoch) {
		t.Errorf("Now() = %v, want %v", got, Epoch)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch)

	clock.Advance(5 * time.Minute)
	if want := Epoch.Add(5 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("after Advance(5m), Now() = %v, want %v", clock.Now(), want)
	}

	clock.Advance(-10 * time.Minute)
	if want := Epoch.Add(-5 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("after Advance(-10m), Now() = %v, want %v", clock.Now(), want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}

	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestPostAndPage(t *testing.T) {
	p := Post("1", "Hello", "body")
	if p.Type != domain.ContentTypePost || !p.Status.Public() {
		t.Errorf("Post() = %+v, want published post", p)
	}
	g := Page("2", "About", "")
	if g.Type != domain.ContentTypePage || g.ID != "2" {
		t.Errorf("Page() = %+v, want page 2", g)
	}
}
