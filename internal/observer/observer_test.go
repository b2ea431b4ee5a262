package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

type mockProcessor struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	err    error
}

func (m *mockProcessor) Process(ctx context.Context, event domain.ChangeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err == nil, m.err
}

func (m *mockProcessor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockMetrics struct {
	received, filtered int
}

func (m *mockMetrics) EventReceived(kind string) { m.received++ }
func (m *mockMetrics) EventFiltered(kind string) { m.filtered++ }

func TestShouldForward(t *testing.T) {
	pub := domain.ContentStatusPublish
	draft := domain.ContentStatusDraft
	trash := domain.ContentStatusTrash

	tests := []struct {
		name  string
		event domain.ChangeEvent
		want  bool
	}{
		{"publish new post", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, PreviousStatus: draft, ResultingStatus: pub}, true},
		{"edit published post", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, PreviousStatus: pub, ResultingStatus: pub}, true},
		{"unpublish post", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, PreviousStatus: pub, ResultingStatus: draft}, true},
		{"trash published post", domain.ChangeEvent{Kind: domain.ChangeKindContentDeleted, PreviousStatus: pub, ResultingStatus: trash}, true},
		{"edit draft", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, PreviousStatus: draft, ResultingStatus: draft}, false},
		{"delete draft", domain.ChangeEvent{Kind: domain.ChangeKindContentDeleted, PreviousStatus: draft}, false},
		{"delete with entity only", domain.ChangeEvent{Kind: domain.ChangeKindContentDeleted, EntityID: "1"}, true},
		{"delete of draft reported as trash", domain.ChangeEvent{Kind: domain.ChangeKindContentDeleted, ResultingStatus: trash}, true},
		{"unpublish with resulting status only", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, ResultingStatus: draft}, true},
		{"trash with resulting status only", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, ResultingStatus: trash}, true},
		{"save without statuses", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, EntityID: "1"}, true},
		{"draft to trash", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, PreviousStatus: draft, ResultingStatus: trash}, false},
		{"autosave of published post", domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, IsTransient: true, PreviousStatus: pub, ResultingStatus: pub}, false},
		{"menu update", domain.ChangeEvent{Kind: domain.ChangeKindMenuUpdated}, true},
		{"taxonomy change", domain.ChangeEvent{Kind: domain.ChangeKindTaxonomyChanged}, true},
		{"scheduled resync", domain.ChangeEvent{Kind: domain.ChangeKindScheduledResync}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldForward(tt.event); got != tt.want {
				t.Errorf("ShouldForward() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandle_FiltersNoise(t *testing.T) {
	p := &mockProcessor{}
	m := &mockMetrics{}
	o := New(p).WithMetrics(m)

	o.Handle(context.Background(), domain.ChangeEvent{Kind: domain.ChangeKindContentSaved, IsTransient: true})
	o.Handle(context.Background(), domain.ChangeEvent{Kind: domain.ChangeKindMenuUpdated})

	if p.count() != 1 {
		t.Errorf("forwarded %d events, want 1", p.count())
	}
	if m.received != 2 || m.filtered != 1 {
		t.Errorf("received=%d filtered=%d, want 2/1", m.received, m.filtered)
	}
}

func TestHandle_ProcessorErrorIsSwallowed(t *testing.T) {
	p := &mockProcessor{err: errors.New("db down")}
	o := New(p)

	// must not panic or block
	o.Handle(context.Background(), domain.ChangeEvent{Kind: domain.ChangeKindMenuUpdated})

	if p.count() != 1 {
		t.Errorf("processor calls = %d, want 1", p.count())
	}
}

func TestRun_ForwardsInOrder(t *testing.T) {
	p := &mockProcessor{}
	o := New(p)

	ch := make(chan domain.ChangeEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx, ch)
		close(done)
	}()

	ch <- domain.ChangeEvent{Kind: domain.ChangeKindMenuUpdated, EntityID: "a"}
	ch <- domain.ChangeEvent{Kind: domain.ChangeKindTaxonomyChanged, EntityID: "b"}
	cancel()
	<-done

	if p.count() != 2 {
		t.Fatalf("processed %d events, want 2", p.count())
	}
	if p.events[0].EntityID != "a" || p.events[1].EntityID != "b" {
		t.Errorf("order = %s,%s, want a,b", p.events[0].EntityID, p.events[1].EntityID)
	}
}

func TestRun_DrainsOnShutdown(t *testing.T) {
	p := &mockProcessor{}
	o := New(p).WithDrainTimeout(time.Second)

	ch := make(chan domain.ChangeEvent, 4)
	for i := 0; i < 4; i++ {
		ch <- domain.ChangeEvent{Kind: domain.ChangeKindMenuUpdated}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		o.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if p.count() != 4 {
		t.Errorf("drained %d events, want 4", p.count())
	}
}

func TestRun_ReturnsWhenChannelClosed(t *testing.T) {
	o := New(&mockProcessor{})
	ch := make(chan domain.ChangeEvent)
	close(ch)

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on closed channel")
	}
}
