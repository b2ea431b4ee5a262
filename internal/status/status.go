// Package status exposes the current build state and the manual build trigger.
package status

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/buildhook/internal/dispatcher"
	"github.com/djlord-it/buildhook/internal/domain"
)

// Store is the build state and content view needed by the status surface.
type Store interface {
	GetBuildState(ctx context.Context) (domain.BuildState, error)
	ForceUpdate(ctx context.Context, fp domain.Fingerprint) (domain.BuildState, error)
	CountPublishable(ctx context.Context) (map[string]int, error)
}

type Fingerprinter interface {
	ComputeFingerprint(ctx context.Context) (domain.Fingerprint, error)
}

type Dispatcher interface {
	HasDestination() bool
	Dispatch(ctx context.Context, trigger domain.TriggerEvent) ([]domain.DeliveryResult, error)
}

// Status is a snapshot of the last recorded build and the live content counts.
type Status struct {
	LastBuild    time.Time
	BuildVersion string
	ContentHash  string
	PostsCount   int
	PagesCount   int
	TotalCount   int
}

type ContentHash struct {
	Hash      string
	ItemCount int
	Timestamp time.Time
}

// TriggerResult is the outcome of a manual build trigger.
type TriggerResult struct {
	Success      bool
	Message      string
	BuildVersion string
	Deliveries   []domain.DeliveryResult
}

type Service struct {
	store      Store
	hasher     Fingerprinter
	dispatcher Dispatcher
	clock      func() time.Time
}

func NewService(store Store, hasher Fingerprinter, disp Dispatcher) *Service {
	return &Service{
		store:      store,
		hasher:     hasher,
		dispatcher: disp,
		clock:      time.Now,
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// GetStatus returns persisted build state with live publishable counts.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	state, err := s.store.GetBuildState(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("get build state: %w", err)
	}
	counts, err := s.store.CountPublishable(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count content: %w", err)
	}

	st := Status{
		LastBuild:    state.LastBuildAt,
		BuildVersion: state.BuildVersion(),
		ContentHash:  state.LastHash,
		PostsCount:   counts[domain.ContentTypePost],
		PagesCount:   counts[domain.ContentTypePage],
	}
	for _, n := range counts {
		st.TotalCount += n
	}
	return st, nil
}

// ContentHash computes the live fingerprint without touching build state.
func (s *Service) ContentHash(ctx context.Context) (ContentHash, error) {
	fp, err := s.hasher.ComputeFingerprint(ctx)
	if err != nil {
		return ContentHash{}, err
	}
	return ContentHash{Hash: fp.Hash, ItemCount: fp.ItemCount, Timestamp: fp.ComputedAt}, nil
}

// TriggerBuild records the live fingerprint as a new build version regardless
// of whether it changed, then dispatches synchronously. Enumeration and
// storage failures are returned as errors; delivery failures are reported
// in the result together with the delivery error. Without a destination the
// build state is left untouched.
func (s *Service) TriggerBuild(ctx context.Context) (TriggerResult, error) {
	fp, err := s.hasher.ComputeFingerprint(ctx)
	if err != nil {
		return TriggerResult{Message: "content enumeration failed"}, err
	}

	if !s.dispatcher.HasDestination() {
		log.Println("status: manual trigger skipped: no build destination configured")
		return TriggerResult{Message: dispatcher.ErrNoDestination.Error()}, dispatcher.ErrNoDestination
	}

	state, err := s.store.ForceUpdate(ctx, fp)
	if err != nil {
		return TriggerResult{Message: "build state update failed"}, fmt.Errorf("force update: %w", err)
	}

	trigger := domain.TriggerEvent{
		ID:        uuid.New(),
		Event:     domain.EventManualTrigger,
		State:     state,
		Manual:    true,
		CreatedAt: s.clock().UTC(),
	}
	log.Printf("status: manual trigger build_version=%s hash=%.12s", state.BuildVersion(), fp.Hash)

	results, err := s.dispatcher.Dispatch(ctx, trigger)
	result := TriggerResult{BuildVersion: state.BuildVersion(), Deliveries: results}
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Message = fmt.Sprintf("build triggered (version %s)", state.BuildVersion())
	return result, nil
}
