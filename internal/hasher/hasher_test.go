package hasher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// fakeSource serves a mutable in-memory content set.
type fakeSource struct {
	mu    sync.Mutex
	items map[string]domain.ContentItem
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{items: make(map[string]domain.ContentItem)}
}

func (s *fakeSource) ListPublishable(ctx context.Context) ([]domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	// Map iteration order is random, which exercises order independence.
	var out []domain.ContentItem
	for _, item := range s.items {
		if item.Status.Public() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeSource) put(item domain.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func post(id, title, body string, modified time.Time) domain.ContentItem {
	return domain.ContentItem{
		ID:         id,
		Type:       domain.ContentTypePost,
		Title:      title,
		Body:       body,
		Status:     domain.ContentStatusPublish,
		ModifiedAt: modified,
	}
}

func TestFingerprintItems_EmptySet(t *testing.T) {
	fp := FingerprintItems(nil)
	if fp.Hash != domain.EmptyContentHash {
		t.Errorf("empty hash = %s, want %s", fp.Hash, domain.EmptyContentHash)
	}
	if fp.ItemCount != 0 {
		t.Errorf("ItemCount = %d, want 0", fp.ItemCount)
	}
}

func TestFingerprintItems_Deterministic(t *testing.T) {
	items := []domain.ContentItem{
		post("1", "Hello", "<p>body</p>", t0),
		post("2", "World", "<p>more</p>", t0.Add(time.Hour)),
	}

	a := FingerprintItems(items)
	b := FingerprintItems(items)
	if a.Hash != b.Hash {
		t.Errorf("hash not deterministic: %s != %s", a.Hash, b.Hash)
	}
	if len(a.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(a.Hash))
	}
}

func TestFingerprintItems_Sensitivity(t *testing.T) {
	base := []domain.ContentItem{
		post("1", "Hello", "<p>body</p>", t0),
		post("2", "World", "<p>more</p>", t0),
	}
	baseHash := FingerprintItems(base).Hash

	tests := []struct {
		name   string
		mutate func(item *domain.ContentItem)
	}{
		{"title", func(i *domain.ContentItem) { i.Title = "Hello!" }},
		{"body", func(i *domain.ContentItem) { i.Body = "<p>body.</p>" }},
		{"modified time", func(i *domain.ContentItem) { i.ModifiedAt = i.ModifiedAt.Add(time.Second) }},
		{"modified time nanos", func(i *domain.ContentItem) { i.ModifiedAt = i.ModifiedAt.Add(time.Nanosecond) }},
		{"id", func(i *domain.ContentItem) { i.ID = "3" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := make([]domain.ContentItem, len(base))
			copy(changed, base)
			tt.mutate(&changed[1])

			if got := FingerprintItems(changed).Hash; got == baseHash {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprintItems_OrderIndependent(t *testing.T) {
	a := []domain.ContentItem{
		post("10", "ten", "x", t0),
		post("9", "nine", "y", t0),
		post("abc", "letters", "z", t0),
		post("2", "two", "w", t0),
	}
	b := []domain.ContentItem{a[2], a[0], a[3], a[1]}
	c := []domain.ContentItem{a[3], a[1], a[0], a[2]}

	ha, hb, hc := FingerprintItems(a).Hash, FingerprintItems(b).Hash, FingerprintItems(c).Hash
	if ha != hb || hb != hc {
		t.Errorf("permutations differ: %s %s %s", ha, hb, hc)
	}
}

func TestFingerprintItems_IgnoresUnpublished(t *testing.T) {
	published := []domain.ContentItem{post("1", "A", "a", t0)}

	draft := post("2", "draft", "d", t0)
	draft.Status = domain.ContentStatusDraft
	withDraft := append([]domain.ContentItem{draft}, published...)

	if FingerprintItems(published).Hash != FingerprintItems(withDraft).Hash {
		t.Error("draft item changed the fingerprint")
	}
}

func TestFingerprintItems_TimezoneNormalized(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	a := FingerprintItems([]domain.ContentItem{post("1", "A", "a", t0)})
	b := FingerprintItems([]domain.ContentItem{post("1", "A", "a", t0.In(loc))})
	if a.Hash != b.Hash {
		t.Error("same instant in a different zone changed the fingerprint")
	}
}

func TestFingerprintItems_Counts(t *testing.T) {
	page := post("3", "About", "about", t0)
	page.Type = domain.ContentTypePage

	fp := FingerprintItems([]domain.ContentItem{
		post("1", "A", "a", t0),
		post("2", "B", "b", t0),
		page,
	})

	if fp.ItemCount != 3 {
		t.Errorf("ItemCount = %d, want 3", fp.ItemCount)
	}
	if fp.Counts[domain.ContentTypePost] != 2 {
		t.Errorf("post count = %d, want 2", fp.Counts[domain.ContentTypePost])
	}
	if fp.Counts[domain.ContentTypePage] != 1 {
		t.Errorf("page count = %d, want 1", fp.Counts[domain.ContentTypePage])
	}
}

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2", "10", -1},
		{"10", "2", 1},
		{"7", "7", 0},
		{"9", "abc", -1},
		{"abc", "9", 1},
		{"abc", "abd", -1},
		{"007", "7", -1}, // numeric tie falls back to lexical
	}

	for _, tt := range tests {
		if got := compareIDs(tt.a, tt.b); got != tt.want {
			t.Errorf("compareIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHasher_EnumerationError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("connection refused")

	_, err := New(src).ComputeFingerprint(context.Background())
	if !errors.Is(err, ErrEnumeration) {
		t.Fatalf("expected ErrEnumeration, got %v", err)
	}
}

func TestHasher_ComputedAt(t *testing.T) {
	h := New(newFakeSource())
	h.clock = func() time.Time { return t0 }

	fp, err := h.ComputeFingerprint(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fp.ComputedAt.Equal(t0) {
		t.Errorf("ComputedAt = %v, want %v", fp.ComputedAt, t0)
	}
}

// TestHasher_EndToEndScenario walks publish, edit, idempotent re-save and delete.
func TestHasher_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	h := New(src)

	mustHash := func() string {
		t.Helper()
		fp, err := h.ComputeFingerprint(ctx)
		if err != nil {
			t.Fatalf("ComputeFingerprint: %v", err)
		}
		return fp.Hash
	}

	empty := mustHash()
	if empty != domain.EmptyContentHash {
		t.Fatalf("empty set hash = %s, want %s", empty, domain.EmptyContentHash)
	}

	t1 := t0
	src.put(post("P1", "A", "body", t1))
	h1 := mustHash()
	if h1 == empty {
		t.Fatal("publishing P1 did not change the fingerprint")
	}

	t2 := t0.Add(time.Minute)
	src.put(post("P1", "B", "body", t2))
	h2 := mustHash()
	if h2 == h1 {
		t.Fatal("editing P1 did not change the fingerprint")
	}

	src.put(post("P1", "B", "body", t2))
	if got := mustHash(); got != h2 {
		t.Fatalf("idempotent save changed the fingerprint: %s != %s", got, h2)
	}

	src.remove("P1")
	if got := mustHash(); got != empty {
		t.Fatalf("deleting P1 gave %s, want empty-set hash %s", got, empty)
	}
}
