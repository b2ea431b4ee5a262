// Package hasher computes the content fingerprint used to decide whether a
// site rebuild is warranted.
//
// The fingerprint is a SHA-256 digest over one canonical JSON record per
// publishable item, sorted by id. It depends only on ids, modification
// times, titles and bodies; unrelated metadata (view counters, authors,
// custom fields) never reaches it.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// ErrEnumeration is returned when the content set could not be listed.
// Callers must neither update build state nor dispatch on this error.
var ErrEnumeration = errors.New("content enumeration failed")

// ContentSource lists the publishable content of the CMS.
type ContentSource interface {
	ListPublishable(ctx context.Context) ([]domain.ContentItem, error)
}

type Hasher struct {
	source ContentSource
	clock  func() time.Time
}

func New(source ContentSource) *Hasher {
	return &Hasher{
		source: source,
		clock:  time.Now,
	}
}

// ComputeFingerprint enumerates the current publishable content and folds it
// into a Fingerprint. Identical content state always yields the same hash.
func (h *Hasher) ComputeFingerprint(ctx context.Context) (domain.Fingerprint, error) {
	items, err := h.source.ListPublishable(ctx)
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	fp := FingerprintItems(items)
	fp.ComputedAt = h.clock().UTC()
	return fp, nil
}

// record is the canonical per-item input to the fingerprint.
// Field order is fixed by the struct; json.Marshal is deterministic for it.
type record struct {
	ID            string `json:"id"`
	ModifiedAt    string `json:"modified_at"`
	Title         string `json:"title"`
	ContentDigest string `json:"content_digest"`
}

type keyedLine struct {
	id   string
	line []byte
}

// FingerprintItems folds items into a Fingerprint without touching any
// storage. Items that are not published are ignored. ComputedAt is left zero.
func FingerprintItems(items []domain.ContentItem) domain.Fingerprint {
	lines := make([]keyedLine, 0, len(items))
	counts := make(map[string]int)

	for _, item := range items {
		if !item.Status.Public() {
			continue
		}
		counts[item.Type]++

		bodySum := sha256.Sum256([]byte(item.Body))
		line, err := json.Marshal(record{
			ID:            item.ID,
			ModifiedAt:    item.ModifiedAt.UTC().Format(time.RFC3339Nano),
			Title:         item.Title,
			ContentDigest: hex.EncodeToString(bodySum[:]),
		})
		if err != nil {
			// Strings and a formatted time cannot fail to marshal.
			panic("hasher: marshal record: " + err.Error())
		}
		lines = append(lines, keyedLine{id: item.ID, line: line})
	}

	sort.Slice(lines, func(i, j int) bool {
		if c := compareIDs(lines[i].id, lines[j].id); c != 0 {
			return c < 0
		}
		return string(lines[i].line) < string(lines[j].line)
	})

	sum := sha256.New()
	for _, l := range lines {
		sum.Write(l.line)
		sum.Write([]byte{'\n'})
	}

	return domain.Fingerprint{
		Hash:      hex.EncodeToString(sum.Sum(nil)),
		ItemCount: len(lines),
		Counts:    counts,
	}
}

// compareIDs orders numeric ids numerically and before any non-numeric id;
// non-numeric ids compare lexically.
func compareIDs(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)

	switch {
	case aErr == nil && bErr == nil:
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
