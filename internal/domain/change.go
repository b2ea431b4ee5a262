package domain

import "time"

type ChangeKind string

const (
	ChangeKindContentSaved    ChangeKind = "content_saved"
	ChangeKindContentDeleted  ChangeKind = "content_deleted"
	ChangeKindMenuUpdated     ChangeKind = "menu_updated"
	ChangeKindTaxonomyChanged ChangeKind = "taxonomy_changed"

	// ChangeKindScheduledResync is emitted by the resync loop, not by the CMS.
	ChangeKindScheduledResync ChangeKind = "scheduled_resync"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeKindContentSaved, ChangeKindContentDeleted, ChangeKindMenuUpdated,
		ChangeKindTaxonomyChanged, ChangeKindScheduledResync:
		return true
	}
	return false
}

// EventName maps a change kind to the event name carried in webhook payloads.
func (k ChangeKind) EventName() string {
	switch k {
	case ChangeKindContentSaved:
		return EventSavePost
	case ChangeKindContentDeleted:
		return EventDeletePost
	case ChangeKindMenuUpdated:
		return EventUpdateNavMenu
	case ChangeKindTaxonomyChanged:
		return EventEditedTerm
	case ChangeKindScheduledResync:
		return EventScheduledResync
	default:
		return string(k)
	}
}

// Event names emitted to build receivers. EventEditedTerm and
// EventScheduledResync extend the CMS set; receivers should treat an
// unknown name as a plain rebuild.
const (
	EventSavePost        = "save_post"
	EventDeletePost      = "delete_post"
	EventUpdateNavMenu   = "wp_update_nav_menu"
	EventEditedTerm      = "edited_term"
	EventScheduledResync = "scheduled_resync"
	EventManualTrigger   = "manual_trigger"
)

// ChangeEvent is a content-mutation notification received from the CMS.
// It is never persisted.
type ChangeEvent struct {
	Kind        ChangeKind
	EntityID    string
	ContentType string

	OccurredAt time.Time

	// IsTransient is set for autosaves and revision snapshots.
	IsTransient bool

	PreviousStatus  ContentStatus
	ResultingStatus ContentStatus
}
