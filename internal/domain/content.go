package domain

import "time"

type ContentStatus string

const (
	ContentStatusPublish ContentStatus = "publish"
	ContentStatusDraft   ContentStatus = "draft"
	ContentStatusPending ContentStatus = "pending"
	ContentStatusPrivate ContentStatus = "private"
	ContentStatusTrash   ContentStatus = "trash"
)

// Public reports whether content in this status is visible on the site.
func (s ContentStatus) Public() bool {
	return s == ContentStatusPublish
}

// Content types counted separately by the status surface.
const (
	ContentTypePost = "post"
	ContentTypePage = "page"
)

// ContentItem is one entry of the CMS content set as read by the hasher.
type ContentItem struct {
	ID         string
	Type       string
	Title      string
	Body       string
	Status     ContentStatus
	ModifiedAt time.Time
}
