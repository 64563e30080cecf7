package engine

import (
	apperrors "github.com/bloghive/relevance/pkg/errors"
)

// EventType classifies a post change event.
type EventType string

const (
	EventPostPublished   EventType = "post.published"
	EventPostUpdated     EventType = "post.updated"
	EventPostUnpublished EventType = "post.unpublished"
	EventPostDeleted     EventType = "post.deleted"
)

// ChangeEvent is one entry from the post change feed. Publish and update
// events carry the full post; unpublish and delete events carry only the
// post id. Events are applied idempotently, so at-least-once delivery from
// the feed is safe.
type ChangeEvent struct {
	Type   EventType `json:"type"`
	Post   *Document `json:"post,omitempty"`
	PostID string    `json:"post_id,omitempty"`
}

// DocID returns the id of the post the event refers to, regardless of shape.
func (e ChangeEvent) DocID() string {
	if e.Post != nil {
		return e.Post.ID
	}
	return e.PostID
}

// Validate checks that the event has a known type and the payload its type
// requires.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case EventPostPublished, EventPostUpdated:
		if e.Post == nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "%s event has no post payload", e.Type)
		}
		return e.Post.Validate()
	case EventPostUnpublished, EventPostDeleted:
		if e.DocID() == "" {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "%s event has no post id", e.Type)
		}
		return nil
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown event type %q", e.Type)
	}
}
