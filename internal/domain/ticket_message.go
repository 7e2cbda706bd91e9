package domain

import "time"

// CommentKind differentiates plain comments from information requests.
type CommentKind string

const (
	CommentKindComment     CommentKind = "comment"
	CommentKindInfoRequest CommentKind = "info_request"
)

// Comment is an append-only entry in a ticket thread.
type Comment struct {
	ID        string
	TicketID  string
	AuthorID  string
	Body      string
	Kind      CommentKind
	Internal  bool
	CreatedAt time.Time
}

// Attachment stores metadata for a file attached to a ticket.
type Attachment struct {
	ID         string
	TicketID   string
	Name       string
	URL        string
	MimeType   string
	SizeBytes  int64
	UploadedBy string
	UploadedAt time.Time
}
