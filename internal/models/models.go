// Package models defines the core data structures shared between the
// article parser, the store, and the NNTP connection state machine.
package models

import "time"

// Article is the metadata record produced by parsing an article blob. It is
// the in-memory counterpart of the articles/article_posts rows.
type Article struct {
	MessageID string `json:"message_id" db:"message_id"`

	// PostHash is the SHA-1 hex digest of MessageID; Identifier is its
	// first 10 characters, used as a short display handle.
	PostHash   string `json:"posthash" db:"posthash"`
	Identifier string `json:"identifier" db:"identifier"`

	Subject string `json:"subject" db:"subject"`
	Sender  string `json:"sender" db:"sender"`
	Email   string `json:"email" db:"email"`
	Parent  string `json:"parent" db:"parent"` // References
	Path    string `json:"path" db:"path"`
	Sent    int64  `json:"sent" db:"sent"` // unix seconds

	// Groups is the set of newsgroups this article was posted to.
	Groups []string `json:"groups" db:"-"`

	Sage bool `json:"sage" db:"sage"`

	// Pubkey and Sig are hex-encoded ed25519 material. Pubkey is cleared
	// whenever the length invariants (64/128 hex chars) are not met.
	Pubkey string `json:"pubkey" db:"pubkey"`
	Sig    string `json:"sig" db:"sig"`

	// SigValid reports whether a present signature verified. It is only
	// meaningful when Pubkey is non-empty.
	SigValid bool `json:"sig_valid" db:"-"`

	// Optional attachment fields. parser.Parse does not fill them, and the
	// store's articles table has no columns for them.
	AttachmentName  string `json:"attachment_name,omitempty" db:"attachment_name"`
	AttachmentHash  string `json:"attachment_hash,omitempty" db:"attachment_hash"`
	AttachmentThumb string `json:"attachment_thumb,omitempty" db:"attachment_thumb"`

	// Parsed reports whether the blob was well-formed (terminating blank
	// line was found). A false value means the metadata above may be
	// incomplete.
	Parsed bool `json:"-" db:"-"`
}

// Newsgroup is an index row: one per newsgroup ever seen, created
// implicitly on first save of an article addressed to it.
type Newsgroup struct {
	Name         string    `json:"name" db:"name"`
	Updated      time.Time `json:"updated" db:"updated"`
	ArticleCount int64     `json:"article_count" db:"article_count"`
}

// ArticlePost is one per-group sequence entry: PostID is 1-based and
// monotonically increasing within Newsgroup.
type ArticlePost struct {
	Newsgroup string `json:"newsgroup" db:"newsgroup"`
	PostID    int64  `json:"post_id" db:"post_id"`
	ArticleID string `json:"article_id" db:"article_id"`
}

// User is an XSECRET authorization account.
type User struct {
	UID    int64  `json:"uid" db:"uid"`
	Name   string `json:"name" db:"name"`
	Passwd string `json:"-" db:"passwd"` // bcrypt hash, never serialized
}
