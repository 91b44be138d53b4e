// Package store implements ArticleStore: a content-addressed filesystem
// blob store for article bodies plus a sqlite3 relational index of
// newsgroups, article placements, and XSECRET users.
package store

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-while/go-overchan-nntpd/internal/models"
	"github.com/go-while/go-overchan-nntpd/internal/util"
)

// Store is the ArticleStore implementation: article blobs live under
// BaseDir keyed by message-id, the relational index lives in a sqlite3
// database.
type Store struct {
	BaseDir string
	db      *sql.DB
}

// Open opens (creating if necessary) the blob directory and sqlite3 index
// at dbPath, and ensures the schema exists.
func Open(baseDir, dbPath string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create base dir: %w", err)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: failed to create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open index db: %w", err)
	}
	s := &Store{BaseDir: baseDir, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS newsgroups (
		name TEXT PRIMARY KEY,
		updated DATETIME DEFAULT CURRENT_TIMESTAMP,
		article_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS articles (
		message_id TEXT NOT NULL,
		newsgroup TEXT NOT NULL,
		subject TEXT,
		sender TEXT,
		email TEXT,
		parent TEXT,
		path TEXT,
		sent INTEGER,
		pubkey TEXT,
		sig TEXT,
		posthash TEXT,
		PRIMARY KEY (message_id, newsgroup)
	);

	CREATE TABLE IF NOT EXISTS article_posts (
		newsgroup TEXT NOT NULL,
		post_id INTEGER NOT NULL,
		article_id TEXT NOT NULL,
		PRIMARY KEY (newsgroup, post_id)
	);

	CREATE TABLE IF NOT EXISTS users (
		uid INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		passwd TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: failed to init schema: %w", err)
	}
	return nil
}

// blobPath returns the on-disk path for id. Message-IDs are stored
// untransformed (validated separately), matching the "no transformation"
// requirement for the blob path itself.
func (s *Store) blobPath(id string) string {
	return filepath.Join(s.BaseDir, id)
}

// HasArticle reports whether a blob exists for id.
func (s *Store) HasArticle(id string) bool {
	if !util.IsValidArticleID(id) {
		return false
	}
	_, err := os.Stat(s.blobPath(id))
	return err == nil
}

// ArticleHandle is a scoped handle over an article blob, guaranteed closed
// by its Close method on all paths.
type ArticleHandle struct {
	f      *os.File
	Reader *bufio.Reader
}

func (h *ArticleHandle) Close() error {
	return h.f.Close()
}

// WriteString writes to a handle opened for writing.
func (h *ArticleHandle) WriteString(s string) (int, error) {
	return h.f.WriteString(s)
}

// OpenArticle opens the blob for id. read=false truncates for writing in
// binary mode; read=true opens for line-oriented reading.
func (s *Store) OpenArticle(id string, read bool) (*ArticleHandle, error) {
	if !util.IsValidArticleID(id) {
		return nil, fmt.Errorf("store: invalid article id %q", id)
	}
	path := s.blobPath(id)
	if read {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("store: article not found: %w", err)
		}
		return &ArticleHandle{f: f, Reader: bufio.NewReader(f)}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open article for write: %w", err)
	}
	return &ArticleHandle{f: f}, nil
}

// ArticleBanned is a moderation hook; always false until a ban list is
// wired in.
func (s *Store) ArticleBanned(id string) bool {
	return false
}

// HasGroup reports whether name is a known newsgroup.
func (s *Store) HasGroup(name string) bool {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM newsgroups WHERE name = ?`, name).Scan(&count)
	return err == nil && count > 0
}

// GetGroupInfo returns (count, low, high) for name. An empty or unknown
// group returns (0,0,0).
func (s *Store) GetGroupInfo(name string) (count, low, high int64) {
	var articleCount int64
	err := s.db.QueryRow(`SELECT article_count FROM newsgroups WHERE name = ?`, name).Scan(&articleCount)
	if err != nil || articleCount == 0 {
		return 0, 0, 0
	}
	return articleCount, 1, articleCount
}

// GetAllGroups returns every known newsgroup name.
func (s *Store) GetAllGroups() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM newsgroups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list groups: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SaveMessage indexes msg: creates any missing newsgroup rows, then inserts
// one articles row and one article_posts row per group, incrementing
// article_count atomically within a single transaction covering all of
// msg's groups.
func (s *Store) SaveMessage(msg *models.Article) error {
	if msg.MessageID == "" {
		return fmt.Errorf("store: article invalid, no message id")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, group := range msg.Groups {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO newsgroups (name, updated, article_count) VALUES (?, ?, 0)`,
			group, time.Now().UTC()); err != nil {
			return fmt.Errorf("store: failed to insert newsgroup %s: %w", group, err)
		}

		var count int64
		if err := tx.QueryRow(`SELECT article_count FROM newsgroups WHERE name = ?`, group).Scan(&count); err != nil {
			return fmt.Errorf("store: failed to read article_count for %s: %w", group, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO articles
			(message_id, newsgroup, subject, sender, email, parent, path, sent, pubkey, sig, posthash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.MessageID, group, msg.Subject, msg.Sender, msg.Email, msg.Parent, msg.Path, msg.Sent,
			msg.Pubkey, msg.Sig, msg.PostHash); err != nil {
			return fmt.Errorf("store: failed to insert article row: %w", err)
		}

		if _, err := tx.Exec(`INSERT INTO article_posts (newsgroup, post_id, article_id) VALUES (?, ?, ?)`,
			group, count+1, msg.MessageID); err != nil {
			return fmt.Errorf("store: failed to insert article_posts row: %w", err)
		}

		if _, err := tx.Exec(`UPDATE newsgroups SET article_count = ?, updated = ? WHERE name = ?`,
			count+1, time.Now().UTC(), group); err != nil {
			return fmt.Errorf("store: failed to update article_count: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteArticle unlinks the blob if present. Index cleanup is left to
// moderation hooks.
func (s *Store) DeleteArticle(id string) error {
	if !util.IsValidArticleID(id) {
		return fmt.Errorf("store: invalid article id %q", id)
	}
	err := os.Remove(s.blobPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: failed to delete blob: %w", err)
	}
	return nil
}

// CheckUserLogin verifies name/passwd against the bcrypt hash on file.
func (s *Store) CheckUserLogin(name, passwd string) bool {
	var hash string
	err := s.db.QueryRow(`SELECT passwd FROM users WHERE name = ?`, name).Scan(&hash)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passwd)) == nil
}

// AddUser creates (or replaces) a user with a bcrypt-hashed password.
func (s *Store) AddUser(name, passwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("store: failed to hash password: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO users (name, passwd) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET passwd = excluded.passwd`, name, string(hash))
	if err != nil {
		return fmt.Errorf("store: failed to save user: %w", err)
	}
	return nil
}

// ListUsers returns every XSECRET username on file, in no particular order.
func (s *Store) ListUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM users`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: failed to scan user row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteUser removes a user by name. It is idempotent: deleting an
// unknown user is not an error.
func (s *Store) DeleteUser(name string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: failed to delete user %q: %w", name, err)
	}
	return nil
}

// YieldAllArticles enumerates blob directory entries, returning
// (message_id, groups) pairs. It is restartable since it re-reads the
// directory and index each call.
func (s *Store) YieldAllArticles() ([]ArticleRef, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read base dir: %w", err)
	}
	var refs []ArticleRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := e.Name()
		groups, err := s.GetGroupsForArticle(id)
		if err != nil {
			continue
		}
		refs = append(refs, ArticleRef{MessageID: id, Groups: groups})
	}
	return refs, nil
}

// ArticleRef is one (message_id, groups) pairing yielded by
// YieldAllArticles.
type ArticleRef struct {
	MessageID string
	Groups    []string
}

// ArticleIDByPost resolves a per-group sequence number to a message-id.
func (s *Store) ArticleIDByPost(group string, postID int64) (string, bool) {
	var id string
	err := s.db.QueryRow(`SELECT article_id FROM article_posts WHERE newsgroup = ? AND post_id = ?`,
		group, postID).Scan(&id)
	if err != nil {
		return "", false
	}
	return id, true
}

// GetGroupsForArticle returns the newsgroups id was posted to.
func (s *Store) GetGroupsForArticle(id string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT newsgroup FROM articles WHERE message_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query groups for article: %w", err)
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
