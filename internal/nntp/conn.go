// Package nntp implements the per-connection NNTP state machine used for
// both the inbound (server) and outbound (client/outfeed) roles.
package nntp

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"github.com/go-while/go-overchan-nntpd/internal/store"
)

// DefaultConnTimeout bounds both reads and writes on a connection.
var DefaultConnTimeout = 30 * time.Second

const (
	stateInitial = iota
	stateStream
	stateReader
)

// Fanout is the Daemon-side hook invoked when an article is fully ingested,
// so it can be offered to outfeeds. Implemented by internal/daemon.Daemon.
type Fanout interface {
	GotArticle(articleID string, groups []string)
}

// Conn is the per-connection NNTP state machine, usable for either an
// inbound server connection or an outbound client connection to a peer.
type Conn struct {
	Inbound bool
	Name    string

	conn     net.Conn
	text     *textproto.Conn
	writer   *bufio.Writer
	Store    *store.Store
	Fanout   Fanout
	Instance string

	state int

	currentGroup string
	authorized   bool

	// XSECRET credential check, injected so nntp does not import store
	// directly for auth (keeps the dependency one-directional: store has
	// no knowledge of nntp).
	CheckLogin func(name, passwd string) bool
}

// NewConn wraps conn for either role.
func NewConn(inbound bool, name string, conn net.Conn, st *store.Store, fanout Fanout, instance string) *Conn {
	return &Conn{
		Inbound:  inbound,
		Name:     name,
		conn:     conn,
		text:     textproto.NewConn(conn),
		writer:   bufio.NewWriter(conn),
		Store:    st,
		Fanout:   fanout,
		Instance: instance,
		state:    stateInitial,
	}
}

func (c *Conn) updateDeadlines() {
	c.conn.SetReadDeadline(time.Now().Add(DefaultConnTimeout))
	c.conn.SetWriteDeadline(time.Now().Add(DefaultConnTimeout))
}

// Close closes the underlying connection. Repeated calls are not guarded;
// a second call returns the underlying connection's close error.
func (c *Conn) Close() error {
	return c.text.Close()
}

func (c *Conn) sendResponse(code int, message string) error {
	c.updateDeadlines()
	return c.text.PrintfLine("%d %s", code, message)
}

func (c *Conn) sendLine(line string) error {
	c.updateDeadlines()
	return c.text.PrintfLine("%s", line)
}

// sendMultiline writes a status line, then each of lines, then a lone "."
// terminator. This deliberately does NOT use textproto.Writer.DotWriter,
// which performs RFC-correct dot-stuffing (doubling any line that begins
// with "."): this subset preserves the source daemon's non-conformant
// behaviour of never transforming article content on the wire, so lines
// are written verbatim and the terminator is a literal "." line.
func (c *Conn) sendMultiline(code int, message string, lines []string) error {
	if err := c.sendResponse(code, message); err != nil {
		return err
	}
	c.updateDeadlines()
	for _, line := range lines {
		if _, err := c.text.W.WriteString(line + "\r\n"); err != nil {
			return err
		}
	}
	if _, err := c.text.W.WriteString(".\r\n"); err != nil {
		return err
	}
	return c.text.W.Flush()
}

func (c *Conn) readLine() (string, error) {
	c.updateDeadlines()
	return c.text.ReadLine()
}

// readUntilDot reads raw lines until a line equal to "." is seen, without
// un-stuffing leading dots (this subset intentionally does not implement
// dot-stuffing, matching the source daemon's own non-conformant behaviour).
func (c *Conn) readUntilDot() ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, fmt.Errorf("nntp: failed to read line: %w", err)
		}
		if line == "." {
			break
		}
		lines = append(lines, line)
	}
	return lines, nil
}
