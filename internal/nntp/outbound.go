package nntp

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// ArticleQueue is a source of article ids to offer: Next returns the next
// id and whether one was available. The outfeed streaming loop reads its
// own pending channel and does not use this interface.
type ArticleQueue interface {
	Next() (string, bool)
}

// Dial performs the NNTP client handshake on an already-established conn:
// reads the welcome line (must begin with "200 "), requests CAPABILITIES,
// and if the peer advertises STREAMING, switches to MODE STREAM.
// It returns whether streaming was successfully activated.
func (c *Conn) Dial() (streaming bool, err error) {
	line, err := c.readLine()
	if err != nil {
		return false, fmt.Errorf("nntp: failed to read welcome: %w", err)
	}
	if !strings.HasPrefix(line, "200 ") {
		c.sendLine("QUIT")
		c.Close()
		return false, fmt.Errorf("nntp: unexpected welcome line: %q", line)
	}

	if err := c.sendLine("CAPABILITIES"); err != nil {
		return false, fmt.Errorf("nntp: failed to send CAPABILITIES: %w", err)
	}
	caps, err := c.readCapabilities()
	if err != nil {
		return false, err
	}

	hasStreaming := false
	for _, capability := range caps {
		if strings.EqualFold(strings.TrimSpace(capability), "STREAMING") {
			hasStreaming = true
			break
		}
	}
	if !hasStreaming {
		return false, nil
	}

	if err := c.sendLine("MODE STREAM"); err != nil {
		return false, fmt.Errorf("nntp: failed to send MODE STREAM: %w", err)
	}
	resp, err := c.readLine()
	if err != nil {
		return false, fmt.Errorf("nntp: failed to read MODE STREAM response: %w", err)
	}
	if !strings.HasPrefix(resp, "203 ") && resp != "203" {
		return false, nil
	}
	c.state = stateStream
	return true, nil
}

func (c *Conn) readCapabilities() ([]string, error) {
	// Skip the status line.
	if _, err := c.readLine(); err != nil {
		return nil, fmt.Errorf("nntp: failed to read capabilities status: %w", err)
	}
	var caps []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, fmt.Errorf("nntp: failed to read capabilities: %w", err)
		}
		if line == "." {
			break
		}
		caps = append(caps, line)
	}
	return caps, nil
}

// OfferArticle runs one CHECK/TAKETHIS cycle for id against this outbound
// connection, per §4.4's outbound role. It returns true when the peer
// accepted the article, already had it (435), or refused it as banned or
// malformed (437); false when the peer declined it or rejected TAKETHIS.
func (c *Conn) OfferArticle(id string) (delivered bool, err error) {
	if err := c.sendLine("CHECK " + id); err != nil {
		return false, fmt.Errorf("nntp: failed to send CHECK: %w", err)
	}
	resp, err := c.readLine()
	if err != nil {
		return false, fmt.Errorf("nntp: failed to read CHECK response: %w", err)
	}
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return false, fmt.Errorf("nntp: empty CHECK response")
	}
	switch fields[0] {
	case "438":
		return false, nil // peer doesn't want it
	case "435", "437":
		return true, nil // already has it, or banned
	case "238":
		return c.sendArticle(id)
	default:
		return false, fmt.Errorf("nntp: unexpected CHECK response: %q", resp)
	}
}

// sendArticle streams the stored blob for id as a TAKETHIS payload. It
// deliberately does NOT use textproto.Writer.DotWriter, which performs
// RFC-correct dot-stuffing (doubling any line that begins with "."): this
// subset preserves the source daemon's non-conformant behaviour of never
// transforming article content on the wire, so lines are rewritten only
// \n -> \r\n and the terminator is a literal "." line.
func (c *Conn) sendArticle(id string) (bool, error) {
	h, err := c.Store.OpenArticle(id, true)
	if err != nil {
		return false, fmt.Errorf("nntp: failed to open article for sending: %w", err)
	}
	defer h.Close()

	if err := c.sendLine("TAKETHIS " + id); err != nil {
		return false, fmt.Errorf("nntp: failed to send TAKETHIS: %w", err)
	}

	c.updateDeadlines()
	endsWithNewline := true
	for {
		line, rerr := h.Reader.ReadString('\n')
		if len(line) > 0 {
			endsWithNewline = strings.HasSuffix(line, "\n")
			rewritten := strings.ReplaceAll(line, "\n", "\r\n")
			if _, err := io.WriteString(c.text.W, rewritten); err != nil {
				return false, fmt.Errorf("nntp: failed writing article body: %w", err)
			}
		}
		if rerr != nil {
			break
		}
	}
	if !endsWithNewline {
		if _, err := c.text.W.WriteString("\r\n"); err != nil {
			return false, fmt.Errorf("nntp: failed writing article body: %w", err)
		}
	}
	if _, err := c.text.W.WriteString(".\r\n"); err != nil {
		return false, fmt.Errorf("nntp: failed to terminate article: %w", err)
	}
	if err := c.text.W.Flush(); err != nil {
		return false, fmt.Errorf("nntp: failed to terminate article: %w", err)
	}

	resp, err := c.readLine()
	if err != nil {
		return false, fmt.Errorf("nntp: failed to read TAKETHIS response: %w", err)
	}
	fields := strings.Fields(resp)
	if len(fields) > 0 && fields[0] == "239" {
		return true, nil
	}
	log.Printf("[nntp] %s: peer rejected TAKETHIS for %s: %s", c.Name, id, resp)
	return false, nil
}
