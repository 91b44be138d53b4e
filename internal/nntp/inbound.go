package nntp

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/go-while/go-overchan-nntpd/internal/util"
)

// welcomeBanner is sent verbatim to every inbound connection, preserved
// from the source daemon.
const welcomeBanner = "ayyyy lmao overchan nntpd, post it faget"

var capabilityList = []string{
	"VERSION 2",
	"IMPLEMENTATION go-overchan-nntpd",
	"POST",
	"READER",
	"XSECRET",
	"STREAMING",
}

// Serve runs the inbound server loop: it sends the welcome banner, then
// reads and dispatches commands until the peer disconnects.
func (c *Conn) Serve() error {
	defer c.Close()

	if err := c.sendResponse(200, welcomeBanner); err != nil {
		return fmt.Errorf("nntp: failed to send welcome: %w", err)
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return nil
		}
		if line == "" {
			return nil
		}
		if err := c.dispatch(line); err != nil {
			if _, ok := err.(quitErr); ok {
				return nil
			}
			log.Printf("[nntp] %s: command error: %v", c.Name, err)
			return err
		}
	}
}

func (c *Conn) dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return c.sendResponse(500, "empty command")
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "CAPABILITIES":
		return c.handleCapabilities()
	case "MODE":
		return c.handleMode(args)
	case "QUIT":
		c.sendResponse(205, "bye")
		return errQuit
	case "GROUP":
		return c.handleGroup(args)
	case "LIST":
		return c.handleList(args)
	case "HEAD":
		return c.handleHead(args)
	case "ARTICLE":
		return c.handleArticle(args)
	case "XOVER":
		return c.handleXOver(args)
	case "XSECRET":
		return c.handleXSecret(args)
	case "POST":
		return c.handlePost()
	case "CHECK":
		return c.handleCheck(args)
	case "TAKETHIS":
		return c.handleTakeThis(args)
	default:
		return c.sendResponse(503, cmd+" not implemented")
	}
}

// errQuit is a sentinel returned from dispatch for QUIT so Serve exits
// cleanly without logging a spurious error.
var errQuit = quitErr{}

type quitErr struct{}

func (quitErr) Error() string { return "quit" }

func (c *Conn) handleCapabilities() error {
	return c.sendMultiline(101, "Capability list:", capabilityList)
}

func (c *Conn) handleMode(args []string) error {
	if len(args) != 1 {
		return c.sendResponse(501, "MODE requires one argument")
	}
	switch strings.ToUpper(args[0]) {
	case "STREAM":
		c.state = stateStream
		return c.sendResponse(203, "Streaming permitted")
	case "READER":
		c.state = stateReader
		return c.sendResponse(200, "Reader mode, posting permitted")
	default:
		return c.sendResponse(501, "unknown mode")
	}
}

func (c *Conn) handleGroup(args []string) error {
	if c.state != stateReader || len(args) != 1 {
		return c.sendResponse(411, "no such newsgroup")
	}
	name := args[0]
	if !c.Store.HasGroup(name) {
		return c.sendResponse(411, "no such newsgroup")
	}
	count, low, high := c.Store.GetGroupInfo(name)
	c.currentGroup = name
	return c.sendResponse(211, fmt.Sprintf("%d %d %d %s", count, low, high, name))
}

func (c *Conn) handleList(args []string) error {
	if len(args) > 0 && strings.EqualFold(args[0], "overview.fmt") {
		return c.sendResponse(503, "overview.fmt not supported")
	}
	if c.state != stateReader {
		return c.sendResponse(500, "command not permitted in this state")
	}
	groups, err := c.Store.GetAllGroups()
	if err != nil {
		return c.sendResponse(500, "internal error listing groups")
	}
	var lines []string
	for _, g := range groups {
		_, low, high := c.Store.GetGroupInfo(g)
		lines = append(lines, fmt.Sprintf("%s %d %d y", g, high, low))
	}
	return c.sendMultiline(215, "list of newsgroups follows", lines)
}

// lookupArticleID resolves an article number within the current group to
// its message-id via the article_posts sequence.
func (c *Conn) lookupArticleID(n int64) (string, bool) {
	if c.currentGroup == "" {
		return "", false
	}
	return c.Store.ArticleIDByPost(c.currentGroup, n)
}

func (c *Conn) handleHead(args []string) error {
	return c.retrieveArticle(args, false)
}

func (c *Conn) handleArticle(args []string) error {
	return c.retrieveArticle(args, true)
}

func (c *Conn) retrieveArticle(args []string, full bool) error {
	if len(args) != 1 {
		return c.sendResponse(432, "invalid article number")
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.sendResponse(432, "invalid article number")
	}
	id, ok := c.lookupArticleID(n)
	if !ok {
		return c.sendResponse(432, "no such article number")
	}
	h, err := c.Store.OpenArticle(id, true)
	if err != nil {
		return c.sendResponse(432, "no such article")
	}
	defer h.Close()

	var lines []string
	inHeaders := true
	for {
		line, err := h.Reader.ReadString('\n')
		if line == "" && err != nil {
			break
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if inHeaders && trimmed == "" {
			inHeaders = false
			if !full {
				break
			}
			lines = append(lines, trimmed)
			if err != nil {
				break
			}
			continue
		}
		lines = append(lines, trimmed)
		if err != nil {
			break
		}
	}

	if full {
		return c.sendMultiline(220, fmt.Sprintf("%d %s article retrieved", n, id), lines)
	}
	return c.sendMultiline(221, fmt.Sprintf("%d %s article retrieved - head follows", n, id), lines)
}

func (c *Conn) handleXOver(args []string) error {
	if c.currentGroup == "" {
		return c.sendResponse(412, "no newsgroup selected")
	}
	return c.sendResponse(420, "XOVER not implemented")
}

func (c *Conn) handleXSecret(args []string) error {
	if len(args) != 2 {
		return c.sendResponse(481, "authentication failed")
	}
	if c.CheckLogin == nil || !c.CheckLogin(args[0], args[1]) {
		return c.sendResponse(481, "authentication failed")
	}
	c.authorized = true
	return c.sendResponse(290, "authenticated")
}

func (c *Conn) handlePost() error {
	if !c.authorized {
		return c.sendResponse(440, "posting not permitted")
	}
	if err := c.sendResponse(340, "send article to be posted"); err != nil {
		return err
	}
	lines, err := c.readUntilDot()
	if err != nil {
		return c.sendResponse(441, "posting failed")
	}
	id := util.GenerateMessageID(c.Instance)
	return c.ingest(id, lines, true)
}

func (c *Conn) handleCheck(args []string) error {
	if len(args) != 1 {
		return c.sendResponse(501, "CHECK requires one argument")
	}
	id := args[0]
	if !util.IsValidArticleID(id) || c.Store.ArticleBanned(id) {
		return c.sendResponse(437, id+" banned or malformed")
	}
	if c.Store.HasArticle(id) {
		return c.sendResponse(435, id+" already have it")
	}
	return c.sendResponse(238, id+" send it")
}

func (c *Conn) handleTakeThis(args []string) error {
	if len(args) != 1 {
		return c.sendResponse(501, "TAKETHIS requires one argument")
	}
	id := args[0]
	rawLines, err := c.readUntilDot()
	if err != nil {
		return c.sendResponse(439, id+" transfer failed")
	}
	// Strip any trailing \r left over from raw line reads.
	lines := make([]string, len(rawLines))
	for i, l := range rawLines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	if c.Store.HasArticle(id) {
		// Already present: consume but do not overwrite.
		return c.sendResponse(239, id+" already have it")
	}

	if err := c.ingest(id, lines, false); err != nil {
		c.Store.DeleteArticle(id)
		return c.sendResponse(439, id+" transfer failed")
	}
	return nil
}

// ingest delegates to Ingest for the shared write/parse/index/fanout path,
// then translates the outcome into the POST-style 240 response or the
// TAKETHIS-style "239 <id>" response.
func (c *Conn) ingest(id string, lines []string, isPost bool) error {
	_, err := Ingest(c.Store, c.Fanout, c.Instance, id, lines, isPost)
	if err != nil {
		log.Printf("[nntp] %s: ingest failed: %v", id, err)
		if isPost {
			return c.sendResponse(441, "posting failed")
		}
		return c.sendResponse(439, id+" transfer failed")
	}

	if isPost {
		return c.sendResponse(240, "article posted successfully")
	}
	return c.sendResponse(239, id)
}

// rewriteHeaders injects Message-ID and Path headers (rewriting Path with
// the local instance name prefix), and, for POST only, a placeholder
// References header when one is missing.
func rewriteHeaders(lines []string, id, instance string, isPost bool) string {
	var headers []string
	var body []string
	inHeaders := true
	hasMessageID := false
	hasPath := false
	hasReferences := false

	for _, line := range lines {
		if inHeaders {
			if line == "" {
				inHeaders = false
				continue
			}
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "message-id:"):
				hasMessageID = true
				headers = append(headers, "Message-ID: "+id)
				continue
			case strings.HasPrefix(lower, "path:"):
				hasPath = true
				headers = append(headers, "Path: "+instance+"!"+strings.TrimSpace(line[len("path:"):]))
				continue
			case strings.HasPrefix(lower, "references:"):
				hasReferences = true
			}
			headers = append(headers, line)
		} else {
			body = append(body, line)
		}
	}
	if !hasMessageID {
		headers = append(headers, "Message-ID: "+id)
	}
	if !hasPath {
		headers = append(headers, "Path: "+instance+"!not-for-mail")
	}
	if isPost && !hasReferences {
		headers = append(headers, "References: ")
	}

	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	for i, b := range body {
		sb.WriteString(b)
		if i != len(body)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
