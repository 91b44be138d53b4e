package nntp

import (
	"fmt"
	"log"
	"strings"

	"github.com/go-while/go-overchan-nntpd/internal/models"
	"github.com/go-while/go-overchan-nntpd/internal/parser"
	"github.com/go-while/go-overchan-nntpd/internal/store"
	"github.com/go-while/go-overchan-nntpd/internal/util"
)

// Ingest writes lines as a blob under id (after injecting/rewriting the
// Message-ID, Path, and — for isPost — References headers), parses it,
// indexes it on success, and fans it out through fanout. It is the single
// article-acceptance path shared by the inbound POST/TAKETHIS handlers and
// any other collaborator (such as the IPC bridge's "post" command) that
// needs to submit an article the same way.
//
// On failure the partially-written blob is removed and the returned error
// describes what went wrong; the caller decides how to translate that into
// a protocol-specific response.
func Ingest(st *store.Store, fanout Fanout, instance, id string, lines []string, isPost bool) (*models.Article, error) {
	if !util.IsValidArticleID(id) {
		return nil, fmt.Errorf("nntp: invalid message id %q", id)
	}

	body := rewriteHeaders(lines, id, instance, isPost)

	h, err := st.OpenArticle(id, false)
	if err != nil {
		return nil, fmt.Errorf("nntp: failed to store article %s: %w", id, err)
	}
	if _, err := h.WriteString(body); err != nil {
		h.Close()
		st.DeleteArticle(id)
		return nil, fmt.Errorf("nntp: failed to write article %s: %w", id, err)
	}
	h.Close()

	art, parsed := parser.Parse(id, strings.NewReader(body))
	art.MessageID = id
	if !parsed {
		st.DeleteArticle(id)
		return nil, fmt.Errorf("nntp: malformed article %s", id)
	}

	if len(art.Groups) == 0 {
		log.Printf("[nntp] %s: article has no groups, skipping index/fanout", id)
	} else if err := st.SaveMessage(art); err != nil {
		log.Printf("[nntp] %s: failed to index article: %v", id, err)
	}

	if fanout != nil && len(art.Groups) > 0 {
		fanout.GotArticle(id, art.Groups)
	}

	return art, nil
}
