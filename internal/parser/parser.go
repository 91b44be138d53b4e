// Package parser turns a raw article blob (headers, blank line, body) into
// populated models.Article metadata, including ed25519 signature
// verification over a bit-exact canonicalisation of the body.
package parser

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"log"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/go-while/go-overchan-nntpd/internal/models"
)

// Parse reads one article from r and returns its metadata. The returned
// bool reports whether the headers were well-formed (a terminating blank
// line was found); a false value means the metadata may be incomplete but
// is still returned best-effort.
func Parse(messageID string, r io.Reader) (*models.Article, bool) {
	a := &models.Article{MessageID: messageID}
	a.PostHash = hex.EncodeToString(sha1Sum([]byte(messageID)))
	if len(a.PostHash) >= 10 {
		a.Identifier = a.PostHash[:10]
	}

	br := bufio.NewReader(r)
	hdrFound := false
	for {
		line, err := br.ReadString('\n')
		if line == "\n" || line == "\r\n" {
			hdrFound = true
			break
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "subject:"):
			a.Subject = toUTF8(splitAfterColon(line))
		case strings.HasPrefix(lower, "path:"):
			a.Path = strings.TrimSuffix(line[len("path:"):], "\n")
			a.Path = strings.TrimSpace(a.Path)
		case strings.HasPrefix(lower, "date:"):
			a.Sent = parseDate(splitAfterColon(line))
		case strings.HasPrefix(lower, "from:"):
			sender, email := splitFrom(splitAfterColon(line))
			a.Sender = toUTF8(sender)
			a.Email = email
		case strings.HasPrefix(lower, "references:"):
			a.Parent = secondToken(line)
		case strings.HasPrefix(lower, "newsgroups:"):
			a.Groups = parseGroups(secondTokenRest(line))
		case strings.HasPrefix(lower, "x-sage:"):
			a.Sage = true
		case strings.HasPrefix(lower, "x-pubkey-ed25519:"):
			a.Pubkey = strings.TrimSpace(splitAfterColon(lower))
		case strings.HasPrefix(lower, "x-signature-ed25519-sha512:"):
			a.Sig = strings.TrimSpace(splitAfterColon(lower))
		}
		if err != nil {
			break
		}
	}
	if !hdrFound {
		log.Printf("[parser] %s malformed article: no header terminator", messageID)
		return a, false
	}

	if len(a.Sig) != 128 || len(a.Pubkey) != 64 {
		a.Pubkey = ""
	}

	if a.Pubkey != "" {
		digest, err := bodyDigest(br)
		if err != nil {
			log.Printf("[parser] %s: body digest failed: %v", messageID, err)
		} else {
			a.SigValid = verify(a.Pubkey, a.Sig, digest)
			if !a.SigValid {
				log.Printf("[parser] %s: signature verification failed, keeping article", messageID)
			}
		}
	}

	a.Parsed = true
	return a, true
}

// bodyDigest implements the compatibility-critical canonicalisation: every
// body line except the last is hashed with its trailing "\n" replaced by
// "\r\n"; the last line is hashed with any trailing "\r\n" stripped.
func bodyDigest(br *bufio.Reader) ([]byte, error) {
	h := sha512.New()
	var pending string
	have := false
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if have {
				h.Write([]byte(pending))
			}
			pending = strings.ReplaceAll(line, "\n", "\r\n")
			have = true
		}
		if err != nil {
			break
		}
	}
	if have {
		last := strings.TrimSuffix(pending, "\r\n")
		h.Write([]byte(last))
	}
	return h.Sum(nil), nil
}

func verify(pubkeyHex, sigHex string, digest []byte) bool {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

func splitAfterColon(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(line[idx+1:], "\n"))
}

func splitFrom(s string) (sender, email string) {
	parts := strings.SplitN(s, " <", 2)
	sender = parts[0]
	if len(parts) > 1 {
		email = strings.TrimSuffix(parts[1], ">")
	}
	return
}

func secondToken(line string) string {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(strings.Fields(parts[1])[0])
}

func secondTokenRest(line string) string {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func parseGroups(field string) []string {
	var groups []string
	if strings.Contains(field, ";") {
		for _, g := range strings.Split(field, ";") {
			g = strings.TrimSpace(g)
			if strings.HasPrefix(g, "overchan.") {
				groups = append(groups, g)
			}
		}
	} else if field != "" {
		groups = append(groups, field)
	}
	return groups
}

func parseDate(s string) int64 {
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC().Unix()
	}
	// Fallback formats occasionally seen on the wire, then current time.
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Unix()
		}
	}
	return time.Now().Unix()
}

// toUTF8 passes through already-valid UTF-8; otherwise it assumes the
// legacy Latin-1 (ISO-8859-1) encoding still seen on old peers' Subject/
// From headers and transcodes it, falling back to replacing invalid
// sequences if even that fails.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, _, err := transform.String(charmap.ISO8859_1.NewDecoder(), s)
	if err != nil {
		return strings.ToValidUTF8(s, "�")
	}
	return decoded
}

func sha1Sum(b []byte) []byte {
	h := sha1.New()
	h.Write(b)
	return h.Sum(nil)
}
