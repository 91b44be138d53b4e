package parser

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"
)

func TestParseBasicHeaders(t *testing.T) {
	raw := "Subject: hello world\r\n" +
		"Path: !poster\r\n" +
		"From: Anonymous <anon@example.com>\r\n" +
		"Newsgroups: overchan.test;alt.bin.hax\r\n" +
		"References: <parent@test>\r\n" +
		"X-Sage: \r\n" +
		"\r\n" +
		"body line one\n" +
		"body line two\n"

	a, parsed := Parse("<child@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true")
	}
	if a.Subject != "hello world" {
		t.Errorf("Subject = %q", a.Subject)
	}
	if a.Sender != "Anonymous" || a.Email != "anon@example.com" {
		t.Errorf("Sender/Email = %q/%q", a.Sender, a.Email)
	}
	if len(a.Groups) != 1 || a.Groups[0] != "overchan.test" {
		t.Errorf("Groups = %v, want [overchan.test]", a.Groups)
	}
	if a.Parent != "<parent@test>" {
		t.Errorf("Parent = %q", a.Parent)
	}
	if !a.Sage {
		t.Error("expected Sage=true")
	}
	if a.PostHash == "" || a.Identifier == "" {
		t.Error("expected PostHash/Identifier to be populated")
	}
}

func TestParseMissingTerminator(t *testing.T) {
	raw := "Subject: no blank line\r\nFrom: x <x@x>\r\n"
	_, parsed := Parse("<id@test>", strings.NewReader(raw))
	if parsed {
		t.Fatal("expected parsed=false when no blank-line terminator present")
	}
}

func TestParseSignatureVerification(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	body := "line one\nline two\nlast line"
	lines := strings.SplitAfter(body, "\n")
	h := sha512.New()
	for i, line := range lines {
		if i == len(lines)-1 {
			h.Write([]byte(strings.TrimSuffix(line, "\r\n")))
		} else {
			h.Write([]byte(strings.ReplaceAll(line, "\n", "\r\n")))
		}
	}
	digest := h.Sum(nil)
	sig := ed25519.Sign(priv, digest)

	raw := "Subject: signed\r\n" +
		"X-Pubkey-Ed25519: " + hex.EncodeToString(pub) + "\r\n" +
		"X-Signature-Ed25519-Sha512: " + hex.EncodeToString(sig) + "\r\n" +
		"\r\n" + body

	a, parsed := Parse("<signed@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true")
	}
	if !a.SigValid {
		t.Error("expected signature to verify")
	}
	if a.Pubkey == "" {
		t.Error("expected pubkey retained")
	}
}

func TestParseBadSignatureKeptNotDiscarded(t *testing.T) {
	raw := "Subject: bad sig\r\n" +
		"X-Pubkey-Ed25519: " + strings.Repeat("a", 64) + "\r\n" +
		"X-Signature-Ed25519-Sha512: " + strings.Repeat("b", 128) + "\r\n" +
		"\r\nbody\n"
	a, parsed := Parse("<badsig@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true even though signature is bogus")
	}
	if a.SigValid {
		t.Error("expected SigValid=false for bogus signature")
	}
	if a.Pubkey == "" {
		t.Error("article must be kept with pubkey retained on verify failure")
	}
}

func TestParseNormalizesLatin1SubjectAndFrom(t *testing.T) {
	// "café" and "Müller" encoded as ISO-8859-1 (not valid UTF-8 on their own).
	subject := "caf\xe9 time"
	from := "M\xfcller <muller@example.com>"
	raw := "Subject: " + subject + "\r\n" +
		"From: " + from + "\r\n" +
		"\r\nbody\n"

	a, parsed := Parse("<latin1@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true")
	}
	if a.Subject != "café time" {
		t.Errorf("Subject = %q, want %q", a.Subject, "café time")
	}
	if a.Sender != "Müller" {
		t.Errorf("Sender = %q, want %q", a.Sender, "Müller")
	}
}

func TestParsePassesThroughValidUTF8Subject(t *testing.T) {
	raw := "Subject: caf\xc3\xa9 already utf8\r\n\r\nbody\n"
	a, parsed := Parse("<utf8@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true")
	}
	if a.Subject != "café already utf8" {
		t.Errorf("Subject = %q, want %q", a.Subject, "café already utf8")
	}
}

func TestParseShortSigClearsPubkey(t *testing.T) {
	raw := "Subject: short sig\r\n" +
		"X-Pubkey-Ed25519: abcd\r\n" +
		"X-Signature-Ed25519-Sha512: abcd\r\n" +
		"\r\nbody\n"
	a, parsed := Parse("<shortsig@test>", strings.NewReader(raw))
	if !parsed {
		t.Fatal("expected parsed=true")
	}
	if a.Pubkey != "" {
		t.Errorf("expected pubkey cleared for short sig/pubkey, got %q", a.Pubkey)
	}
}
