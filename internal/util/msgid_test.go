package util

import "testing"

func TestIsValidArticleID(t *testing.T) {
	valid := []string{
		"<ayyy@lmao>",
		"<hue.lol@ben.is>",
		"<oajxgwzice1423599709@web.overchan.lolz>",
	}
	invalid := []string{
		"admin@lel.tld",
		"<admin@lel.tld",
		"<>admin@lel.tld",
		"<@lol.tld>",
	}
	for _, s := range valid {
		if !IsValidArticleID(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if IsValidArticleID(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename("../etc/passwd"); got != "__etc_passwd" {
		t.Errorf("got %q", got)
	}
}
