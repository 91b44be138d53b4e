package nntp

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-while/go-overchan-nntpd/internal/store"
)

type fakeFanout struct {
	calls [][2]interface{}
}

func (f *fakeFanout) GotArticle(id string, groups []string) {
	f.calls = append(f.calls, [2]interface{}{id, groups})
}

func newTestServer(t *testing.T) (*store.Store, *fakeFanout, net.Conn, *bufio.Reader) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "articles"), filepath.Join(dir, "index.sq3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	server, client := net.Pipe()
	fanout := &fakeFanout{}
	conn := NewConn(true, "test", server, st, fanout, "test.instance.tld")
	conn.CheckLogin = func(name, passwd string) bool { return name == "admin" && passwd == "secret" }

	done := make(chan struct{})
	go func() {
		conn.Serve()
		close(done)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})

	return st, fanout, client, bufio.NewReader(client)
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestCapabilitiesContainsPostAndStreaming(t *testing.T) {
	_, _, client, r := newTestServer(t)

	welcome := readLine(t, r)
	if !strings.HasPrefix(welcome, "200 ") {
		t.Fatalf("expected welcome banner, got %q", welcome)
	}

	writeLine(t, client, "CAPABILITIES")
	status := readLine(t, r)
	if !strings.HasPrefix(status, "101") {
		t.Fatalf("expected 101 status, got %q", status)
	}

	var lines []string
	for {
		line := readLine(t, r)
		if line == "." {
			break
		}
		lines = append(lines, line)
	}

	joined := strings.Join(lines, " ")
	if !strings.Contains(joined, "POST") {
		t.Error("expected capability list to contain POST")
	}
	if !strings.Contains(joined, "STREAMING") {
		t.Error("expected capability list to contain STREAMING")
	}
	if strings.Contains(joined, "SOCIALISM") {
		t.Error("capability list must not contain SOCIALISM")
	}
}

func TestStreamingIngestEndToEnd(t *testing.T) {
	st, fanout, client, r := newTestServer(t)
	_ = readLine(t, r) // welcome

	writeLine(t, client, "MODE STREAM")
	if resp := readLine(t, r); !strings.HasPrefix(resp, "203") {
		t.Fatalf("expected 203 for MODE STREAM, got %q", resp)
	}

	id := "<streamtest@test.instance.tld>"
	writeLine(t, client, "CHECK "+id)
	if resp := readLine(t, r); !strings.HasPrefix(resp, "238") {
		t.Fatalf("expected 238 for novel article, got %q", resp)
	}

	writeLine(t, client, "TAKETHIS "+id)
	article := "Subject: hello\r\n" +
		"Newsgroups: overchan.test\r\n" +
		"\r\n" +
		"body text\r\n"
	for _, line := range strings.Split(strings.TrimRight(article, "\r\n"), "\r\n") {
		writeLine(t, client, line)
	}
	writeLine(t, client, ".")

	resp := readLine(t, r)
	if !strings.HasPrefix(resp, "239 "+id) {
		t.Fatalf("expected 239 %s, got %q", id, resp)
	}

	if !st.HasArticle(id) {
		t.Fatal("expected store.HasArticle=true after TAKETHIS")
	}
	groups, err := st.GetGroupsForArticle(id)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range groups {
		if g == "overchan.test" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected overchan.test in groups, got %v", groups)
	}

	if len(fanout.calls) != 1 {
		t.Fatalf("expected exactly one fanout call, got %d", len(fanout.calls))
	}

	writeLine(t, client, "CHECK "+id)
	if resp := readLine(t, r); !strings.HasPrefix(resp, "435") {
		t.Fatalf("expected 435 for already-had article, got %q", resp)
	}
}

func TestArticleDoesNotDotStuffLeadingDotLines(t *testing.T) {
	st, _, client, r := newTestServer(t)
	_ = readLine(t, r) // welcome
	_ = st

	id := "<dotline@test.instance.tld>"
	writeLine(t, client, "TAKETHIS "+id)
	writeLine(t, client, "Subject: dot test")
	writeLine(t, client, "Newsgroups: overchan.test")
	writeLine(t, client, "")
	writeLine(t, client, "..this line starts with a dot")
	writeLine(t, client, "normal line")
	writeLine(t, client, ".")
	if resp := readLine(t, r); !strings.HasPrefix(resp, "239 "+id) {
		t.Fatalf("expected 239 %s, got %q", id, resp)
	}

	writeLine(t, client, "MODE READER")
	if resp := readLine(t, r); !strings.HasPrefix(resp, "200") {
		t.Fatalf("expected 200 for MODE READER, got %q", resp)
	}

	writeLine(t, client, "GROUP overchan.test")
	if resp := readLine(t, r); !strings.HasPrefix(resp, "211") {
		t.Fatalf("expected 211 for GROUP, got %q", resp)
	}

	writeLine(t, client, "ARTICLE 1")
	if resp := readLine(t, r); !strings.HasPrefix(resp, "220") {
		t.Fatalf("expected 220 for ARTICLE, got %q", resp)
	}

	var lines []string
	for {
		line := readLine(t, r)
		if line == "." {
			break
		}
		lines = append(lines, line)
	}

	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "..this line starts with a dot") {
		t.Errorf("expected original leading-dot line preserved verbatim (not stuffed), got lines: %v", lines)
	}
	if strings.Contains(joined, "...this line starts with a dot") {
		t.Error("line was dot-stuffed (extra leading dot added), but this subset must not dot-stuff")
	}
}

func TestTakeThisIdempotentDoesNotOverwrite(t *testing.T) {
	st, _, client, r := newTestServer(t)
	_ = readLine(t, r) // welcome

	id := "<idempotent@test.instance.tld>"
	sendTakeThis := func(subject string) string {
		writeLine(t, client, "TAKETHIS "+id)
		writeLine(t, client, "Subject: "+subject)
		writeLine(t, client, "Newsgroups: overchan.test")
		writeLine(t, client, "")
		writeLine(t, client, "body")
		writeLine(t, client, ".")
		return readLine(t, r)
	}

	resp1 := sendTakeThis("first")
	if !strings.HasPrefix(resp1, "239 "+id) {
		t.Fatalf("expected 239 on first TAKETHIS, got %q", resp1)
	}

	h, err := st.OpenArticle(id, true)
	if err != nil {
		t.Fatal(err)
	}
	firstPayload := make([]byte, 4096)
	n, _ := h.Reader.Read(firstPayload)
	h.Close()
	firstContent := string(firstPayload[:n])
	if !strings.Contains(firstContent, "first") {
		t.Fatalf("expected first payload to contain 'first', got %q", firstContent)
	}

	resp2 := sendTakeThis("second")
	if !strings.Contains(resp2, "239") && !strings.Contains(resp2, "435") {
		t.Fatalf("expected 239/435-like response on duplicate TAKETHIS, got %q", resp2)
	}

	h2, err := st.OpenArticle(id, true)
	if err != nil {
		t.Fatal(err)
	}
	secondPayload := make([]byte, 4096)
	n2, _ := h2.Reader.Read(secondPayload)
	h2.Close()
	secondContent := string(secondPayload[:n2])
	if !strings.Contains(secondContent, "first") {
		t.Errorf("blob must not be overwritten by duplicate TAKETHIS, got %q", secondContent)
	}
}
