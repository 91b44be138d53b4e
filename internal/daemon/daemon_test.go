package daemon

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-while/go-overchan-nntpd/internal/store"
)

func newTestDaemon(t *testing.T) (*Daemon, net.Listener) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "articles"), filepath.Join(dir, "index.sq3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	d := New(st, "test.instance.tld")
	if err := d.Start("127.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.End)
	return d, d.listener
}

func dialAndReadWelcome(t *testing.T, listener net.Listener) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", listener.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "200 ") {
		t.Fatalf("expected welcome banner, got %q", line)
	}
	return conn, r
}

func TestAcceptLoopServesConnections(t *testing.T) {
	_, listener := newTestDaemon(t)
	conn, r := dialAndReadWelcome(t, listener)
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("QUIT\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "205") {
		t.Fatalf("expected 205 on QUIT, got %q", line)
	}
}

func TestGotArticleSkipsFanoutWithNoGroups(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "articles"), filepath.Join(dir, "index.sq3"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	d := New(st, "test.instance.tld")
	// No outfeeds configured; GotArticle with empty groups must not panic
	// and must simply skip fanout.
	d.GotArticle("<noop@test>", nil)
}

func TestGenerateIDIsUniqueAndScopedToInstance(t *testing.T) {
	d := New(nil, "myinstance.tld")
	a := d.GenerateID()
	b := d.GenerateID()
	if a == b {
		t.Fatal("expected two distinct generated message-ids")
	}
	if !strings.HasSuffix(a, "@myinstance.tld>") {
		t.Errorf("expected generated id to end with instance suffix, got %q", a)
	}
}
