// Package ipc implements the local frontend bridge: a unix-domain socket
// line protocol (newline-delimited JSON objects terminated by a lone "."
// line) that lets a companion frontend process register for got_article
// broadcasts, request a resync, and submit posts without going through the
// NNTP wire protocol.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/go-while/go-overchan-nntpd/internal/nntp"
	"github.com/go-while/go-overchan-nntpd/internal/store"
	"github.com/go-while/go-overchan-nntpd/internal/util"
)

// Processor is the article-acceptance surface the "post" command submits
// against — the same path the NNTP POST handler uses.
type Processor interface {
	GenerateID() string
	Submit(id string, lines []string) error
}

// request is one line of the newline-delimited JSON protocol. Please
// selects the command; the remaining fields are interpreted per-command.
type request struct {
	Please  string   `json:"Please"`
	Socket  string   `json:"socket"`
	Headers []string `json:"headers"`
	Body    []string `json:"body"`
}

type response struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Bridge is the IPC server: it listens on a unix socket, dispatches
// newline-delimited JSON requests, and pushes got_article broadcasts to
// every registered callback socket.
type Bridge struct {
	Store     *store.Store
	Processor Processor

	listener net.Listener

	mu        sync.Mutex
	callbacks map[string]bool
}

// New creates a Bridge. Call Listen to start accepting connections.
func New(st *store.Store, proc Processor) *Bridge {
	return &Bridge{
		Store:     st,
		Processor: proc,
		callbacks: make(map[string]bool),
	}
}

// Listen binds the unix socket at path and runs the accept loop in a new
// goroutine.
func (b *Bridge) Listen(path string) error {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: failed to listen on %s: %w", path, err)
	}
	b.listener = listener
	go b.acceptLoop()
	return nil
}

// Close shuts down the listener.
func (b *Bridge) Close() error {
	if b.listener == nil {
		return nil
	}
	return b.listener.Close()
}

func (b *Bridge) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		go b.handleConn(conn)
	}
}

func (b *Bridge) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	var buf []byte

	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			if len(buf) == 0 {
				continue
			}
			var req request
			if err := json.Unmarshal(buf, &req); err != nil {
				b.reply(conn, response{Error: "malformed request: " + err.Error()})
				buf = nil
				continue
			}
			b.dispatch(conn, req)
			buf = nil
			continue
		}
		buf = append(buf, line...)
	}
}

func (b *Bridge) dispatch(conn net.Conn, req request) {
	switch req.Please {
	case "socket":
		b.mu.Lock()
		b.callbacks[req.Socket] = true
		b.mu.Unlock()
		b.reply(conn, response{Ok: true})
	case "sync":
		// Resync is a no-op trigger point: the daemon already indexes on
		// ingest, so there is nothing to replay here beyond acknowledging
		// the request.
		b.reply(conn, response{Ok: true})
	case "post":
		b.handlePost(conn, req)
	default:
		b.reply(conn, response{Error: "unknown command: " + req.Please})
	}
}

func (b *Bridge) handlePost(conn net.Conn, req request) {
	if b.Processor == nil {
		b.reply(conn, response{Error: "posting not available"})
		return
	}
	id := b.Processor.GenerateID()
	lines := append(append([]string{}, req.Headers...), "")
	lines = append(lines, req.Body...)
	if err := b.Processor.Submit(id, lines); err != nil {
		b.reply(conn, response{Error: err.Error()})
		return
	}
	b.reply(conn, response{Ok: true, ID: id})
}

func (b *Bridge) reply(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		log.Printf("[ipc] failed to write response: %v", err)
	}
}

// Broadcast pushes a got_article event to every registered callback
// socket as a single-line JSON object.
func (b *Bridge) Broadcast(articleID string, groups []string) {
	payload, err := json.Marshal(struct {
		Please    string   `json:"Please"`
		ArticleID string   `json:"article_id"`
		Groups    []string `json:"groups"`
	}{"got_article", articleID, groups})
	if err != nil {
		return
	}

	b.mu.Lock()
	sockets := make([]string, 0, len(b.callbacks))
	for s := range b.callbacks {
		sockets = append(sockets, s)
	}
	b.mu.Unlock()

	for _, sock := range sockets {
		c, err := net.Dial("unix", sock)
		if err != nil {
			log.Printf("[ipc] callback %s unreachable, dropping registration: %v", sock, err)
			b.mu.Lock()
			delete(b.callbacks, sock)
			b.mu.Unlock()
			continue
		}
		c.Write(append(payload, '\n'))
		c.Close()
	}
}

// processorAdapter lets the IPC bridge submit posts through the exact
// article-acceptance path the NNTP POST handler uses.
type processorAdapter struct {
	store    *store.Store
	fanout   nntp.Fanout
	instance string
}

// NewProcessor wraps Store/fanout/instance into a Processor suitable for
// New.
func NewProcessor(st *store.Store, fanout nntp.Fanout, instance string) Processor {
	return &processorAdapter{store: st, fanout: fanout, instance: instance}
}

func (p *processorAdapter) GenerateID() string {
	return util.GenerateMessageID(p.instance)
}

func (p *processorAdapter) Submit(id string, lines []string) error {
	_, err := nntp.Ingest(p.store, p.fanout, p.instance, id, lines, true)
	return err
}
