// Package outfeed implements one worker per configured peer: dialing
// (optionally through a SOCKS4a proxy), running the outbound NNTP
// streaming loop, and reconnecting with backoff on disconnect.
package outfeed

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/go-while/go-overchan-nntpd/internal/nntp"
	"github.com/go-while/go-overchan-nntpd/internal/policy"
	"github.com/go-while/go-overchan-nntpd/internal/store"
)

// ReconnectDelay is the backoff between failed dial attempts.
var ReconnectDelay = 1 * time.Second

// Outfeed is one worker driving a single outbound feed.
type Outfeed struct {
	Name      string
	Host      string
	Port      int
	ProxyType string
	ProxyHost string
	ProxyPort int
	Policy    *policy.Policy
	Instance  string

	store *store.Store

	mu       sync.Mutex
	queued   map[string]bool
	pending  chan string
	conn     *nntp.Conn
	streaming bool

	stop chan struct{}
}

// New creates an Outfeed worker. Call Run in its own goroutine to start
// the dial/serve/reconnect lifecycle loop.
func New(name, host string, port int, proxyType, proxyHost string, proxyPort int, pol *policy.Policy, st *store.Store, instance string) *Outfeed {
	return &Outfeed{
		Name:      name,
		Host:      host,
		Port:      port,
		ProxyType: proxyType,
		ProxyHost: proxyHost,
		ProxyPort: proxyPort,
		Policy:    pol,
		Instance:  instance,
		store:     st,
		queued:    make(map[string]bool),
		pending:   make(chan string, 4096),
		stop:      make(chan struct{}),
	}
}

// Stop signals the lifecycle loop to exit after its current connection
// attempt or streaming session ends.
func (o *Outfeed) Stop() {
	close(o.stop)
}

// ArticleQueued reports whether id is already marked as queued for this
// feed, and marks it (returning false) if it is not. It does not put id on
// the pending queue; Offer does that.
func (o *Outfeed) ArticleQueued(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queued[id] {
		return true
	}
	o.queued[id] = true
	return false
}

// Offer enqueues id iff the policy allows at least one of groups and it is
// not already queued.
func (o *Outfeed) Offer(id string, groups []string) {
	if o.ArticleQueued(id) {
		return
	}
	if !o.Policy.AllowAny(groups) {
		o.mu.Lock()
		delete(o.queued, id)
		o.mu.Unlock()
		return
	}
	select {
	case o.pending <- id:
	default:
		log.Printf("[outfeed] %s: pending queue full, dropping %s", o.Name, id)
	}
}

// Run is the lifecycle loop: dial, stream, and on disconnect clear state
// and retry with backoff. It returns when Stop is called.
func (o *Outfeed) Run() {
	for {
		select {
		case <-o.stop:
			return
		default:
		}

		conn, err := o.dial()
		if err != nil {
			log.Printf("[outfeed] %s: dial failed: %v", o.Name, err)
			select {
			case <-time.After(ReconnectDelay):
			case <-o.stop:
				return
			}
			continue
		}

		nc := nntp.NewConn(false, o.Name, conn, o.store, nil, o.Instance)
		streaming, err := nc.Dial()
		if err != nil || !streaming {
			log.Printf("[outfeed] %s: handshake failed or peer lacks streaming: %v", o.Name, err)
			nc.Close()
			select {
			case <-time.After(ReconnectDelay):
			case <-o.stop:
				return
			}
			continue
		}

		o.mu.Lock()
		o.conn = nc
		o.streaming = true
		o.mu.Unlock()

		o.stream(nc)

		o.mu.Lock()
		o.conn = nil
		o.streaming = false
		o.mu.Unlock()

		select {
		case <-time.After(ReconnectDelay):
		case <-o.stop:
			return
		}
	}
}

func (o *Outfeed) stream(nc *nntp.Conn) {
	defer nc.Close()
	for {
		select {
		case id := <-o.pending:
			if _, err := nc.OfferArticle(id); err != nil {
				log.Printf("[outfeed] %s: offer %s failed: %v", o.Name, id, err)
				o.mu.Lock()
				delete(o.queued, id)
				o.mu.Unlock()
				return
			}
			o.mu.Lock()
			delete(o.queued, id)
			o.mu.Unlock()
		case <-o.stop:
			return
		}
	}
}

// dial establishes the underlying TCP connection, optionally relaying it
// through a SOCKS4a proxy.
func (o *Outfeed) dial() (net.Conn, error) {
	if o.ProxyType == "socks4a" {
		return dialSOCKS4a(o.ProxyHost, o.ProxyPort, o.Host, o.Port)
	}
	addr := fmt.Sprintf("%s:%d", o.Host, o.Port)
	return net.DialTimeout("tcp", addr, 30*time.Second)
}

// dialSOCKS4a connects to the given proxy and performs the literal SOCKS4a
// handshake: \x04\x01 | port(be16) | 0.0.0.1 | "srndv2\x00" | host | \x00.
// Success iff the second response byte (index 1) is 0x5A.
func dialSOCKS4a(proxyHost string, proxyPort int, targetHost string, targetPort int) (net.Conn, error) {
	proxyAddr := fmt.Sprintf("%s:%d", proxyHost, proxyPort)
	conn, err := net.DialTimeout("tcp", proxyAddr, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("outfeed: failed to dial proxy %s: %w", proxyAddr, err)
	}

	req := make([]byte, 0, 32)
	req = append(req, 0x04, 0x01)
	req = append(req, byte(targetPort>>8), byte(targetPort))
	req = append(req, 0x00, 0x00, 0x00, 0x01)
	req = append(req, []byte("srndv2\x00")...)
	req = append(req, []byte(targetHost)...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("outfeed: failed to write SOCKS4a request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := fullRead(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("outfeed: failed to read SOCKS4a response: %w", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("outfeed: SOCKS4a handshake rejected (code %#x)", resp[1])
	}
	return conn, nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
