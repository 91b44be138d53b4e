// Package daemon ties the listener, ArticleStore, and outfeed fleet
// together: it accepts inbound connections, fans posted/transferred
// articles out to configured peers, and generates fresh Message-IDs for
// anonymous posts.
package daemon

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/go-while/go-overchan-nntpd/internal/config"
	"github.com/go-while/go-overchan-nntpd/internal/ipc"
	"github.com/go-while/go-overchan-nntpd/internal/nntp"
	"github.com/go-while/go-overchan-nntpd/internal/outfeed"
	"github.com/go-while/go-overchan-nntpd/internal/policy"
	"github.com/go-while/go-overchan-nntpd/internal/store"
	"github.com/go-while/go-overchan-nntpd/internal/util"
)

// Daemon owns the listener, the ArticleStore, and the outfeed fleet.
// Inbound Conns hold only a narrow Fanout back-reference to it, never a
// full pointer, and outfeeds hold no reference to it at all, so there is
// exactly one owner of shutdown sequencing.
type Daemon struct {
	Store    *store.Store
	Instance string

	listener net.Listener

	// IPC is optional: when set via ConfigureIPC, every accepted article
	// is also broadcast to the frontend bridge's registered callbacks.
	IPC *ipc.Bridge

	mu       sync.Mutex
	outfeeds []*outfeed.Outfeed

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New creates a Daemon bound to an already-open Store.
func New(st *store.Store, instance string) *Daemon {
	return &Daemon{
		Store:    st,
		Instance: instance,
		shutdown: make(chan struct{}),
	}
}

// ConfigureFeeds builds one Outfeed per peer in fc and starts its
// lifecycle loop.
func (d *Daemon) ConfigureFeeds(fc *config.FeedsConfig) error {
	for _, pc := range fc.Peers {
		host, port, err := util.ParseAddr(pc.HostPort)
		if err != nil {
			return fmt.Errorf("daemon: invalid feed address %q: %w", pc.HostPort, err)
		}
		pol, err := policy.FromConfig(pc.RuleKeys, pc.RuleValues)
		if err != nil {
			return fmt.Errorf("daemon: invalid policy for feed %q: %w", pc.HostPort, err)
		}
		of := outfeed.New(pc.HostPort, host, port, pc.ProxyType, pc.ProxyHost, pc.ProxyPort, pol, d.Store, d.Instance)
		d.mu.Lock()
		d.outfeeds = append(d.outfeeds, of)
		d.mu.Unlock()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			of.Run()
		}()
	}
	return nil
}

// ConfigureIPC wires up the frontend bridge at sockPath: it shares this
// daemon's Store and submits posts through the same Ingest path inbound
// NNTP POST uses, and receives got_article broadcasts via Daemon.GotArticle.
func (d *Daemon) ConfigureIPC(sockPath string) error {
	bridge := ipc.New(d.Store, ipc.NewProcessor(d.Store, d, d.Instance))
	if err := bridge.Listen(sockPath); err != nil {
		return err
	}
	d.IPC = bridge
	return nil
}

// Start binds the TCP listener and runs the accept loop in a new
// goroutine.
func (d *Daemon) Start(bindHost string, bindPort int) error {
	addr := net.JoinHostPort(bindHost, fmt.Sprintf("%d", bindPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: failed to listen on %s: %w", addr, err)
	}
	d.listener = listener
	log.Printf("[daemon] listening on %s", addr)

	d.wg.Add(1)
	go d.acceptLoop()
	return nil
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return
			default:
				log.Printf("[daemon] accept error: %v", err)
				continue
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			name := conn.RemoteAddr().String()
			nc := nntp.NewConn(true, name, conn, d.Store, d, d.Instance)
			nc.CheckLogin = d.Store.CheckUserLogin
			if err := nc.Serve(); err != nil {
				log.Printf("[daemon] connection %s ended with error: %v", name, err)
			}
		}()
	}
}

// GotArticle is the fanout point invoked by an inbound Conn once an
// article has been fully ingested and indexed: for each outfeed, the
// article is enqueued iff its policy allows at least one of groups and
// it isn't already queued there. A missing or empty groups set logs a
// warning and does no fanout.
func (d *Daemon) GotArticle(articleID string, groups []string) {
	if len(groups) == 0 {
		log.Printf("[daemon] %s: no groups, skipping fanout", articleID)
		return
	}
	d.mu.Lock()
	feeds := make([]*outfeed.Outfeed, len(d.outfeeds))
	copy(feeds, d.outfeeds)
	d.mu.Unlock()

	for _, of := range feeds {
		of.Offer(articleID, groups)
	}

	if d.IPC != nil {
		d.IPC.Broadcast(articleID, groups)
	}
}

// GenerateID returns a fresh Message-ID scoped to this daemon's instance
// name.
func (d *Daemon) GenerateID() string {
	return util.GenerateMessageID(d.Instance)
}

// End closes the listener and the IPC bridge and stops every outfeed, then
// waits for the accept loop, the outfeed workers, and open inbound
// connections to return. It does not wait for the accept loop to exit
// before stopping the outfeeds.
func (d *Daemon) End() {
	close(d.shutdown)
	if d.listener != nil {
		d.listener.Close()
	}
	if d.IPC != nil {
		d.IPC.Close()
	}
	d.mu.Lock()
	feeds := make([]*outfeed.Outfeed, len(d.outfeeds))
	copy(feeds, d.outfeeds)
	d.mu.Unlock()
	for _, of := range feeds {
		of.Stop()
	}
	d.wg.Wait()
}
