// Command nntpd is the federated news daemon: it binds the NNTP listener,
// drives the configured outfeeds, and optionally exposes the frontend IPC
// bridge and its loopback admin endpoint.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	prof "github.com/go-while/go-cpu-mem-profiler"

	"github.com/go-while/go-overchan-nntpd/internal/config"
	"github.com/go-while/go-overchan-nntpd/internal/daemon"
	"github.com/go-while/go-overchan-nntpd/internal/ipc"
	"github.com/go-while/go-overchan-nntpd/internal/store"
)

var appVersion = "-unset-"

func main() {
	log.Printf("Starting go-overchan-nntpd (version: %s)", appVersion)

	var (
		configPath = flag.String("config", "srnd.ini", "Path to the main configuration file")
		feedsPath  = flag.String("feeds", "feeds.ini", "Path to the feeds configuration file")
		adminPort  = flag.Int("admin-port", 0, "Loopback admin HTTP port (0 disables the admin endpoint)")
		pprofAddr  = flag.String("pprof", "", "Optional pprof listen address, e.g. 127.0.0.1:6060 (empty disables)")
	)
	flag.Parse()

	if *pprofAddr != "" {
		p := prof.NewProf()
		go p.PprofWeb(*pprofAddr)
		log.Printf("pprof listening on %s", *pprofAddr)
	}

	cfg, err := config.LoadMainConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *configPath, err)
	}

	st, err := store.Open(cfg.StoreBaseDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	d := daemon.New(st, cfg.InstanceName)

	if cfg.IPCSocketPath != "" {
		if err := d.ConfigureIPC(cfg.IPCSocketPath); err != nil {
			log.Fatalf("Failed to start IPC bridge: %v", err)
		}
		log.Printf("IPC bridge listening on %s", cfg.IPCSocketPath)
	}

	if *adminPort != 0 {
		admin := ipc.NewAdminServer(st, cfg.InstanceName)
		go func() {
			if err := admin.ListenAndServe(*adminPort); err != nil {
				log.Printf("admin endpoint stopped: %v", err)
			}
		}()
		log.Printf("admin endpoint listening on 127.0.0.1:%d", *adminPort)
	}

	if fc, err := config.LoadFeedsConfig(*feedsPath); err != nil {
		log.Printf("No feeds loaded from %s: %v", *feedsPath, err)
	} else if err := d.ConfigureFeeds(fc); err != nil {
		log.Fatalf("Failed to configure feeds: %v", err)
	}

	if err := d.Start(cfg.BindHost, cfg.BindPort); err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down")
	d.End()
}
