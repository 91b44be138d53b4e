// Package config loads the two INI configuration files this daemon reads at
// startup: the main config (logging, store, database, bind address) and the
// feeds config (one section per outbound peer plus its subscription rules).
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

const (
	// DefaultConnectTimeout is the default outfeed dial timeout. Nothing
	// reads it: internal/outfeed dials with its own 30-second timeout.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultSendTimeout is the default bound on a single NNTP write/read
	// operation. Nothing reads it: internal/nntp uses its own
	// DefaultConnTimeout (also 30 seconds).
	DefaultSendTimeout = 30 * time.Second
	// DefaultReconnectDelay is the default backoff between outfeed connect
	// attempts. Nothing reads it: internal/outfeed uses its own
	// ReconnectDelay (also 1 second).
	DefaultReconnectDelay = 1 * time.Second
)

// MainConfig holds the [log], [database], [store], and [srnd] sections of
// the main configuration file.
type MainConfig struct {
	LogLevel string

	DatabaseURL string

	StoreBaseDir string

	InstanceName string
	BindHost     string
	BindPort     int
	SyncOnStart  bool

	// IPCSocketPath is the optional unix-domain socket the frontend IPC
	// bridge listens on. Empty disables the bridge.
	IPCSocketPath string
}

// NewDefaultMainConfig mirrors the source daemon's generated srnd.ini
// defaults.
func NewDefaultMainConfig() *MainConfig {
	return &MainConfig{
		LogLevel:     "info",
		DatabaseURL:  "data/index.sq3",
		StoreBaseDir: "data/articles",
		InstanceName: "localhost.overchan.tld",
		BindHost:     "::1",
		BindPort:     1199,
		SyncOnStart:  true,
	}
}

// LoadMainConfig reads the main INI config file at path, falling back to
// defaults for any missing key.
func LoadMainConfig(path string) (*MainConfig, error) {
	cfg := NewDefaultMainConfig()
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	if s := f.Section("log"); s != nil {
		cfg.LogLevel = s.Key("level").MustString(cfg.LogLevel)
	}
	if s := f.Section("database"); s != nil {
		cfg.DatabaseURL = s.Key("url").MustString(cfg.DatabaseURL)
	}
	if s := f.Section("store"); s != nil {
		cfg.StoreBaseDir = s.Key("base_dir").MustString(cfg.StoreBaseDir)
	}
	if s := f.Section("srnd"); s != nil {
		cfg.InstanceName = s.Key("instance_name").MustString(cfg.InstanceName)
		cfg.BindHost = s.Key("bind_host").MustString(cfg.BindHost)
		cfg.BindPort = s.Key("bind_port").MustInt(cfg.BindPort)
		cfg.SyncOnStart = s.Key("sync_on_start").MustBool(cfg.SyncOnStart)
	}
	if s := f.Section("ipc"); s != nil {
		cfg.IPCSocketPath = s.Key("socket_path").MustString(cfg.IPCSocketPath)
	}
	return cfg, nil
}

// PeerConfig is one outbound feed's connection and proxy settings, parsed
// from a "feed-<host:port>" section.
type PeerConfig struct {
	HostPort  string
	ProxyType string
	ProxyHost string
	ProxyPort int

	// RuleKeys preserves the declaration order of the sibling policy
	// section's keys so FeedPolicy evaluation order matches the file.
	RuleKeys   []string
	RuleValues map[string]string
}

// FeedsConfig is the parsed feeds.ini: one PeerConfig per configured feed.
type FeedsConfig struct {
	Peers []PeerConfig
}

// LoadFeedsConfig reads the feeds INI config file, pairing each
// "feed-<host:port>" section with its sibling "<host:port>" policy section.
func LoadFeedsConfig(path string) (*FeedsConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	fc := &FeedsConfig{}
	for _, sec := range f.Sections() {
		name := sec.Name()
		if len(name) <= len("feed-") || name[:len("feed-")] != "feed-" {
			continue
		}
		hostPort := name[len("feed-"):]
		pc := PeerConfig{
			HostPort:   hostPort,
			RuleValues: make(map[string]string),
		}
		pc.ProxyType = sec.Key("proxy-type").MustString("")
		pc.ProxyHost = sec.Key("proxy-host").MustString("")
		pc.ProxyPort = sec.Key("proxy-port").MustInt(0)

		if policySec, err := f.GetSection(hostPort); err == nil {
			for _, k := range policySec.Keys() {
				pc.RuleKeys = append(pc.RuleKeys, k.Name())
				pc.RuleValues[k.Name()] = k.Value()
			}
		}
		fc.Peers = append(fc.Peers, pc)
	}
	return fc, nil
}
