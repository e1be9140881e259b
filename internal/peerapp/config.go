package peerapp

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultRelayURL = "ws://127.0.0.1:8090/ws"

// Config holds peer runtime settings derived from CLI flags and environment.
type Config struct {
	SessionName string
	ListenAddr  string
	Port        int
	BeaconPort  int
	RelayURL    string
	RelayToken  string
	Secret      string
	DataDir     string
	PeerDir     string
	NoColor     bool
	UseTUI      bool
	UseCLI      bool

	IdentityPath string
	OutboxPath   string
	InboxPath    string
}

var (
	configOnce sync.Once
	loaded     *Config
)

// LoadConfig parses CLI flags once and returns the populated Config.
func LoadConfig() *Config {
	configOnce.Do(func() {
		cfg := &Config{}

		flag.StringVar(&cfg.SessionName, "session", "", "session name shown to nearby peers (defaults to hostname)")
		flag.StringVar(&cfg.ListenAddr, "listen", "", "address to listen on (host:port)")
		flag.IntVar(&cfg.Port, "port", 9101, "port to listen on when --listen empty")
		flag.IntVar(&cfg.BeaconPort, "beacon", 9999, "UDP port for local discovery beacons")
		flag.StringVar(&cfg.RelayURL, "relay", "", "relay websocket url (overrides DUALCHAT_RELAY_URL)")
		flag.StringVar(&cfg.RelayToken, "token", "", "relay access token from /login")
		flag.StringVar(&cfg.Secret, "secret", "", "shared secret for AES-256 frame encryption")
		flag.StringVar(&cfg.DataDir, "data-dir", "dual-chat-data", "base directory for per-peer data")
		flag.BoolVar(&cfg.NoColor, "no-color", false, "disable ANSI colors in CLI output")
		flag.BoolVar(&cfg.UseTUI, "tui", false, "enable terminal UI mode")

		flag.Parse()

		if cfg.ListenAddr == "" {
			cfg.ListenAddr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
		}
		if cfg.SessionName == "" {
			if host, err := os.Hostname(); err == nil {
				cfg.SessionName = host
			} else {
				cfg.SessionName = "peer"
			}
		}
		if cfg.RelayURL == "" {
			cfg.RelayURL = os.Getenv("DUALCHAT_RELAY_URL")
		}
		if cfg.RelayURL == "" {
			cfg.RelayURL = defaultRelayURL
		}
		cfg.UseCLI = !cfg.UseTUI

		cfg.ensureDirs()
		loaded = cfg
	})
	return loaded
}

func (cfg *Config) ensureDirs() {
	if cfg.DataDir == "" {
		cfg.DataDir = "dual-chat-data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("init data dir: %v", err)
	}
	cfg.PeerDir = derivePeerDir(cfg.DataDir, cfg.ListenAddr)
	if err := os.MkdirAll(cfg.PeerDir, 0o755); err != nil {
		log.Fatalf("prepare peer dir: %v", err)
	}
	cfg.IdentityPath = filepath.Join(cfg.PeerDir, "identity")
	cfg.OutboxPath = filepath.Join(cfg.PeerDir, "outbox.db")
	cfg.InboxPath = filepath.Join(cfg.PeerDir, "inbox.db")
}

func derivePeerDir(base, addr string) string {
	if base == "" {
		base = "."
	}
	hostPart := "peer"
	portPart := "peer"
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host != "" {
			hostPart = sanitizePathToken(host)
		}
		if port != "" {
			portPart = sanitizePathToken(port)
		}
	} else if addr != "" {
		hostPart = sanitizePathToken(strings.ReplaceAll(addr, ":", "_"))
	}
	folder := fmt.Sprintf("%s-%s", hostPart, portPart)
	return filepath.Join(base, folder)
}

func sanitizePathToken(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return "peer"
	}
	var b strings.Builder
	for _, r := range val {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == '.', r == ':':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "peer"
	}
	return out
}
