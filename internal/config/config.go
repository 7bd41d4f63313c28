// Package config defines the process's configuration surface (§6) and
// validates it. It does not parse command-line flags or ini files itself
// (that CLI layer is out of scope per §1) except for the one piece the
// teacher always resolves through a dedicated helper: node RPC
// credentials, via ReadUserPass, adapted near-verbatim from
// pktconfig.ReadUserPass.
package config

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
)

// WalletConfig describes one watched descriptor/xpub/address entry as the
// (out-of-scope) CLI layer would populate it.
type WalletConfig struct {
	Descriptor string
	Xpub       string
	Address    string
	GapLimit   uint32
	RescanSinceUnix int64 // 0 means Now
}

// Config is the full configuration surface named in §6.
type Config struct {
	Network string // "mainnet", "testnet", "regtest", "signet"

	NodeRPCAddr string
	NodeRPCUser string
	NodeRPCPass string
	NodeCookieFile string
	NodeRPCTimeout time.Duration

	Wallets           []WalletConfig
	InitialImportSize uint32
	ForceRescan       bool

	PollInterval   time.Duration
	DebounceWindow time.Duration

	ElectrumListenAddr string
	ElectrumAuthToken  string

	HTTPListenAddr string
	HTTPAuthToken  string
	HTTPCORSOrigins []string

	WebhookURL string
	NotifyFile string
}

// Params resolves the configured network name to chaincfg parameters.
func (c *Config) Params() (*chaincfg.Params, er.R) {
	switch c.Network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, bwterr.ErrInvalidNetwork.New("unknown network "+c.Network, nil)
	}
}

// Validate checks the configuration for internal consistency, returning a
// Configuration-class error (never Transient/Inconsistent) describing the
// first problem found.
func (c *Config) Validate() er.R {
	if _, err := c.Params(); err != nil {
		return err
	}
	if c.NodeRPCAddr == "" {
		return bwterr.ErrInvalidNetwork.New("node_rpc_addr must be set", nil)
	}
	if len(c.Wallets) == 0 {
		return bwterr.ErrInvalidDescriptor.New("at least one wallet/address must be configured", nil)
	}
	for _, w := range c.Wallets {
		n := 0
		if w.Descriptor != "" {
			n++
		}
		if w.Xpub != "" {
			n++
		}
		if w.Address != "" {
			n++
		}
		if n != 1 {
			return bwterr.ErrInvalidDescriptor.New("each wallet entry must set exactly one of descriptor/xpub/address", nil)
		}
		if w.GapLimit == 0 && w.Address == "" {
			return bwterr.ErrInvalidGapLimit.New("gap_limit must be nonzero for descriptor/xpub wallets", nil)
		}
	}
	if c.NodeRPCTimeout <= 0 {
		c.NodeRPCTimeout = DefaultNodeRPCTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.InitialImportSize == 0 {
		c.InitialImportSize = DefaultInitialImportSize
	}
	return nil
}

const (
	DefaultNodeRPCTimeout    = 15 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultDebounceWindow    = 7 * time.Second
	DefaultInitialImportSize = 100
)

// userpass mirrors pktconfig's ini fragment for node RPC credentials,
// including the legacy username/password field names some bitcoind forks
// still emit.
type userpass struct {
	Username    string `long:"rpcuser"`
	Password    string `long:"rpcpass"`
	OldUsername string `long:"username"`
	OldPassword string `long:"password"`
}

// ReadUserPass reads rpcuser/rpcpass out of a bitcoind-style config file,
// falling back to a sibling .cookie file unless the config sets both.
// Ported from pktconfig.ReadUserPass; the cookie-file sibling-name
// substitution here targets bitcoin.conf's "bitcoin.conf" rather than
// pktd's "pktd.conf".
func ReadUserPass(filePath string) ([]string, er.R) {
	cfg := userpass{}
	parser := flags.NewParser(&cfg, flags.IgnoreUnknown)
	if errr := flags.NewIniParser(parser).ParseFile(filePath); errr == nil {
		if cfg.Username == "" {
			cfg.Username = cfg.OldUsername
		}
		if cfg.Password == "" {
			cfg.Password = cfg.OldPassword
		}
		if cfg.Username != "" && cfg.Password != "" {
			return []string{cfg.Username, cfg.Password}, nil
		}
	} else if _, ok := errr.(*os.PathError); !ok {
		return nil, er.E(errr)
	}

	cookiePath := strings.ReplaceAll(filePath, "bitcoin.conf", ".cookie")
	if cookiePath == filePath {
		return nil, nil
	}
	cookie, errr := ioutil.ReadFile(cookiePath)
	if errr != nil {
		if _, ok := errr.(*os.PathError); ok {
			return nil, nil
		}
		return nil, er.E(errr)
	}
	up := strings.SplitN(strings.TrimSpace(string(cookie)), ":", 2)
	if len(up) != 2 {
		return nil, er.Errorf("unexpected cookie file format: %s", cookiePath)
	}
	return up, nil
}
