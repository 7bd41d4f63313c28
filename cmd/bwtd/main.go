// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command bwtd is the process entry point: it parses the command-line
// options, builds an internal/config.Config, and hands it to internal/app
// to run until interrupted. Shaped after pktwallet.go's main/walletMain
// split, since deferred log flushing doesn't run after os.Exit.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/bwt-dev/bwt-sub000/internal/app"
	"github.com/bwt-dev/bwt-sub000/internal/config"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/version"
)

func main() {
	version.SetUserAgentName("bwtd")
	if err := bwtdMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.String())
		os.Exit(1)
	}
}

// options is the command-line surface; it covers the knobs §6 names, not
// the full ini-file/cookie-file machinery pktd.conf supports (out of
// scope, see SPEC_FULL.md §1).
type options struct {
	Network string `long:"network" default:"mainnet" description:"mainnet, testnet, regtest or signet"`

	NodeRPCAddr   string `long:"node_rpc_addr" description:"host:port of the node's JSON-RPC wallet endpoint"`
	NodeRPCUser   string `long:"node_rpc_user" description:"RPC username"`
	NodeRPCPass   string `long:"node_rpc_pass" description:"RPC password"`
	NodeCookie    string `long:"node_cookie_file" description:"path to node .cookie file, used if user/pass are unset"`
	NodeRPCTimeout time.Duration `long:"node_rpc_timeout" default:"15s" description:"per-request node RPC timeout"`

	Wallet   []string `long:"wallet" description:"descriptor=DESC[:GAP], xpub=XPUB[:GAP] or addr=ADDRESS, repeatable"`
	ForceRescan bool  `long:"force_rescan" description:"apply each wallet's rescan policy to every import pass, not only the first"`

	PollInterval   time.Duration `long:"poll_interval" default:"5s"`
	DebounceWindow time.Duration `long:"debounce_window" default:"7s"`

	ElectrumListen string `long:"electrum_listen" description:"address to serve the Electrum protocol on, empty disables it"`
	ElectrumAuth   string `long:"electrum_auth_token" description:"SOCKS5-framed access token gating Electrum connections"`

	HTTPListen string   `long:"http_listen" description:"address to serve the HTTP/SSE API on, empty disables it"`
	HTTPAuth   string   `long:"http_auth_token" description:"HTTP Basic auth token"`
	CORS       []string `long:"cors_origin" description:"allowed CORS origin, repeatable"`

	WebhookURL string `long:"webhook_url" description:"URL to POST each sync pass's changelog to"`
	NotifyFile string `long:"notify_file" description:"file to append each sync pass's changelog to, one JSON line per change"`

	DebugLevel string `long:"debuglevel" default:"info" description:"trace, debug, info, warn, error or critical"`
}

// bwtdMain is the work-around for os.Exit not running deferred functions.
func bwtdMain() er.R {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return er.E(err)
	}

	if err := log.SetLogLevels(opts.DebugLevel); err != nil {
		return err
	}
	log.Infof("Version %s", version.Version())

	cfg, err := buildConfig(&opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var httpListen, electrumListen net.Listener
	if cfg.HTTPListenAddr != "" {
		l, errr := net.Listen("tcp", cfg.HTTPListenAddr)
		if errr != nil {
			return er.E(errr)
		}
		defer l.Close()
		httpListen = l
		log.Infof("HTTP API listening on %s", cfg.HTTPListenAddr)
	}
	if cfg.ElectrumListenAddr != "" {
		l, errr := net.Listen("tcp", cfg.ElectrumListenAddr)
		if errr != nil {
			return er.E(errr)
		}
		defer l.Close()
		electrumListen = l
		log.Infof("Electrum listening on %s", cfg.ElectrumListenAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := make(chan indexer.Progress, 8)
	go drainProgress(progress)

	return app.Run(ctx, cfg, httpListen, electrumListen, progress)
}

// buildConfig translates the parsed flags into internal/config.Config,
// resolving node RPC credentials via config.ReadUserPass (the cookie-file
// fallback ported from pktconfig.ReadUserPass) when neither user nor pass
// was given directly.
func buildConfig(opts *options) (*config.Config, er.R) {
	user, pass := opts.NodeRPCUser, opts.NodeRPCPass
	if user == "" && pass == "" && opts.NodeCookie != "" {
		up, err := config.ReadUserPass(opts.NodeCookie)
		if err != nil {
			return nil, err
		}
		if len(up) == 2 {
			user, pass = up[0], up[1]
		}
	}

	wallets, err := parseWallets(opts.Wallet)
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Network:            opts.Network,
		NodeRPCAddr:        opts.NodeRPCAddr,
		NodeRPCUser:        user,
		NodeRPCPass:        pass,
		NodeCookieFile:     opts.NodeCookie,
		NodeRPCTimeout:     opts.NodeRPCTimeout,
		Wallets:            wallets,
		ForceRescan:        opts.ForceRescan,
		PollInterval:       opts.PollInterval,
		DebounceWindow:     opts.DebounceWindow,
		ElectrumListenAddr: opts.ElectrumListen,
		ElectrumAuthToken:  opts.ElectrumAuth,
		HTTPListenAddr:     opts.HTTPListen,
		HTTPAuthToken:      opts.HTTPAuth,
		HTTPCORSOrigins:    opts.CORS,
		WebhookURL:         opts.WebhookURL,
		NotifyFile:         opts.NotifyFile,
	}, nil
}

// parseWallets turns each --wallet flag's "kind=value[:gap_limit]" shorthand
// into a config.WalletConfig. This shorthand, not a full ini schema, is the
// CLI surface this out-of-scope layer offers (see SPEC_FULL.md §1).
func parseWallets(raw []string) ([]config.WalletConfig, er.R) {
	out := make([]config.WalletConfig, 0, len(raw))
	for _, entry := range raw {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			return nil, er.Errorf("invalid --wallet entry %q, expected kind=value", entry)
		}
		kind, rest := kv[0], kv[1]
		value, gapLimit := rest, uint32(20)
		if idx := strings.LastIndex(rest, ":"); idx >= 0 {
			if n, convErr := strconv.ParseUint(rest[idx+1:], 10, 32); convErr == nil {
				value, gapLimit = rest[:idx], uint32(n)
			}
		}
		wc := config.WalletConfig{GapLimit: gapLimit}
		switch kind {
		case "descriptor":
			wc.Descriptor = value
		case "xpub":
			wc.Xpub = value
		case "addr", "address":
			wc.Address = value
		default:
			return nil, er.Errorf("invalid --wallet kind %q, want descriptor/xpub/addr", kind)
		}
		out = append(out, wc)
	}
	return out, nil
}

// drainProgress logs initial-sync progress events. InitialSync's sends are
// non-blocking, so events that arrive while this loop is busy are dropped.
func drainProgress(ch <-chan indexer.Progress) {
	for p := range ch {
		switch p.Kind {
		case indexer.ProgressScan:
			log.Infof("initial sync: scanning (tip_time=%d)", p.TipTime)
		case indexer.ProgressDone:
			log.Infof("initial sync: done")
		default:
			log.Infof("initial sync: progress %.2f%%", p.Fraction*100)
		}
	}
}
