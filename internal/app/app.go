// Package app wires every internal component into one running process:
// node adapter, store, wallet watcher, indexer, dispatcher, query façade,
// sync driver, notification sinks and both frontends. It is the Go
// reshaping of pktwallet.go's walletMain — load config, build the
// dependency graph bottom-up, run the initial sync, then block serving
// until the context is canceled.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/config"
	"github.com/bwt-dev/bwt-sub000/internal/descriptor"
	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/electrum"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/httpapi"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/notify"
	"github.com/bwt-dev/bwt-sub000/internal/query"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/syncdriver"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

// App holds every long-lived component once wired, so Run's caller (and
// tests) can reach into it without re-deriving the wiring.
type App struct {
	Indexer    *indexer.Indexer
	Dispatcher *dispatch.Dispatcher
	Query      *query.Query
	Driver     *syncdriver.Driver
	HTTP       *httpapi.Server
	Electrum   *electrum.Server
}

// Build constructs the full dependency graph from cfg without starting
// anything. Run calls this and then drives the result; tests that need the
// wiring without the run loop can call it directly.
func Build(cfg *config.Config) (*App, er.R) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}

	node := nodeapi.New(nodeapi.Config{
		URL:     cfg.NodeRPCAddr,
		User:    cfg.NodeRPCUser,
		Pass:    cfg.NodeRPCPass,
		Timeout: cfg.NodeRPCTimeout,
	})

	watcher := walletwatcher.New(node)
	if err := buildWallets(watcher, cfg, params); err != nil {
		return nil, err
	}

	st := store.New(true)
	ix := indexer.New(node, watcher, st, params)
	d := dispatch.New()
	q := query.New(ix, node)

	var sinks []syncdriver.Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
	}
	if cfg.NotifyFile != "" {
		sinks = append(sinks, notify.NewFileSink(cfg.NotifyFile))
	}
	driver := syncdriver.New(ix, d, sinks...)
	driver.SetPollInterval(cfg.PollInterval)
	driver.SetDebounceWindow(cfg.DebounceWindow)

	httpSrv := httpapi.New(q, d, driver, params)
	httpSrv.AuthToken = cfg.HTTPAuthToken
	httpSrv.CORSOrigins = cfg.HTTPCORSOrigins

	electrumSrv := electrum.New(q, d, node)
	electrumSrv.AuthToken = cfg.ElectrumAuthToken

	return &App{
		Indexer:    ix,
		Dispatcher: d,
		Query:      q,
		Driver:     driver,
		HTTP:       httpSrv,
		Electrum:   electrumSrv,
	}, nil
}

// buildWallets expands cfg.Wallets into watcher wallets/standalone
// addresses, per §6: a descriptor or xpub entry becomes one or two
// gap-limited wallets, a bare address an unlimited standalone watch.
func buildWallets(w *walletwatcher.Watcher, cfg *config.Config, params *chaincfg.Params) er.R {
	for _, wc := range cfg.Wallets {
		rescan := walletwatcher.RescanNow()
		if wc.RescanSinceUnix != 0 {
			rescan = walletwatcher.RescanFrom(time.Unix(wc.RescanSinceUnix, 0))
		}
		switch {
		case wc.Descriptor != "":
			desc, err := descriptor.Parse(wc.Descriptor, params)
			if err != nil {
				return err
			}
			w.AddWallet(walletwatcher.NewWallet(desc, wc.GapLimit, nonzero(cfg.InitialImportSize), rescan, cfg.ForceRescan))
		case wc.Xpub != "":
			ext, in, err := descriptor.FromXpub(wc.Xpub, params)
			if err != nil {
				return err
			}
			w.AddWallet(walletwatcher.NewWallet(ext, wc.GapLimit, nonzero(cfg.InitialImportSize), rescan, cfg.ForceRescan))
			w.AddWallet(walletwatcher.NewWallet(in, wc.GapLimit, nonzero(cfg.InitialImportSize), rescan, cfg.ForceRescan))
		case wc.Address != "":
			addr, addrErr := btcutil.DecodeAddress(wc.Address, params)
			if addrErr != nil {
				return bwterr.ErrInvalidDescriptor.New("invalid address "+wc.Address, er.E(addrErr))
			}
			w.AddStandalone(addr, rescan)
		}
	}
	return nil
}

func nonzero(v uint32) uint32 {
	if v == 0 {
		return config.DefaultInitialImportSize
	}
	return v
}

// Run performs the initial sync and then blocks serving both frontends
// and the sync driver loop until ctx is canceled. progress, if non-nil,
// receives the initial sync's typed events (see internal/indexer.Progress).
func Run(ctx context.Context, cfg *config.Config, httpListen, electrumListen net.Listener, progress chan<- indexer.Progress) er.R {
	a, err := Build(cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx, httpListen, electrumListen, progress)
}

// Run drives an already-built App the same way the package-level Run does.
func (a *App) Run(ctx context.Context, httpListen, electrumListen net.Listener, progress chan<- indexer.Progress) er.R {
	log.Infof("app: running initial sync")
	if err := a.Indexer.InitialSync(ctx, progress); err != nil {
		return err
	}
	log.Infof("app: initial sync complete, starting frontends")

	errCh := make(chan error, 3)

	go a.Driver.Run(ctx)

	if httpListen != nil {
		httpSrv := &http.Server{Handler: a.HTTP}
		go func() {
			<-ctx.Done()
			httpSrv.Close()
		}()
		go func() {
			if e := httpSrv.Serve(httpListen); e != nil && e != http.ErrServerClosed {
				errCh <- e
			}
		}()
	}

	if electrumListen != nil {
		go func() {
			if e := a.Electrum.Serve(ctx, electrumListen); e != nil {
				select {
				case <-ctx.Done():
				default:
					errCh <- e
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case e := <-errCh:
		return er.E(e)
	}
}
