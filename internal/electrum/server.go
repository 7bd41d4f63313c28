package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/query"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// MaxLineBytes bounds a single request line, matching the buffered-reader
// discipline electrum/server.rs applies per connection to bound memory use
// from a misbehaving client.
const MaxLineBytes = 1 << 20

// Node is the subset of the node adapter the Electrum frontend needs
// beyond what internal/query already exposes: the block's ordered txid
// list, for building merkle proofs.
type Node interface {
	GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R)
	GetBlockTxids(ctx context.Context, hash chainhash.Hash) ([]string, er.R)
}

// Server accepts TCP connections and speaks line-delimited JSON-RPC 2.0 on
// each, per §6.
type Server struct {
	query      *query.Query
	dispatcher *dispatch.Dispatcher
	node       Node

	// AuthToken, when non-empty, gates every new connection behind the
	// SOCKS5-framed access-token handshake in auth.go before the JSON-RPC
	// loop starts.
	AuthToken string
	// Banner is returned by server.banner.
	Banner string
	// DonationAddress is returned by server.donation_address.
	DonationAddress string
}

func New(q *query.Query, dispatcher *dispatch.Dispatcher, node Node) *Server {
	return &Server{query: q, dispatcher: dispatcher, node: node}
}

// Serve accepts connections on ln until ctx is canceled or Serve returns an
// error from the listener itself.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	var reader io.Reader = nc
	if s.AuthToken != "" {
		ok, leftover, err := authenticate(nc, s.AuthToken)
		if err != nil || !ok {
			log.Warnf("electrum: connection %s failed access-token auth", nc.RemoteAddr())
			return
		}
		reader = leftover
	}

	c := &conn{
		nc:         nc,
		reader:     reader,
		w:          bufio.NewWriter(nc),
		server:     s,
		scripthash: make(map[types.ScriptHash]struct{}),
	}
	c.serve(ctx)
}

// conn is one client's session state: its accumulated scripthash
// subscriptions (Electrum subscribes one scripthash at a time, unlike the
// HTTP SSE frontend's single ?scripthash= query list) and whether it asked
// for header notifications. Both rebuild and reinstall the dispatcher
// filter on every change via pushFilter.
type conn struct {
	nc     net.Conn
	reader io.Reader
	w      *bufio.Writer
	wmu    sync.Mutex
	server *Server

	subID      uint64
	headers    bool
	scripthash map[types.ScriptHash]struct{}
}

func (c *conn) pushFilter() {
	filter := dispatch.Filter{Blocks: c.headers, Scripthashes: make(map[types.ScriptHash]struct{}, len(c.scripthash))}
	for sh := range c.scripthash {
		filter.Scripthashes[sh] = struct{}{}
	}
	c.server.dispatcher.UpdateFilter(c.subID, filter)
}

func (c *conn) serve(ctx context.Context) {
	var notifCh <-chan dispatch.Notification
	c.subID, notifCh = c.server.dispatcher.Subscribe(dispatch.Filter{})
	defer c.server.dispatcher.Unsubscribe(c.subID)

	lines := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.reader)
		scanner.Buffer(make([]byte, 4096), MaxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErrs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrs:
			if err != nil {
				log.Warnf("electrum: connection %s read error: %v", c.nc.RemoteAddr(), err)
			}
			return
		case line := <-lines:
			c.handleLine(ctx, line)
		case notif, open := <-notifCh:
			if !open {
				return
			}
			c.deliverNotification(notif)
		}
	}
}

func (c *conn) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		c.writeResponse(response{Error: errParse(err.Error())})
		return
	}
	handler, ok := methodTable[req.Method]
	if !ok {
		c.writeResponse(response{ID: req.ID, Error: errMethodNotFound(req.Method)})
		return
	}
	result, rpcErr := handler(ctx, c, req.Params)
	if rpcErr != nil {
		c.writeResponse(response{ID: req.ID, Error: rpcErr})
		return
	}
	c.writeResponse(response{ID: req.ID, Result: result})
}

func (c *conn) writeResponse(resp response) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("electrum: marshaling response: %v", err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.w.Write(body)
	c.w.WriteByte('\n')
	c.w.Flush()
}

func (c *conn) writeNotification(method string, params interface{}) {
	c.writeResponse(response{Method: method, Params: params})
}

func (c *conn) deliverNotification(n dispatch.Notification) {
	switch n.Kind {
	case dispatch.NotifyTip:
		header, err := c.server.query.GetHeaderByHeight(context.Background(), n.Tip.Height)
		if err != nil {
			return
		}
		c.writeNotification("blockchain.headers.subscribe", []interface{}{
			map[string]interface{}{"height": n.Tip.Height, "hex": header},
		})
	case dispatch.NotifyScripthash:
		c.writeNotification("blockchain.scripthash.subscribe", []interface{}{n.Scripthash.String(), statusHashHex(n.StatusHash)})
	}
}
