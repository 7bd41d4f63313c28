// Package httpapi is the HTTP REST + Server-Sent-Events frontend (§6),
// built on github.com/go-chi/chi/v5 and github.com/go-chi/cors the way
// erigon wires a chi router with a CORS middleware in front of JSON
// handlers — the same two packages the teacher's go.mod already requires.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/query"
	"github.com/bwt-dev/bwt-sub000/internal/syncdriver"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// Server wires the query façade, dispatcher and sync driver poke channel
// into an http.Handler.
type Server struct {
	query      *query.Query
	dispatcher *dispatch.Dispatcher
	driver     *syncdriver.Driver
	params     *chaincfg.Params

	// AuthToken, if set, is compared against the password field of HTTP
	// Basic auth on every request; empty means auth is disabled.
	AuthToken string
	// CORSOrigins configures go-chi/cors' allowed origin list.
	CORSOrigins []string

	router chi.Router
}

func New(q *query.Query, dispatcher *dispatch.Dispatcher, driver *syncdriver.Driver, params *chaincfg.Params) *Server {
	s := &Server{query: q, dispatcher: dispatcher, driver: driver, params: params}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Use(s.basicAuth)

	r.Get("/block/tip", s.handleBlockTip)
	r.Get("/block/{hashOrHeight}", s.handleBlock)
	r.Get("/block/{hashOrHeight}/hex", s.handleBlock)

	r.Get("/tx/{txid}", s.handleTxDetail)
	r.Get("/tx/{txid}/hex", s.handleTxHex)
	r.Get("/tx/{txid}/verbose", s.handleTxDetail)
	r.Post("/tx", s.handleBroadcast)

	r.Get("/txo/{txid}/{vout}", s.handleTxo)

	r.Get("/scripthash/{sh}", s.handleScripthashHistory)
	r.Get("/scripthash/{sh}/utxos", s.handleScripthashUtxos)
	r.Get("/scripthash/{sh}/balance", s.handleScripthashBalance)

	r.Get("/address/{addr}", s.handleAddressHistory)
	r.Get("/address/{addr}/utxos", s.handleAddressUtxos)
	r.Get("/address/{addr}/balance", s.handleAddressBalance)

	r.Get("/utxos", s.handleUtxosQuery)
	r.Get("/txs/since/{height}", s.handleChangelogSince)

	r.Get("/mempool/histogram", s.handleFeeHistogram)
	r.Get("/fee-estimate/{target}", s.handleFeeEstimate)

	r.Get("/stream", s.handleStream)
	r.Post("/sync", s.handleSyncPoke)

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.CORSOrigins
}

// basicAuth enforces the single-token HTTP Basic scheme from §6 when
// AuthToken is set: any username is accepted, the password must match.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.AuthToken {
			w.Header().Set("WWW-Authenticate", `Basic realm="bwt"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("httpapi: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseScripthashParam(s string) (types.ScriptHash, bool) {
	return types.ScriptHashFromHex(s)
}

func unspentWire(u query.Unspent) map[string]interface{} {
	return map[string]interface{}{
		"txid":        u.Outpoint.Hash.String(),
		"vout":        u.Outpoint.Index,
		"amount_sats": u.AmountSats,
		"confirmed":   u.Status.IsConfirmed(),
	}
}

func historyWire(h types.HistoryEntry) map[string]interface{} {
	out := map[string]interface{}{"txid": h.Txid.String(), "confirmed": h.Status.IsConfirmed()}
	if h.Status.IsConfirmed() {
		out["height"] = h.Status.Height
	}
	return out
}

func (s *Server) handleBlockTip(w http.ResponseWriter, r *http.Request) {
	tip, ok := s.query.GetTip()
	if !ok {
		writeError(w, http.StatusNotFound, "no known tip yet")
		return
	}
	writeJSON(w, map[string]interface{}{"height": tip.Height, "hash": tip.Hash.String()})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "hashOrHeight")
	var header string
	var err error
	if hash, herr := chainhash.NewHashFromStr(param); herr == nil && len(param) == chainhash.MaxHashStringSize {
		header, err = s.query.GetHeaderByHash(r.Context(), *hash)
	} else if height, herr := strconv.ParseUint(param, 10, 32); herr == nil {
		header, err = s.query.GetHeaderByHeight(r.Context(), uint32(height))
	} else {
		writeError(w, http.StatusBadRequest, "invalid block hash or height")
		return
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]string{"header_hex": header})
}

func (s *Server) handleTxHex(w http.ResponseWriter, r *http.Request) {
	txid, errr := chainhash.NewHashFromStr(chi.URLParam(r, "txid"))
	if errr != nil {
		writeError(w, http.StatusBadRequest, "invalid txid")
		return
	}
	hexStr, err := s.query.GetTxRaw(r.Context(), *txid)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]string{"hex": hexStr})
}

func (s *Server) handleTxDetail(w http.ResponseWriter, r *http.Request) {
	txid, errr := chainhash.NewHashFromStr(chi.URLParam(r, "txid"))
	if errr != nil {
		writeError(w, http.StatusBadRequest, "invalid txid")
		return
	}
	raw, status, err := s.query.GetTxDetail(r.Context(), *txid)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := map[string]interface{}{"hex": raw.Hex}
	if status != nil {
		out["confirmed"] = status.IsConfirmed()
		if status.IsConfirmed() {
			out["height"] = status.Height
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, ioErr := ioutil.ReadAll(r.Body)
	if ioErr != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	var req struct {
		TxHex string `json:"tx_hex"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.TxHex == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body {\"tx_hex\": \"...\"}")
		return
	}
	txid, err := s.query.Broadcast(r.Context(), req.TxHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"txid": txid.String()})
}

func (s *Server) handleTxo(w http.ResponseWriter, r *http.Request) {
	txid, errr := chainhash.NewHashFromStr(chi.URLParam(r, "txid"))
	if errr != nil {
		writeError(w, http.StatusBadRequest, "invalid txid")
		return
	}
	vout, convErr := strconv.ParseUint(chi.URLParam(r, "vout"), 10, 32)
	if convErr != nil {
		writeError(w, http.StatusBadRequest, "invalid vout")
		return
	}
	txo, err := s.query.GetTxo(types.OutPoint{Hash: *txid, Index: uint32(vout)})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := map[string]interface{}{
		"scripthash":  txo.ScriptHash.String(),
		"amount_sats": txo.AmountSats,
	}
	if txo.SpentBy != nil {
		out["spent_by"] = txo.SpentBy.String()
	}
	writeJSON(w, out)
}

func minConfParam(r *http.Request) uint32 {
	v := r.URL.Query().Get("min_conf")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (s *Server) handleScripthashHistory(w http.ResponseWriter, r *http.Request) {
	sh, ok := parseScripthashParam(chi.URLParam(r, "sh"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scripthash")
		return
	}
	history, ok := s.query.GetHistory(sh)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scripthash")
		return
	}
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		out = append(out, historyWire(h))
	}
	writeJSON(w, out)
}

func (s *Server) handleScripthashUtxos(w http.ResponseWriter, r *http.Request) {
	sh, ok := parseScripthashParam(chi.URLParam(r, "sh"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scripthash")
		return
	}
	unspent, err := s.query.ListUnspent(sh, minConfParam(r), true)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, unspentWire(u))
	}
	writeJSON(w, out)
}

func (s *Server) handleScripthashBalance(w http.ResponseWriter, r *http.Request) {
	sh, ok := parseScripthashParam(chi.URLParam(r, "sh"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scripthash")
		return
	}
	bal, err := s.query.GetBalance(sh)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"confirmed_sats": bal.ConfirmedSats, "unconfirmed_sats": bal.UnconfirmedSats})
}

func (s *Server) addressToScripthash(addrStr string) (types.ScriptHash, er.R) {
	addr, err := btcutil.DecodeAddress(addrStr, s.params)
	if err != nil {
		return types.ScriptHash{}, er.E(err)
	}
	return query.ScriptHashForAddress(addr)
}

func (s *Server) handleAddressHistory(w http.ResponseWriter, r *http.Request) {
	sh, err := s.addressToScripthash(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, ok := s.query.GetHistory(sh)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown address")
		return
	}
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		out = append(out, historyWire(h))
	}
	writeJSON(w, out)
}

func (s *Server) handleAddressUtxos(w http.ResponseWriter, r *http.Request) {
	sh, err := s.addressToScripthash(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	unspent, qerr := s.query.ListUnspent(sh, minConfParam(r), true)
	if qerr != nil {
		writeError(w, http.StatusNotFound, qerr.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, unspentWire(u))
	}
	writeJSON(w, out)
}

func (s *Server) handleAddressBalance(w http.ResponseWriter, r *http.Request) {
	sh, err := s.addressToScripthash(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, qerr := s.query.GetBalance(sh)
	if qerr != nil {
		writeError(w, http.StatusNotFound, qerr.Error())
		return
	}
	writeJSON(w, map[string]int64{"confirmed_sats": bal.ConfirmedSats, "unconfirmed_sats": bal.UnconfirmedSats})
}

// handleUtxosQuery serves GET /utxos?min_conf=&include_unsafe= — without a
// scripthash filter this enumerates nothing on its own (the Store has no
// global output iterator by design, only per-scripthash); it exists so
// clients that already know a scripthash can pass it as a query param
// instead of a path segment.
func (s *Server) handleUtxosQuery(w http.ResponseWriter, r *http.Request) {
	shParam := r.URL.Query().Get("scripthash")
	if shParam == "" {
		writeError(w, http.StatusBadRequest, "scripthash query parameter required")
		return
	}
	sh, ok := parseScripthashParam(shParam)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scripthash")
		return
	}
	unspent, err := s.query.ListUnspent(sh, minConfParam(r), true)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, unspentWire(u))
	}
	writeJSON(w, out)
}

func (s *Server) handleChangelogSince(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid height")
		return
	}
	entries := s.query.GetChangelogSince(uint32(height))
	out := make([]map[string]interface{}, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyWire(h))
	}
	writeJSON(w, out)
}

func (s *Server) handleFeeHistogram(w http.ResponseWriter, r *http.Request) {
	bins, err := s.query.FeeHistogram(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	out := make([][2]float64, 0, len(bins))
	for _, b := range bins {
		out = append(out, [2]float64{b.RateSatPerVbyte, float64(b.VsizeBytes)})
	}
	writeJSON(w, out)
}

func (s *Server) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	target, err := strconv.ParseUint(chi.URLParam(r, "target"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target")
		return
	}
	rate, qerr := s.query.EstimateFee(r.Context(), uint32(target))
	if qerr != nil {
		writeError(w, http.StatusServiceUnavailable, qerr.Error())
		return
	}
	writeJSON(w, map[string]float64{"sat_per_vbyte": rate})
}

// handleStream serves SSE of ChangeLog-derived notifications (§4.8):
// subscribes to the Dispatcher for block-tip and every scripthash this
// connection asks about via ?scripthash=, replaying from Last-Event-Id if
// present before switching to live delivery.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	filter := dispatch.Filter{Blocks: true, Scripthashes: make(map[types.ScriptHash]struct{})}
	for _, shParam := range r.URL.Query()["scripthash"] {
		if sh, ok := parseScripthashParam(shParam); ok {
			filter.Scripthashes[sh] = struct{}{}
		}
	}

	if lastEventID := r.Header.Get("Last-Event-Id"); lastEventID != "" {
		var height uint32
		var hashStr string
		if _, scanErr := fmt.Sscanf(lastEventID, "%d:%s", &height, &hashStr); scanErr == nil {
			for _, h := range s.query.GetChangelogSince(height) {
				writeSSE(w, "history", historyWire(h))
			}
			flusher.Flush()
		}
	}

	id, ch := s.dispatcher.Subscribe(filter)
	defer s.dispatcher.Unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case notif, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, "notification", notificationWire(notif))
			flusher.Flush()
		}
	}
}

func notificationWire(n dispatch.Notification) map[string]interface{} {
	out := map[string]interface{}{}
	switch n.Kind {
	case dispatch.NotifyTip:
		out["kind"] = "tip"
		out["height"] = n.Tip.Height
		out["hash"] = n.Tip.Hash.String()
	case dispatch.NotifyScripthash:
		out["kind"] = "scripthash"
		out["scripthash"] = n.Scripthash.String()
		if n.StatusHash != nil {
			out["status_hash"] = hex.EncodeToString(n.StatusHash[:])
		}
	}
	return out
}

func writeSSE(w http.ResponseWriter, event string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}

// handleSyncPoke serves POST /sync: requests an out-of-band sync pass
// without waiting for the next poll tick.
func (s *Server) handleSyncPoke(w http.ResponseWriter, r *http.Request) {
	s.driver.Poke()
	w.WriteHeader(http.StatusAccepted)
}
