// Package notify implements the optional webhook and file notification
// sinks the Sync Driver hands every ChangeLog to (§4.6); the webhook HTTP
// client body itself is out of scope per §1, so WebhookSink only owns the
// request plumbing (URL, JSON body, timeout, best-effort delivery) and not
// payload shaping beyond serializing the ChangeLog.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// DefaultWebhookTimeout bounds how long a single webhook POST may block
// the driver goroutine's notification step.
const DefaultWebhookTimeout = 10 * time.Second

// changeWire is the JSON shape posted to webhook subscribers and appended
// to the notification file; field names mirror the ChangeLog accessors a
// consumer would otherwise need the Go types for.
type changeWire struct {
	Kind string `json:"kind"`

	Tip *blockIdWire `json:"tip,omitempty"`

	ReorgHeight *uint32 `json:"reorg_height,omitempty"`
	OldHash     string  `json:"old_hash,omitempty"`
	NewHash     string  `json:"new_hash,omitempty"`

	Txid   string `json:"txid,omitempty"`
	Status string `json:"status,omitempty"`

	FundedOutpoint string `json:"funded_outpoint,omitempty"`
	FundedScript   string `json:"funded_scripthash,omitempty"`
	FundedAmount   *int64 `json:"funded_amount_sats,omitempty"`

	SpentInpoint string `json:"spent_inpoint,omitempty"`
	SpentScript  string `json:"spent_scripthash,omitempty"`
	SpentPrevout string `json:"spent_prevout,omitempty"`
	SpentAmount  *int64 `json:"spent_amount_sats,omitempty"`
}

type blockIdWire struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
}

func toWire(c types.Change) changeWire {
	w := changeWire{}
	switch c.Kind {
	case types.ChangeChainTip:
		w.Kind = "chain_tip"
		w.Tip = &blockIdWire{Height: c.Tip.Height, Hash: c.Tip.Hash.String()}
	case types.ChangeReorg:
		w.Kind = "reorg"
		h := c.ReorgHeight
		w.ReorgHeight = &h
		w.OldHash = c.OldHash.String()
		w.NewHash = c.NewHash.String()
	case types.ChangeTransaction:
		w.Kind = "transaction"
		w.Txid = c.Txid.String()
		w.Status = statusString(c.Status)
	case types.ChangeTransactionReplaced:
		w.Kind = "transaction_replaced"
		w.Txid = c.Txid.String()
	case types.ChangeTxoFunded:
		w.Kind = "txo_funded"
		w.FundedOutpoint = c.FundedOutpoint.String()
		w.FundedScript = c.FundedScript.String()
		amt := c.FundedAmount
		w.FundedAmount = &amt
		w.Status = statusString(c.Status)
	case types.ChangeTxoSpent:
		w.Kind = "txo_spent"
		w.SpentInpoint = c.SpentInpoint.String()
		w.SpentScript = c.SpentScript.String()
		w.SpentPrevout = c.SpentPrevout.String()
		amt := c.SpentAmount
		w.SpentAmount = &amt
		w.Status = statusString(c.Status)
	}
	return w
}

func statusString(s types.TxStatus) string {
	switch {
	case s.IsConfirmed():
		return "confirmed"
	case s.IsUnconfirmed():
		return "unconfirmed"
	default:
		return "conflicted"
	}
}

// WebhookSink posts each ChangeLog as a JSON array to a configured URL,
// best-effort: delivery failures are logged and otherwise swallowed. The
// driver calls Notify on its own goroutine, so one POST can hold the next
// sync pass back for up to DefaultWebhookTimeout.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: DefaultWebhookTimeout}}
}

func (w *WebhookSink) Notify(changes types.ChangeLog) {
	wire := make([]changeWire, 0, len(changes))
	for _, c := range changes {
		wire = append(wire, toWire(c))
	}
	body, err := json.Marshal(wire)
	if err != nil {
		log.Errorf("notify: marshaling changelog for webhook: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultWebhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		log.Errorf("notify: building webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		log.Warnf("notify: webhook delivery to %s failed: %v", w.URL, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warnf("notify: webhook %s returned status %d", w.URL, resp.StatusCode)
	}
}

// FileSink appends each Change as one JSON line to a file, for consumers
// that tail it (e.g. a local script reacting to deposits).
type FileSink struct {
	Path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (f *FileSink) Notify(changes types.ChangeLog) {
	file, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Errorf("notify: opening notification file %s: %v", f.Path, err)
		return
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, c := range changes {
		if err := enc.Encode(toWire(c)); err != nil {
			log.Errorf("notify: writing to %s: %v", f.Path, err)
			return
		}
	}
}
