package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
)

func tezosForTest(t *testing.T, handler http.Handler) *Tezos {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewTezosWithURLs(httpx.NewSessionWithClient(ts.Client()), ts.URL, ts.URL)
}

func TestTezosGetBlockchainData(t *testing.T) {
	tz := tezosForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chains/main/blocks/head/header" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"level": 1900000, "hash": "BLrJPH"}`))
	}))

	bc, err := tz.GetBlockchainData(context.Background(), "tezos-mainnet")
	if err != nil {
		t.Fatalf("GetBlockchainData: %v", err)
	}
	if bc.BlockHeight != 1900000 || bc.VerifiedBlockHash != "BLrJPH" {
		t.Errorf("tip: %d %s", bc.BlockHeight, bc.VerifiedBlockHash)
	}
	if bc.ConfirmationsUntilFinal != 30 {
		t.Errorf("confirmations until final = %d", bc.ConfirmationsUntilFinal)
	}
	if len(bc.FeeEstimates) != 1 || bc.FeeEstimates[0].Fee.Amount != "1" {
		t.Errorf("fee estimates: %+v", bc.FeeEstimates)
	}
}

func TestTezosGetAddressTransactions(t *testing.T) {
	const addr = "tz1gjaF81ZRRvdzjobyfVNsAeSC6PScjfQwN"

	tz := tezosForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account/"+addr+"/op" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("order") != "asc" {
			t.Errorf("order = %q", q.Get("order"))
		}
		w.Write([]byte(`{"ops": [
			{
				"hash": "opAAAA",
				"type": "reveal",
				"status": "applied",
				"time": "2021-04-01T12:00:00Z",
				"height": 1899000,
				"block": "BKaaa",
				"sender": "` + addr + `",
				"fee": 0.000358,
				"burned": 0,
				"confirmations": 1000,
				"storage_size": 0
			},
			{
				"hash": "opBBBB",
				"type": "transaction",
				"status": "applied",
				"time": "2021-04-01T12:30:00Z",
				"height": 1899500,
				"block": "BKbbb",
				"sender": "` + addr + `",
				"receiver": "tz1XdRrrqrMfsFKA8iuw53xHzug9ipr6MuHq",
				"volume": 2.5,
				"fee": 0.00142,
				"burned": 0.06425,
				"confirmations": 500,
				"storage_size": 232
			}
		]}`))
	}))

	page, err := tz.GetAddressTransactions(context.Background(), "tezos-mainnet", addr, 0, 1900000)
	if err != nil {
		t.Fatalf("GetAddressTransactions: %v", err)
	}
	if len(page.Contents) != 2 {
		t.Fatalf("got %d transactions, want 2", len(page.Contents))
	}

	// Reveal: a fee transfer only.
	reveal := page.Contents[0]
	if reveal.Fee.Amount != "358" {
		t.Errorf("reveal fee = %s, want 358 mutez", reveal.Fee.Amount)
	}
	if len(reveal.Embedded.Transfers) != 1 {
		t.Fatalf("reveal transfers: %+v", reveal.Embedded.Transfers)
	}
	if reveal.Embedded.Transfers[0].Meta["type"] != "REVEAL" {
		t.Errorf("meta = %v", reveal.Embedded.Transfers[0].Meta)
	}

	// Transaction: fee, value, burn.
	tx := page.Contents[1]
	if tx.Fee.Amount != "1420" {
		t.Errorf("fee = %s, want 1420 mutez", tx.Fee.Amount)
	}
	transfers := tx.Embedded.Transfers
	if len(transfers) != 3 {
		t.Fatalf("got %d transfers, want fee + value + burn", len(transfers))
	}
	if transfers[0].ToAddress != model.FeeAddress || transfers[0].Amount.Amount != "1420" {
		t.Errorf("fee transfer: %+v", transfers[0])
	}
	if transfers[1].ToAddress != "tz1XdRrrqrMfsFKA8iuw53xHzug9ipr6MuHq" || transfers[1].Amount.Amount != "2500000" {
		t.Errorf("value transfer: %+v", transfers[1])
	}
	if transfers[2].ToAddress != model.FeeAddress || transfers[2].Amount.Amount != "64250" {
		t.Errorf("burn transfer: %+v", transfers[2])
	}
	if tx.Status != model.StatusConfirmed || tx.Confirmations != 500 {
		t.Errorf("status %s confirmations %d", tx.Status, tx.Confirmations)
	}
}

func TestTezosBacktrackedOperation(t *testing.T) {
	const addr = "tz1gjaF81ZRRvdzjobyfVNsAeSC6PScjfQwN"

	tz := tezosForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ops": [{
			"hash": "opCCCC",
			"type": "transaction",
			"status": "backtracked",
			"time": "2021-04-01T13:00:00Z",
			"height": 1899600,
			"block": "BKccc",
			"sender": "` + addr + `",
			"receiver": "tz1XdRrrqrMfsFKA8iuw53xHzug9ipr6MuHq",
			"volume": 9.5,
			"fee": 0.0012,
			"burned": 0,
			"confirmations": 400
		}]}`))
	}))

	page, err := tz.GetAddressTransactions(context.Background(), "tezos-mainnet", addr, 0, 1900000)
	if err != nil {
		t.Fatalf("GetAddressTransactions: %v", err)
	}

	tx := page.Contents[0]
	// The fee is still paid, but no value moves.
	if tx.Fee.Amount != "1200" {
		t.Errorf("fee = %s, want 1200 mutez", tx.Fee.Amount)
	}
	transfers := tx.Embedded.Transfers
	if len(transfers) != 2 {
		t.Fatalf("got %d transfers", len(transfers))
	}
	if transfers[1].Amount.Amount != "0" {
		t.Errorf("value transfer amount = %s, want 0", transfers[1].Amount.Amount)
	}
	if tx.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", tx.Status)
	}
}

func TestTezosGroupsOperationsByHash(t *testing.T) {
	const addr = "tz1gjaF81ZRRvdzjobyfVNsAeSC6PScjfQwN"

	tz := tezosForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ops": [
			{"hash": "opDDDD", "type": "reveal", "status": "applied", "time": "2021-04-01T12:00:00Z",
			 "height": 10, "block": "BKd", "sender": "` + addr + `", "fee": 0.0003, "confirmations": 5},
			{"hash": "opDDDD", "type": "transaction", "status": "applied", "time": "2021-04-01T12:00:00Z",
			 "height": 10, "block": "BKd", "sender": "` + addr + `", "receiver": "tz1XdRrrqrMfsFKA8iuw53xHzug9ipr6MuHq",
			 "volume": 1, "fee": 0.0007, "confirmations": 5}
		]}`))
	}))

	page, err := tz.GetAddressTransactions(context.Background(), "tezos-mainnet", addr, 0, 100)
	if err != nil {
		t.Fatalf("GetAddressTransactions: %v", err)
	}
	if len(page.Contents) != 1 {
		t.Fatalf("same-hash operations must fold into one transaction, got %d", len(page.Contents))
	}
	// Fees accumulate over the group: 300 + 700 mutez.
	if page.Contents[0].Fee.Amount != "1000" {
		t.Errorf("fee = %s, want 1000", page.Contents[0].Fee.Amount)
	}
}

func TestTezosUnsupportedChain(t *testing.T) {
	tz := NewTezos(httpx.NewSession())
	if _, err := tz.GetBlockchainData(context.Background(), "ripple-mainnet"); !errors.Is(err, config.ErrUnsupportedChain) {
		t.Errorf("error %v should wrap ErrUnsupportedChain", err)
	}
}
