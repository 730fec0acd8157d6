package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

// stubProvider answers from canned pages, with optional per-address errors.
type stubProvider struct {
	height    int64
	pages     map[string]model.HeightPaginatedResponse[model.Transaction]
	addrErrs  map[string]error
	tipCalls  atomic.Int32
	histCalls atomic.Int32
}

func (s *stubProvider) GetBlockchainData(_ context.Context, chainID string) (model.Blockchain, error) {
	s.tipCalls.Add(1)
	chain, ok := registry.Lookup(chainID)
	if !ok {
		return model.Blockchain{}, config.ErrUnsupportedChain
	}
	bc := chain.Blockchain()
	bc.BlockHeight = s.height
	bc.VerifiedHeight = s.height
	return bc, nil
}

func (s *stubProvider) GetAddressTransactions(_ context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	s.histCalls.Add(1)
	if err := s.addrErrs[address]; err != nil {
		return model.HeightPaginatedResponse[model.Transaction]{}, err
	}
	return s.pages[address], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                 8080,
		BlockCypherToken:     "tkn",
		BlockCypherRateLimit: 5,
		EtherscanRateLimit:   3,
	}
}

// stubbedClient replaces every routed chain with the same stub.
func stubbedClient(stub *stubProvider) *Client {
	opts := make([]Option, 0, len(registry.All()))
	for _, chain := range registry.All() {
		opts = append(opts, WithProvider(chain.ID, stub))
	}
	return New(testConfig(), httpx.NewSession(), opts...)
}

func tx(chainID, hash string) model.Transaction {
	return model.Transaction{
		TransactionID: model.TransactionID(chainID, hash),
		Hash:          hash,
		BlockchainID:  chainID,
	}
}

func int64p(v int64) *int64 { return &v }

func TestGetBlockchainMemoizes(t *testing.T) {
	stub := &stubProvider{height: 100}
	c := stubbedClient(stub)

	for i := 0; i < 3; i++ {
		bc, err := c.GetBlockchain(context.Background(), "bitcoin-mainnet")
		if err != nil {
			t.Fatal(err)
		}
		if bc.BlockHeight != 100 {
			t.Errorf("height = %d", bc.BlockHeight)
		}
	}
	if n := stub.tipCalls.Load(); n != 1 {
		t.Errorf("provider saw %d tip calls, want 1", n)
	}
}

func TestGetBlockchainUnsupported(t *testing.T) {
	c := stubbedClient(&stubProvider{})
	_, err := c.GetBlockchain(context.Background(), "solana-mainnet")
	if !errors.Is(err, config.ErrUnsupportedChain) {
		t.Errorf("error %v should wrap ErrUnsupportedChain", err)
	}
}

func TestGetBlockchainsFiltersTestnets(t *testing.T) {
	stub := &stubProvider{height: 5}
	c := stubbedClient(stub)

	mainnets, err := c.GetBlockchains(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(mainnets) != 7 {
		t.Errorf("got %d mainnet chains, want 7", len(mainnets))
	}
	for _, bc := range mainnets {
		if !bc.IsMainnet {
			t.Errorf("testnet chain %s in mainnet listing", bc.ID)
		}
	}

	testnets, err := c.GetBlockchains(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(testnets) != 1 || testnets[0].ID != "bitcoin-testnet" {
		t.Errorf("testnet listing: %+v", testnets)
	}
}

func TestGetTransactionsMergesAddresses(t *testing.T) {
	const chainID = "bitcoin-mainnet"
	stub := &stubProvider{
		pages: map[string]model.HeightPaginatedResponse[model.Transaction]{
			"addrA": {
				Contents:        []model.Transaction{tx(chainID, "a1"), tx(chainID, "a2")},
				HasMore:         true,
				NextStartHeight: int64p(5),
				NextEndHeight:   int64p(90),
			},
			"addrB": {
				Contents: []model.Transaction{tx(chainID, "b1")},
			},
			"addrC": {
				Contents:        []model.Transaction{tx(chainID, "c1")},
				HasMore:         true,
				NextStartHeight: int64p(10),
				NextEndHeight:   int64p(95),
			},
		},
	}
	c := stubbedClient(stub)

	resp, err := c.GetTransactions(context.Background(), []string{"addrA", "addrB", "addrC"}, chainID, 0, 100, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	// Pages concatenate in address order.
	if len(resp.Contents) != 4 {
		t.Fatalf("got %d transactions, want 4", len(resp.Contents))
	}
	wantOrder := []string{"a1", "a2", "b1", "c1"}
	for i, want := range wantOrder {
		if resp.Contents[i].Hash != want {
			t.Errorf("contents[%d] = %s, want %s", i, resp.Contents[i].Hash, want)
		}
	}

	// The resume window must cover every unfinished address.
	if !resp.HasMore {
		t.Fatal("expected has_more")
	}
	if resp.NextStartHeight == nil || *resp.NextStartHeight != 5 {
		t.Errorf("next start = %v, want 5", resp.NextStartHeight)
	}
	if resp.NextEndHeight == nil || *resp.NextEndHeight != 95 {
		t.Errorf("next end = %v, want 95", resp.NextEndHeight)
	}
}

func TestGetTransactionsFailsWhenAnyAddressFails(t *testing.T) {
	const chainID = "bitcoin-mainnet"
	upstreamErr := &config.UpstreamHTTPError{Status: 503, URL: "https://api.blockcypher.com/v1"}
	stub := &stubProvider{
		pages: map[string]model.HeightPaginatedResponse[model.Transaction]{
			"addrA": {Contents: []model.Transaction{tx(chainID, "a1")}},
			"addrC": {Contents: []model.Transaction{tx(chainID, "c1")}},
		},
		addrErrs: map[string]error{"addrB": upstreamErr},
	}
	c := stubbedClient(stub)

	_, err := c.GetTransactions(context.Background(), []string{"addrA", "addrB", "addrC"}, chainID, 0, 100, 0, false)
	if err == nil {
		t.Fatal("expected the whole call to fail")
	}
	var httpErr *config.UpstreamHTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetTransactionsUnsupportedChain(t *testing.T) {
	c := stubbedClient(&stubProvider{})
	_, err := c.GetTransactions(context.Background(), []string{"x"}, "solana-mainnet", 0, 100, 0, false)
	if !errors.Is(err, config.ErrUnsupportedChain) {
		t.Errorf("error %v should wrap ErrUnsupportedChain", err)
	}
}

// pagedProvider simulates an upstream with a two-item page cap over a fixed
// descending history, issuing resume windows the way the UTXO adapters do.
type pagedProvider struct {
	heights []int64 // newest first
}

func (p *pagedProvider) GetBlockchainData(_ context.Context, chainID string) (model.Blockchain, error) {
	chain, _ := registry.Lookup(chainID)
	bc := chain.Blockchain()
	bc.BlockHeight = 100
	bc.VerifiedHeight = 100
	return bc, nil
}

func (p *pagedProvider) GetAddressTransactions(_ context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	var window []int64
	for _, h := range p.heights {
		if h >= startHeight && h <= endHeight {
			window = append(window, h)
		}
	}

	served := window
	if len(served) > 2 {
		served = window[:2]
	}
	for _, h := range served {
		item := tx(chainID, fmt.Sprintf("h%d", h))
		item.BlockHeight = h
		page.Contents = append(page.Contents, item)
	}

	if len(window) > len(served) {
		page.HasMore = true
		start := startHeight
		page.NextStartHeight = &start
		end := served[len(served)-1] - 1
		page.NextEndHeight = &end
	}
	return page, nil
}

func TestGetTransactionsPaginationCoversFullHistory(t *testing.T) {
	const chainID = "bitcoin-mainnet"
	paged := &pagedProvider{heights: []int64{90, 80, 70, 60, 50}}
	c := New(testConfig(), httpx.NewSession(), WithProvider(chainID, paged))

	seen := make(map[string]int)
	start, end := int64(0), int64(100)
	for i := 0; ; i++ {
		if i > 10 {
			t.Fatal("pagination did not terminate")
		}
		resp, err := c.GetTransactions(context.Background(), []string{"addrA"}, chainID, start, end, 0, false)
		if err != nil {
			t.Fatal(err)
		}
		for _, item := range resp.Contents {
			seen[item.Hash]++
		}
		if !resp.HasMore {
			break
		}
		if resp.NextStartHeight == nil || resp.NextEndHeight == nil {
			t.Fatalf("has_more page without resume bounds: %+v", resp)
		}
		start, end = *resp.NextStartHeight, *resp.NextEndHeight
	}

	// Concatenating the pages equals one-shot retrieval of the window as a
	// multiset of transaction ids.
	for _, h := range paged.heights {
		hash := fmt.Sprintf("h%d", h)
		if seen[hash] != 1 {
			t.Errorf("transaction %s seen %d times, want exactly once", hash, seen[hash])
		}
	}
	if len(seen) != len(paged.heights) {
		t.Errorf("got %d distinct transactions, want %d", len(seen), len(paged.heights))
	}
}

func transfer(chainID, hash string, idx int, from, to string, amount model.Amount) model.Transfer {
	return model.Transfer{
		TransferID:    model.TransferID(chainID, hash, idx),
		BlockchainID:  chainID,
		FromAddress:   from,
		ToAddress:     to,
		Index:         idx,
		TransactionID: model.TransactionID(chainID, hash),
		Amount:        amount,
		Meta:          map[string]string{},
	}
}

func TestBalanceLawAcrossTransferKinds(t *testing.T) {
	owned := map[string]bool{
		"addr1": true,
		"addr2": true,
		"0xaaa": true,
		"0xbbb": true,
	}

	utxoTx := tx("bitcoin-mainnet", "u1")
	utxoTx.Embedded.Transfers = []model.Transfer{
		transfer("bitcoin-mainnet", "u1", 0, "addr1", model.UnknownAddress, model.NativeAmount("bitcoin-mainnet", "1000")),
		transfer("bitcoin-mainnet", "u1", 1, model.UnknownAddress, "addr2", model.NativeAmount("bitcoin-mainnet", "600")),
		transfer("bitcoin-mainnet", "u1", 2, model.UnknownAddress, "outsider", model.NativeAmount("bitcoin-mainnet", "390")),
	}

	accountTx := tx("ethereum-mainnet", "e1")
	accountTx.Embedded.Transfers = []model.Transfer{
		transfer("ethereum-mainnet", "e1", 0, "0xaaa", model.FeeAddress, model.NativeAmount("ethereum-mainnet", "10")),
		transfer("ethereum-mainnet", "e1", 1, "outsider", "0xaaa", model.NativeAmount("ethereum-mainnet", "500")),
		transfer("ethereum-mainnet", "e1", 2, "0xaaa", "0xbbb", model.NativeAmount("ethereum-mainnet", "100")),
		transfer("ethereum-mainnet", "e1", 3, "outsider", "0xbbb", model.Amount{Amount: "25", CurrencyID: "ethereum-mainnet:0xccc"}),
	}

	btcStub := &stubProvider{pages: map[string]model.HeightPaginatedResponse[model.Transaction]{
		"addr1": {Contents: []model.Transaction{utxoTx}},
	}}
	ethStub := &stubProvider{pages: map[string]model.HeightPaginatedResponse[model.Transaction]{
		"0xaaa": {Contents: []model.Transaction{accountTx}},
	}}
	c := New(testConfig(), httpx.NewSession(),
		WithProvider("bitcoin-mainnet", btcStub),
		WithProvider("ethereum-mainnet", ethStub),
	)

	btcResp, err := c.GetTransactions(context.Background(), []string{"addr1"}, "bitcoin-mainnet", 0, 100, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	ethResp, err := c.GetTransactions(context.Background(), []string{"0xaaa"}, "ethereum-mainnet", 0, 100, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	// Fold transfers into per-currency balances: inbound from outside adds,
	// outbound to outside subtracts, moves within the owned set cancel.
	balances := make(map[string]*big.Int)
	for _, item := range append(btcResp.Contents, ethResp.Contents...) {
		for _, tr := range item.Embedded.Transfers {
			v, ok := new(big.Int).SetString(tr.Amount.Amount, 10)
			if !ok || v.Sign() < 0 {
				t.Fatalf("amount %q is not a non-negative decimal integer", tr.Amount.Amount)
			}
			switch {
			case owned[tr.ToAddress] && !owned[tr.FromAddress]:
			case owned[tr.FromAddress] && !owned[tr.ToAddress]:
				v.Neg(v)
			default:
				continue
			}
			if balances[tr.Amount.CurrencyID] == nil {
				balances[tr.Amount.CurrencyID] = new(big.Int)
			}
			balances[tr.Amount.CurrencyID].Add(balances[tr.Amount.CurrencyID], v)
		}
	}

	want := map[string]string{
		"bitcoin-mainnet:__native__":  "-400",
		"ethereum-mainnet:__native__": "490",
		"ethereum-mainnet:0xccc":      "25",
	}
	if len(balances) != len(want) {
		t.Errorf("got %d currencies, want %d: %v", len(balances), len(want), balances)
	}
	for currency, amount := range want {
		got, ok := balances[currency]
		if !ok {
			t.Errorf("missing balance for %s", currency)
			continue
		}
		if got.String() != amount {
			t.Errorf("balance[%s] = %s, want %s", currency, got, amount)
		}
	}
}

func TestGetTransactionsManyAddresses(t *testing.T) {
	const chainID = "ripple-mainnet"
	pages := make(map[string]model.HeightPaginatedResponse[model.Transaction])
	addresses := make([]string, 40)
	for i := range addresses {
		addr := "r" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		addresses[i] = addr
		pages[addr] = model.HeightPaginatedResponse[model.Transaction]{
			Contents: []model.Transaction{tx(chainID, addr)},
		}
	}
	stub := &stubProvider{pages: pages}
	c := stubbedClient(stub)

	resp, err := c.GetTransactions(context.Background(), addresses, chainID, 0, 100, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Contents) != 40 {
		t.Errorf("got %d transactions, want 40", len(resp.Contents))
	}
	if n := stub.histCalls.Load(); n != 40 {
		t.Errorf("provider saw %d history calls, want 40", n)
	}
}
