package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/chaingate/internal/cache"
	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

const etherscanChainID = "ethereum-mainnet"

// etherscanEnvelope wraps every module=account and module=gastracker
// response. Result stays raw because its shape depends on the action.
type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// etherscanProxyEnvelope wraps module=proxy (JSON-RPC passthrough) calls.
type etherscanProxyEnvelope struct {
	Result json.RawMessage `json:"result"`
}

// etherscanTxRecord covers the overlapping fields of the txlist, tokentx
// and txlistinternal feeds; absent fields decode to "".
type etherscanTxRecord struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	Nonce           string `json:"nonce"`
	BlockHash       string `json:"blockHash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Confirmations   string `json:"confirmations"`
	ContractAddress string `json:"contractAddress"`
}

type etherscanGasOracle struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// Etherscan serves Ethereum mainnet. It also implements fees.Provider:
// estimates come from the gas oracle, with confirmation durations resolved
// through the gasestimate endpoint.
type Etherscan struct {
	requester *httpx.Requester
	token     string
	baseURL   string
	feeMemo   *cache.Memo[[]model.FeeEstimate]
}

// NewEtherscan creates the adapter. gateSize is normally
// config.GateEtherscan but can be overridden via ETHERSCAN_RATE_LIMIT.
func NewEtherscan(session *httpx.Session, token string, gateSize int64) *Etherscan {
	slog.Info("etherscan provider created", "gate", gateSize, "hasToken", token != "")
	return &Etherscan{
		requester: httpx.NewRequester("etherscan", session, httpx.NewGate(gateSize), nil),
		token:     token,
		baseURL:   config.EtherscanBaseURL,
		feeMemo:   cache.NewMemo[[]model.FeeEstimate](config.FeeMemoCapacity, config.FeeMemoTTL),
	}
}

// NewEtherscanWithURL points the adapter at a custom host (tests).
func NewEtherscanWithURL(session *httpx.Session, token, baseURL string) *Etherscan {
	e := NewEtherscan(session, token, config.GateEtherscan)
	e.baseURL = baseURL
	return e
}

func (e *Etherscan) get(ctx context.Context, query url.Values, out any) error {
	query.Set("apikey", e.token)
	return e.requester.GetJSON(ctx, e.baseURL, query, out)
}

// GetBlockchainData resolves the latest block number, then fetches that
// block for its hash.
func (e *Etherscan) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	if chainID != etherscanChainID {
		return model.Blockchain{}, fmt.Errorf("%w: %s not served by Etherscan", config.ErrUnsupportedChain, chainID)
	}
	chain, _ := registry.Lookup(chainID)

	var numResp etherscanProxyEnvelope
	if err := e.get(ctx, url.Values{"module": {"proxy"}, "action": {"eth_blockNumber"}}, &numResp); err != nil {
		return model.Blockchain{}, fmt.Errorf("etherscan block number: %w", err)
	}
	var blockNumHex string
	if err := json.Unmarshal(numResp.Result, &blockNumHex); err != nil {
		return model.Blockchain{}, fmt.Errorf("%w: eth_blockNumber result: %v", config.ErrUpstreamDecode, err)
	}
	height, err := hexutil.DecodeUint64(blockNumHex)
	if err != nil {
		return model.Blockchain{}, fmt.Errorf("%w: block number %q: %v", config.ErrUpstreamDecode, blockNumHex, err)
	}

	var blockResp etherscanProxyEnvelope
	query := url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getBlockByNumber"},
		"tag":     {blockNumHex},
		"boolean": {"true"},
	}
	if err := e.get(ctx, query, &blockResp); err != nil {
		return model.Blockchain{}, fmt.Errorf("etherscan block fetch: %w", err)
	}
	var block struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(blockResp.Result, &block); err != nil {
		return model.Blockchain{}, fmt.Errorf("%w: eth_getBlockByNumber result: %v", config.ErrUpstreamDecode, err)
	}

	estimates, err := e.GetFees(ctx, chainID)
	if err != nil {
		return model.Blockchain{}, fmt.Errorf("etherscan fees: %w", err)
	}

	result := chain.Blockchain()
	result.FeeEstimates = estimates
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = int64(height)
	result.VerifiedHeight = int64(height)
	result.VerifiedBlockHash = block.Hash
	return result, nil
}

// GetFees implements fees.Provider from the gas oracle: one estimate per
// oracle tier, gwei converted to wei, confirmation durations fetched
// concurrently from the gasestimate endpoint.
func (e *Etherscan) GetFees(ctx context.Context, chainID string) ([]model.FeeEstimate, error) {
	if chainID != etherscanChainID {
		return nil, fmt.Errorf("%w: %s has no Etherscan fee source", config.ErrUnsupportedChain, chainID)
	}

	return e.feeMemo.Do(ctx, chainID, func(fctx context.Context) ([]model.FeeEstimate, error) {
		var envelope etherscanEnvelope
		if err := e.get(fctx, url.Values{"module": {"gastracker"}, "action": {"gasoracle"}}, &envelope); err != nil {
			return nil, fmt.Errorf("etherscan gas oracle: %w", err)
		}
		var oracle etherscanGasOracle
		if err := json.Unmarshal(envelope.Result, &oracle); err != nil {
			return nil, fmt.Errorf("%w: gas oracle result: %v", config.ErrUpstreamDecode, err)
		}

		prices := []string{oracle.SafeGasPrice, oracle.ProposeGasPrice, oracle.FastGasPrice}
		estimates := make([]model.FeeEstimate, len(prices))

		g, gctx := errgroup.WithContext(fctx)
		for i, gwei := range prices {
			g.Go(func() error {
				gweiInt, err := strconv.ParseInt(gwei, 10, 64)
				if err != nil {
					return fmt.Errorf("%w: gas price %q: %v", config.ErrUpstreamDecode, gwei, err)
				}
				wei := new(big.Int).Mul(big.NewInt(gweiInt), big.NewInt(params.GWei))

				durationMs, err := e.confirmationDuration(gctx, wei)
				if err != nil {
					return err
				}
				estimates[i] = model.FeeEstimate{
					Fee:                     model.NativeAmount(chainID, wei.String()),
					Tier:                    fmt.Sprintf("%dm", durationMs/1000/60),
					EstimatedConfirmationIn: durationMs,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return estimates, nil
	})
}

func (e *Etherscan) confirmationDuration(ctx context.Context, wei *big.Int) (int64, error) {
	var envelope etherscanEnvelope
	query := url.Values{
		"module":   {"gastracker"},
		"action":   {"gasestimate"},
		"gasprice": {wei.String()},
	}
	if err := e.get(ctx, query, &envelope); err != nil {
		return 0, fmt.Errorf("etherscan gas estimate: %w", err)
	}
	var secondsStr string
	if err := json.Unmarshal(envelope.Result, &secondsStr); err != nil {
		return 0, fmt.Errorf("%w: gas estimate result: %v", config.ErrUpstreamDecode, err)
	}
	seconds, err := strconv.ParseInt(secondsStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: gas estimate %q: %v", config.ErrUpstreamDecode, secondsStr, err)
	}
	return seconds * 1000, nil
}

// GetAddressTransactions collapses the txlist, tokentx and txlistinternal
// feeds into one canonical transaction per hash.
func (e *Etherscan) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	if chainID != etherscanChainID {
		return page, fmt.Errorf("%w: %s not served by Etherscan", config.ErrUnsupportedChain, chainID)
	}

	var normal, tokens, internals []etherscanTxRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		normal, err = e.accountList(gctx, "txlist", address, startHeight, endHeight)
		return
	})
	g.Go(func() (err error) {
		tokens, err = e.accountList(gctx, "tokentx", address, startHeight, endHeight)
		return
	})
	g.Go(func() (err error) {
		internals, err = e.accountList(gctx, "txlistinternal", address, startHeight, endHeight)
		return
	})
	if err := g.Wait(); err != nil {
		return page, err
	}

	normalByHash := make(map[string]etherscanTxRecord, len(normal))
	tokensByHash := make(map[string][]etherscanTxRecord)
	internalsByHash := make(map[string][]etherscanTxRecord)
	var order []string
	seen := make(map[string]bool)
	observe := func(h string) {
		if !seen[h] {
			seen[h] = true
			order = append(order, h)
		}
	}
	for _, rec := range normal {
		if _, dup := normalByHash[rec.Hash]; !dup {
			normalByHash[rec.Hash] = rec
		}
		observe(rec.Hash)
	}
	for _, rec := range tokens {
		tokensByHash[rec.Hash] = append(tokensByHash[rec.Hash], rec)
		observe(rec.Hash)
	}
	for _, rec := range internals {
		internalsByHash[rec.Hash] = append(internalsByHash[rec.Hash], rec)
		observe(rec.Hash)
	}

	// Within one block, successive transactions take indices 1, 2, 3...
	// in materialization order.
	blockCounter := make(map[string]int64)

	page.Contents = make([]model.Transaction, 0, len(order))
	for _, hash := range order {
		tx, err := e.assemble(chainID, hash, normalByHash, tokensByHash, internalsByHash, blockCounter)
		if err != nil {
			return page, err
		}
		page.Contents = append(page.Contents, tx)
	}
	return page, nil
}

func (e *Etherscan) assemble(chainID, hash string, normalByHash map[string]etherscanTxRecord, tokensByHash, internalsByHash map[string][]etherscanTxRecord, blockCounter map[string]int64) (model.Transaction, error) {
	txID := model.TransactionID(chainID, hash)
	normal, hasNormal := normalByHash[hash]
	tokens := tokensByHash[hash]
	internals := internalsByHash[hash]

	// The record that carries the transaction's block metadata.
	base := normal
	if !hasNormal {
		if len(tokens) > 0 {
			base = tokens[0]
		} else {
			base = internals[0]
		}
	}

	var transfers []model.Transfer
	counter := 0
	add := func(from, to string, amount model.Amount) {
		transfers = append(transfers, model.Transfer{
			TransferID:    model.TransferID(chainID, hash, counter),
			BlockchainID:  chainID,
			FromAddress:   from,
			ToAddress:     to,
			Index:         counter,
			TransactionID: txID,
			Amount:        amount,
			Meta:          map[string]string{},
		})
		counter++
	}

	feeAmount := "0"
	feeEmitted := false
	if hasNormal {
		feeAmount = mulDecimal(normal.GasUsed, normal.GasPrice)
		add(normal.From, model.FeeAddress, model.NativeAmount(chainID, feeAmount))
		feeEmitted = true
		if normal.Value != "" && normal.Value != "0" {
			add(normal.From, normal.To, model.NativeAmount(chainID, normal.Value))
		}
	}
	for _, tok := range tokens {
		if !feeEmitted {
			feeAmount = mulDecimal(tok.GasUsed, tok.GasPrice)
			add(tok.From, model.FeeAddress, model.NativeAmount(chainID, feeAmount))
			feeEmitted = true
		}
		add(tok.From, tok.To, model.Amount{
			Amount:     tok.Value,
			CurrencyID: chainID + ":" + tok.ContractAddress,
		})
	}
	for _, in := range internals {
		add(in.From, in.To, model.NativeAmount(chainID, orZero(in.Value)))
	}

	status := model.StatusConfirmed
	if hasNormal && normal.IsError == "1" {
		status = model.StatusFailed
	}

	unix, err := strconv.ParseInt(base.TimeStamp, 10, 64)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: timestamp %q for %s: %v", config.ErrUpstreamDecode, base.TimeStamp, hash, err)
	}
	blockHeight, _ := strconv.ParseInt(base.BlockNumber, 10, 64)
	confirmations, _ := strconv.ParseInt(base.Confirmations, 10, 64)
	gasUsed, _ := strconv.ParseInt(base.GasUsed, 10, 64)

	blockCounter[base.BlockHash]++

	return model.Transaction{
		TransactionID: txID,
		Identifier:    hash,
		Hash:          hash,
		BlockchainID:  chainID,
		Timestamp:     model.Timestamp(time.Unix(unix, 0).UTC()),
		Embedded:      model.TransferList{Transfers: transfers},
		Fee:           model.NativeAmount(chainID, feeAmount),
		Confirmations: clampNonNegative(confirmations),
		Size:          gasUsed,
		Index:         blockCounter[base.BlockHash],
		BlockHash:     base.BlockHash,
		BlockHeight:   blockHeight,
		Status:        status,
		Meta: map[string]string{
			"gasLimit": hexQuantity(base.Gas),
			"gasUsed":  hexQuantity(base.GasUsed),
			"gasPrice": hexQuantity(base.GasPrice),
			"nonce":    hexQuantity(base.Nonce),
			"input":    "0x",
		},
	}, nil
}

// accountList fetches one module=account feed. Etherscan signals an empty
// feed with status "0" and "No transactions found", which is not an error.
func (e *Etherscan) accountList(ctx context.Context, action, address string, startHeight, endHeight int64) ([]etherscanTxRecord, error) {
	query := url.Values{
		"module":     {"account"},
		"action":     {action},
		"address":    {address},
		"startblock": {strconv.FormatInt(startHeight, 10)},
		"endblock":   {strconv.FormatInt(endHeight, 10)},
		"sort":       {"asc"},
	}
	var envelope etherscanEnvelope
	if err := e.get(ctx, query, &envelope); err != nil {
		return nil, fmt.Errorf("etherscan %s for %s: %w", action, address, err)
	}

	if envelope.Status != "1" {
		if strings.Contains(envelope.Message, "No transactions found") {
			return nil, nil
		}
		if strings.Contains(strings.ToLower(envelope.Message), "rate limit") {
			return nil, fmt.Errorf("%w: etherscan %s", config.ErrRateLimited, envelope.Message)
		}
		return nil, fmt.Errorf("%w: etherscan %s: %s", config.ErrUpstreamDecode, action, envelope.Message)
	}

	var records []etherscanTxRecord
	if err := json.Unmarshal(envelope.Result, &records); err != nil {
		return nil, fmt.Errorf("%w: etherscan %s result: %v", config.ErrUpstreamDecode, action, err)
	}
	return records, nil
}

// mulDecimal multiplies two decimal integer strings, returning "0" when
// either side is missing.
func mulDecimal(a, b string) string {
	ai, aok := new(big.Int).SetString(orZero(a), 10)
	bi, bok := new(big.Int).SetString(orZero(b), 10)
	if !aok || !bok {
		return "0"
	}
	return new(big.Int).Mul(ai, bi).String()
}

// hexQuantity re-encodes a decimal integer string as a 0x-prefixed hex
// quantity for transaction meta.
func hexQuantity(dec string) string {
	v, ok := new(big.Int).SetString(orZero(dec), 10)
	if !ok {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}
