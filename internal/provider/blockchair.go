package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Fantasim/chaingate/internal/cache"
	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/fees"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

var blockChairChainMap = map[string]string{
	"bitcoin-mainnet":     "bitcoin",
	"bitcoin-testnet":     "bitcoin/testnet",
	"bitcoincash-mainnet": "bitcoin-cash",
	"litecoin-mainnet":    "litecoin",
	"dogecoin-mainnet":    "dogecoin",
}

type blockChairStats struct {
	BestBlockHeight int64  `json:"best_block_height"`
	BestBlockHash   string `json:"best_block_hash"`
}

type blockChairTxSummary struct {
	BlockID int64  `json:"block_id"`
	Hash    string `json:"hash"`
	Time    string `json:"time"`
	Fee     int64  `json:"fee"` // sats, present with transaction_details=true
}

type blockChairDashboardEntry struct {
	Transactions []blockChairTxSummary `json:"transactions"`
}

type blockChairDecodedVin struct {
	TxID string `json:"txid"`
	Vout int64  `json:"vout"`
}

type blockChairDecodedVout struct {
	Value        float64 `json:"value"` // whole coins
	ScriptPubKey struct {
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

type blockChairDecodedTx struct {
	TxID string                  `json:"txid"`
	Hash string                  `json:"hash"`
	Size int64                   `json:"size"`
	Vin  []blockChairDecodedVin  `json:"vin"`
	Vout []blockChairDecodedVout `json:"vout"`
}

type blockChairRawEntry struct {
	RawTransaction string              `json:"raw_transaction"`
	Decoded        blockChairDecodedTx `json:"decoded_raw_transaction"`
}

// blockChairTx is the memoized, immutable part of a confirmed transaction:
// confirmations and list position are recomputed per call.
type blockChairTx struct {
	TxID    string
	Hash    string
	Size    int64
	Raw     []byte
	Inputs  []utxoSide
	Outputs []utxoSide
}

// BlockChair is an alternate UTXO backend. Address history is two-phase:
// the address dashboard lists transaction summaries, then each transaction
// is fetched individually for its decoded form and raw bytes. Confirmed
// transactions are immutable, so the per-transaction fetch is memoized for
// a year.
type BlockChair struct {
	requester       *httpx.Requester
	fees            fees.Provider
	token           string
	baseURL         string
	lastBlockHeight atomic.Int64
	txMemo          *cache.Memo[blockChairTx]
}

// NewBlockChair creates the adapter on the shared session.
func NewBlockChair(session *httpx.Session, feeProvider fees.Provider, token string) *BlockChair {
	slog.Info("blockchair provider created", "gate", config.GateBlockChair, "hasToken", token != "")
	return &BlockChair{
		requester: httpx.NewRequester("blockchair", session,
			httpx.NewGate(config.GateBlockChair),
			rate.NewLimiter(rate.Limit(config.RateLimitBlockChair), 1)),
		fees:    feeProvider,
		token:   token,
		baseURL: config.BlockChairBaseURL,
		txMemo:  cache.NewMemo[blockChairTx](config.TransactionMemoCap, config.TransactionMemoTTL),
	}
}

// NewBlockChairWithURL points the adapter at a custom host (tests).
func NewBlockChairWithURL(session *httpx.Session, feeProvider fees.Provider, token, baseURL string) *BlockChair {
	b := NewBlockChair(session, feeProvider, token)
	b.baseURL = baseURL
	return b
}

func (b *BlockChair) chainPath(chainID string) (string, error) {
	path, ok := blockChairChainMap[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %s not served by BlockChair", config.ErrUnsupportedChain, chainID)
	}
	return path, nil
}

func (b *BlockChair) get(ctx context.Context, chainID, endpoint string, query url.Values, out any) error {
	path, err := b.chainPath(chainID)
	if err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	if b.token != "" {
		query.Set("key", b.token)
	}
	return b.requester.GetJSON(ctx, fmt.Sprintf("%s/%s/%s", b.baseURL, path, endpoint), query, out)
}

// GetBlockchainData reads the chain stats endpoint, also refreshing the
// tip height used for confirmation counting.
func (b *BlockChair) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	chain, ok := registry.Lookup(chainID)
	if !ok {
		return model.Blockchain{}, fmt.Errorf("%w: %s", config.ErrUnsupportedChain, chainID)
	}

	var resp struct {
		Data blockChairStats `json:"data"`
	}
	if err := b.get(ctx, chainID, "stats", nil, &resp); err != nil {
		return model.Blockchain{}, fmt.Errorf("blockchair stats for %s: %w", chainID, err)
	}
	b.lastBlockHeight.Store(resp.Data.BestBlockHeight)

	estimates, err := b.fees.GetFees(ctx, chainID)
	if err != nil {
		return model.Blockchain{}, fmt.Errorf("blockchair fees for %s: %w", chainID, err)
	}

	result := chain.Blockchain()
	result.FeeEstimates = estimates
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = resp.Data.BestBlockHeight
	result.VerifiedHeight = resp.Data.BestBlockHeight
	result.VerifiedBlockHash = resp.Data.BestBlockHash
	return result, nil
}

// GetAddressTransactions lists the address dashboard, then resolves every
// transaction concurrently through the memoized raw fetch.
func (b *BlockChair) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	query := url.Values{
		"limit":               {strconv.Itoa(config.BlockChairPageLimit)},
		"transaction_details": {"true"},
	}
	var resp struct {
		Data map[string]blockChairDashboardEntry `json:"data"`
	}
	if err := b.get(ctx, chainID, "dashboards/address/"+address, query, &resp); err != nil {
		return page, fmt.Errorf("blockchair dashboard for %s: %w", address, err)
	}

	summaries := resp.Data[address].Transactions
	txs := make([]model.Transaction, len(summaries))

	g, gctx := errgroup.WithContext(ctx)
	for i, summary := range summaries {
		g.Go(func() error {
			tx, err := b.transaction(gctx, chainID, summary, int64(i))
			if err != nil {
				return err
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return page, err
	}

	page.Contents = txs
	return page, nil
}

func (b *BlockChair) transaction(ctx context.Context, chainID string, summary blockChairTxSummary, idx int64) (model.Transaction, error) {
	raw, err := b.txMemo.Do(ctx, chainID+":"+summary.Hash, func(fctx context.Context) (blockChairTx, error) {
		return b.fetchRaw(fctx, chainID, summary.Hash)
	})
	if err != nil {
		return model.Transaction{}, err
	}

	ts, err := time.Parse("2006-01-02 15:04:05", summary.Time)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: bad dashboard time %q: %v", config.ErrUpstreamDecode, summary.Time, err)
	}

	return model.Transaction{
		TransactionID: model.TransactionID(chainID, raw.TxID),
		Identifier:    raw.TxID,
		Hash:          raw.Hash,
		BlockchainID:  chainID,
		Timestamp:     model.Timestamp(ts.UTC()),
		Embedded:      model.TransferList{Transfers: utxoTransfers(chainID, raw.TxID, raw.Inputs, raw.Outputs)},
		Fee:           model.NativeAmount(chainID, strconv.FormatInt(summary.Fee, 10)),
		Confirmations: clampNonNegative(b.lastBlockHeight.Load() - summary.BlockID),
		Size:          raw.Size,
		Index:         idx,
		BlockHash:     "",
		BlockHeight:   summary.BlockID,
		Status:        model.StatusConfirmed,
		Meta:          map[string]string{},
		Raw:           raw.Raw,
	}, nil
}

func (b *BlockChair) fetchRaw(ctx context.Context, chainID, hash string) (blockChairTx, error) {
	var resp struct {
		Data map[string]blockChairRawEntry `json:"data"`
	}
	if err := b.get(ctx, chainID, "raw/transaction/"+hash, nil, &resp); err != nil {
		return blockChairTx{}, fmt.Errorf("blockchair raw tx %s: %w", hash, err)
	}
	entry, ok := resp.Data[hash]
	if !ok {
		return blockChairTx{}, fmt.Errorf("%w: transaction %s missing from raw response", config.ErrUpstreamDecode, hash)
	}
	decoded := entry.Decoded

	// The raw feed carries no input addresses or values; both sides of an
	// input stay unattributed.
	inputs := make([]utxoSide, len(decoded.Vin))
	for i := range decoded.Vin {
		inputs[i] = utxoSide{address: "", value: "0"}
	}
	outputs := make([]utxoSide, len(decoded.Vout))
	for i, out := range decoded.Vout {
		sats := int64(math.Round(out.Value * 1e8))
		outputs[i] = utxoSide{address: firstAddress(out.ScriptPubKey.Addresses), value: strconv.FormatInt(sats, 10)}
	}

	var rawBytes []byte
	if decodedBytes, err := hex.DecodeString(entry.RawTransaction); err == nil {
		rawBytes = decodedBytes
	}

	return blockChairTx{
		TxID:    decoded.TxID,
		Hash:    decoded.Hash,
		Size:    decoded.Size,
		Raw:     rawBytes,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}
