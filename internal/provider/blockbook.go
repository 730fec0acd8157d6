package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/fees"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

var blockbookHosts = map[string]string{
	"bitcoin-mainnet":     "https://btc1.trezor.io",
	"bitcoincash-mainnet": "https://bch1.trezor.io",
	"litecoin-mainnet":    "https://ltc1.trezor.io",
	"dogecoin-mainnet":    "https://doge1.trezor.io",
}

type blockbookStatusResponse struct {
	Blockbook struct {
		BestHeight int64 `json:"bestHeight"`
	} `json:"blockbook"`
	Backend struct {
		BestBlockHash string `json:"bestBlockHash"`
	} `json:"backend"`
}

type blockbookVin struct {
	Addresses []string `json:"addresses"`
	Value     string   `json:"value"`
}

type blockbookVout struct {
	Addresses []string `json:"addresses"`
	Value     string   `json:"value"`
}

type blockbookTx struct {
	TxID          string         `json:"txid"`
	BlockHash     string         `json:"blockHash"`
	BlockHeight   int64          `json:"blockHeight"`
	BlockTime     int64          `json:"blockTime"`
	Confirmations int64          `json:"confirmations"`
	Fees          string         `json:"fees"`
	Hex           string         `json:"hex"`
	Vin           []blockbookVin `json:"vin"`
	// TODO: verify against the live v2 schema that this field really is
	// named outputs; other Blockbook clients read vout.
	Outputs []blockbookVout `json:"outputs"`
}

type blockbookAddrResponse struct {
	Transactions []blockbookTx `json:"transactions"`
	Txs          int64         `json:"txs"`
	ItemsOnPage  int64         `json:"itemsOnPage"`
}

// Blockbook serves UTXO chains from the public Trezor Blockbook hosts.
// Those hosts reject burst traffic, so the whole provider shares one permit
// and a 1 rps limiter.
type Blockbook struct {
	requester *httpx.Requester
	fees      fees.Provider
	hosts     map[string]string
}

// NewBlockbook creates the adapter on the shared session.
func NewBlockbook(session *httpx.Session, feeProvider fees.Provider) *Blockbook {
	slog.Info("blockbook provider created", "gate", config.GateBlockbook)
	return &Blockbook{
		requester: httpx.NewRequester("blockbook", session,
			httpx.NewGate(config.GateBlockbook),
			rate.NewLimiter(rate.Limit(config.RateLimitBlockbook), 1)),
		fees:  feeProvider,
		hosts: blockbookHosts,
	}
}

// NewBlockbookWithHosts overrides the host map (tests).
func NewBlockbookWithHosts(session *httpx.Session, feeProvider fees.Provider, hosts map[string]string) *Blockbook {
	b := NewBlockbook(session, feeProvider)
	b.hosts = hosts
	return b
}

func (b *Blockbook) host(chainID string) (string, error) {
	h, ok := b.hosts[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %s not served by Blockbook", config.ErrUnsupportedChain, chainID)
	}
	return h, nil
}

// GetBlockchainData reads the tip from /api/v2.
func (b *Blockbook) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	chain, ok := registry.Lookup(chainID)
	if !ok {
		return model.Blockchain{}, fmt.Errorf("%w: %s", config.ErrUnsupportedChain, chainID)
	}
	host, err := b.host(chainID)
	if err != nil {
		return model.Blockchain{}, err
	}

	var status blockbookStatusResponse
	if err := b.requester.GetJSON(ctx, host+"/api/v2", nil, &status); err != nil {
		return model.Blockchain{}, fmt.Errorf("blockbook tip for %s: %w", chainID, err)
	}

	estimates, err := b.fees.GetFees(ctx, chainID)
	if err != nil {
		return model.Blockchain{}, fmt.Errorf("blockbook fees for %s: %w", chainID, err)
	}

	result := chain.Blockchain()
	result.FeeEstimates = estimates
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = status.Blockbook.BestHeight
	result.VerifiedHeight = status.Blockbook.BestHeight
	result.VerifiedBlockHash = status.Backend.BestBlockHash
	return result, nil
}

// GetAddressTransactions reads one page of address history.
func (b *Blockbook) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	host, err := b.host(chainID)
	if err != nil {
		return page, err
	}

	query := url.Values{
		"details":  {"txs"},
		"pageSize": {strconv.Itoa(config.BlockbookPageSize)},
		"from":     {strconv.FormatInt(startHeight, 10)},
		"to":       {strconv.FormatInt(endHeight, 10)},
	}
	var resp blockbookAddrResponse
	endpoint := fmt.Sprintf("%s/api/v2/address/%s", host, address)
	if err := b.requester.GetJSON(ctx, endpoint, query, &resp); err != nil {
		return page, fmt.Errorf("blockbook history for %s: %w", address, err)
	}

	var lastBlockHeight int64
	page.Contents = make([]model.Transaction, 0, len(resp.Transactions))
	for i, tx := range resp.Transactions {
		inputs := make([]utxoSide, len(tx.Vin))
		for j, in := range tx.Vin {
			inputs[j] = utxoSide{address: firstAddress(in.Addresses), value: orZero(in.Value)}
		}
		outputs := make([]utxoSide, len(tx.Outputs))
		for j, out := range tx.Outputs {
			outputs[j] = utxoSide{address: firstAddress(out.Addresses), value: orZero(out.Value)}
		}

		var raw []byte
		if decoded, err := hex.DecodeString(tx.Hex); err == nil {
			raw = decoded
		}

		page.Contents = append(page.Contents, model.Transaction{
			TransactionID: model.TransactionID(chainID, tx.TxID),
			Identifier:    tx.TxID,
			Hash:          tx.TxID,
			BlockchainID:  chainID,
			Timestamp:     model.Timestamp(time.Unix(tx.BlockTime, 0).UTC()),
			Embedded:      model.TransferList{Transfers: utxoTransfers(chainID, tx.TxID, inputs, outputs)},
			Fee:           model.NativeAmount(chainID, orZero(tx.Fees)),
			Confirmations: clampNonNegative(tx.Confirmations),
			Size:          int64(len(tx.Hex) / 2),
			Index:         int64(i),
			BlockHash:     tx.BlockHash,
			BlockHeight:   tx.BlockHeight,
			Status:        model.StatusConfirmed,
			Meta:          map[string]string{},
			Raw:           raw,
		})
		lastBlockHeight = tx.BlockHeight
	}

	if resp.Txs > resp.ItemsOnPage {
		page.HasMore = true
		start := startHeight
		page.NextStartHeight = &start
		end := lastBlockHeight
		page.NextEndHeight = &end
	}
	return page, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
