package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/fees"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

var blockCypherChainMap = map[string]string{
	"bitcoin-mainnet":  "btc/main",
	"bitcoin-testnet":  "btc/test3",
	"litecoin-mainnet": "ltc/main",
	"dogecoin-mainnet": "doge/main",
}

type blockCypherChainResponse struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

type blockCypherInput struct {
	Addresses   []string `json:"addresses"`
	OutputValue int64    `json:"output_value"`
}

type blockCypherOutput struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
}

type blockCypherTx struct {
	Hash          string              `json:"hash"`
	Received      time.Time           `json:"received"`
	BlockHash     string              `json:"block_hash"`
	BlockHeight   int64               `json:"block_height"`
	Confirmations int64               `json:"confirmations"`
	Fees          int64               `json:"fees"`
	Size          int64               `json:"size"`
	Hex           string              `json:"hex"`
	Inputs        []blockCypherInput  `json:"inputs"`
	Outputs       []blockCypherOutput `json:"outputs"`
}

type blockCypherAddrResponse struct {
	Txs     []blockCypherTx `json:"txs"`
	HasMore bool            `json:"hasMore"`
}

// BlockCypher serves Bitcoin (main and test3), Litecoin and Dogecoin from
// the BlockCypher REST API.
type BlockCypher struct {
	requester *httpx.Requester
	fees      fees.Provider
	token     string
	baseURL   string
}

// NewBlockCypher creates the adapter. gateSize is normally
// config.GateBlockCypher but can be overridden via BLOCKCYPHER_RATE_LIMIT.
func NewBlockCypher(session *httpx.Session, feeProvider fees.Provider, token string, gateSize int64) *BlockCypher {
	slog.Info("blockcypher provider created", "gate", gateSize, "hasToken", token != "")
	return &BlockCypher{
		requester: httpx.NewRequester("blockcypher", session, httpx.NewGate(gateSize), nil),
		fees:      feeProvider,
		token:     token,
		baseURL:   config.BlockCypherBaseURL,
	}
}

// NewBlockCypherWithURL points the adapter at a custom host (tests).
func NewBlockCypherWithURL(session *httpx.Session, feeProvider fees.Provider, token, baseURL string) *BlockCypher {
	b := NewBlockCypher(session, feeProvider, token, config.GateBlockCypher)
	b.baseURL = baseURL
	return b
}

func (b *BlockCypher) chainPath(chainID string) (string, error) {
	path, ok := blockCypherChainMap[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %s not served by BlockCypher", config.ErrUnsupportedChain, chainID)
	}
	return path, nil
}

// GetBlockchainData returns the tip from the chain root endpoint.
func (b *BlockCypher) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	chain, ok := registry.Lookup(chainID)
	if !ok {
		return model.Blockchain{}, fmt.Errorf("%w: %s", config.ErrUnsupportedChain, chainID)
	}
	path, err := b.chainPath(chainID)
	if err != nil {
		return model.Blockchain{}, err
	}

	var tip blockCypherChainResponse
	query := url.Values{"token": {b.token}}
	if err := b.requester.GetJSON(ctx, b.baseURL+"/"+path, query, &tip); err != nil {
		return model.Blockchain{}, fmt.Errorf("blockcypher tip for %s: %w", chainID, err)
	}

	estimates, err := b.fees.GetFees(ctx, chainID)
	if err != nil {
		return model.Blockchain{}, fmt.Errorf("blockcypher fees for %s: %w", chainID, err)
	}

	result := chain.Blockchain()
	result.FeeEstimates = estimates
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = tip.Height
	result.VerifiedHeight = tip.Height
	result.VerifiedBlockHash = tip.Hash
	return result, nil
}

// GetAddressTransactions fetches the full-transaction address endpoint.
// BlockCypher's cursor is the `before` height: iteration proceeds by
// lowering end_height while start_height stays fixed.
func (b *BlockCypher) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	path, err := b.chainPath(chainID)
	if err != nil {
		return page, err
	}

	query := url.Values{
		"token":      {b.token},
		"includeHex": {"true"},
		"limit":      {strconv.Itoa(config.BlockCypherPageLimit)},
		"before":     {strconv.FormatInt(endHeight, 10)},
		"after":      {strconv.FormatInt(startHeight, 10)},
	}
	var resp blockCypherAddrResponse
	endpoint := fmt.Sprintf("%s/%s/addrs/%s/full", b.baseURL, path, address)
	if err := b.requester.GetJSON(ctx, endpoint, query, &resp); err != nil {
		return page, fmt.Errorf("blockcypher history for %s: %w", address, err)
	}

	var lastBlockHeight int64
	page.Contents = make([]model.Transaction, 0, len(resp.Txs))
	for i, tx := range resp.Txs {
		inputs := make([]utxoSide, len(tx.Inputs))
		for j, in := range tx.Inputs {
			inputs[j] = utxoSide{address: firstAddress(in.Addresses), value: strconv.FormatInt(in.OutputValue, 10)}
		}
		outputs := make([]utxoSide, len(tx.Outputs))
		for j, out := range tx.Outputs {
			outputs[j] = utxoSide{address: firstAddress(out.Addresses), value: strconv.FormatInt(out.Value, 10)}
		}

		var raw []byte
		if tx.Hex != "" {
			if decoded, err := hex.DecodeString(tx.Hex); err == nil {
				raw = decoded
			}
		}

		page.Contents = append(page.Contents, model.Transaction{
			TransactionID: model.TransactionID(chainID, tx.Hash),
			Identifier:    tx.Hash,
			Hash:          tx.Hash,
			BlockchainID:  chainID,
			Timestamp:     model.Timestamp(tx.Received.UTC()),
			Embedded:      model.TransferList{Transfers: utxoTransfers(chainID, tx.Hash, inputs, outputs)},
			Fee:           model.NativeAmount(chainID, strconv.FormatInt(tx.Fees, 10)),
			Confirmations: clampNonNegative(tx.Confirmations),
			Size:          tx.Size,
			Index:         int64(i),
			BlockHash:     tx.BlockHash,
			BlockHeight:   tx.BlockHeight,
			Status:        model.StatusConfirmed,
			Meta:          map[string]string{},
			Raw:           raw,
		})
		lastBlockHeight = tx.BlockHeight
	}

	if resp.HasMore {
		// TODO: confirm BlockCypher never answers hasMore=true with an empty
		// page; the cursor below only advances through lastBlockHeight.
		page.HasMore = true
		start := startHeight
		page.NextStartHeight = &start
		end := lastBlockHeight
		page.NextEndHeight = &end
	}
	return page, nil
}
