package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

const (
	tezosChainID = "tezos-mainnet"
	mutezPerTez  = 1_000_000
)

type tezosHeadHeader struct {
	Level int64  `json:"level"`
	Hash  string `json:"hash"`
}

type tzstatsOp struct {
	Hash          string    `json:"hash"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Time          time.Time `json:"time"`
	Height        int64     `json:"height"`
	Block         string    `json:"block"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	Volume        float64   `json:"volume"` // tez
	Fee           float64   `json:"fee"`    // tez
	Burned        float64   `json:"burned"` // tez
	Confirmations int64     `json:"confirmations"`
	StorageSize   int64     `json:"storage_size"`
}

type tzstatsOpsResponse struct {
	Ops []tzstatsOp `json:"ops"`
}

// Tezos reads the chain tip from the Tezos RPC and address history from
// TzStats. TzStats reports one record per internal operation; records are
// grouped by hash into one canonical transaction each.
type Tezos struct {
	requester  *httpx.Requester
	rpcBaseURL string
	apiBaseURL string
}

// NewTezos creates the adapter on the shared session. Tezos traffic is low
// enough to leave ungated.
func NewTezos(session *httpx.Session) *Tezos {
	slog.Info("tezos provider created")
	return &Tezos{
		requester:  httpx.NewRequester("tezos", session, nil, nil),
		rpcBaseURL: config.TezosRPCBaseURL,
		apiBaseURL: config.TzStatsBaseURL,
	}
}

// NewTezosWithURLs points the adapter at custom hosts (tests).
func NewTezosWithURLs(session *httpx.Session, rpcBaseURL, apiBaseURL string) *Tezos {
	t := NewTezos(session)
	t.rpcBaseURL = rpcBaseURL
	t.apiBaseURL = apiBaseURL
	return t
}

func tezosFees() []model.FeeEstimate {
	return []model.FeeEstimate{{
		Fee:                     model.NativeAmount(tezosChainID, "1"),
		Tier:                    "1m",
		EstimatedConfirmationIn: 60000,
	}}
}

// GetBlockchainData reads the head block header from the RPC node.
func (t *Tezos) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	if chainID != tezosChainID {
		return model.Blockchain{}, fmt.Errorf("%w: %s not served by Tezos", config.ErrUnsupportedChain, chainID)
	}
	chain, _ := registry.Lookup(chainID)

	var head tezosHeadHeader
	if err := t.requester.GetJSON(ctx, t.rpcBaseURL+"/chains/main/blocks/head/header", nil, &head); err != nil {
		return model.Blockchain{}, fmt.Errorf("tezos head header: %w", err)
	}

	result := chain.Blockchain()
	result.FeeEstimates = tezosFees()
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = head.Level
	result.VerifiedHeight = head.Level
	result.VerifiedBlockHash = head.Hash
	return result, nil
}

// GetAddressTransactions lists account operations from TzStats and folds
// same-hash operation groups into single transactions.
func (t *Tezos) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	if chainID != tezosChainID {
		return page, fmt.Errorf("%w: %s not served by Tezos", config.ErrUnsupportedChain, chainID)
	}

	query := url.Values{
		"order": {"asc"},
		"limit": {strconv.Itoa(config.TzStatsPageLimit)},
		"types": {"transaction,delegation,reveal,bake,airdrop,"},
	}
	var resp tzstatsOpsResponse
	endpoint := fmt.Sprintf("%s/account/%s/op", t.apiBaseURL, address)
	if err := t.requester.GetJSON(ctx, endpoint, query, &resp); err != nil {
		return page, fmt.Errorf("tzstats ops for %s: %w", address, err)
	}

	groups := make(map[string][]tzstatsOp)
	var order []string
	for _, op := range resp.Ops {
		if _, seen := groups[op.Hash]; !seen {
			order = append(order, op.Hash)
		}
		groups[op.Hash] = append(groups[op.Hash], op)
	}

	page.Contents = make([]model.Transaction, 0, len(order))
	for i, hash := range order {
		page.Contents = append(page.Contents, tezosTransaction(chainID, hash, groups[hash], int64(i)))
	}
	return page, nil
}

func tezosTransaction(chainID, hash string, ops []tzstatsOp, idx int64) model.Transaction {
	first := ops[0]
	txID := model.TransactionID(chainID, hash)

	var feeTez, burnedTez float64
	for _, op := range ops {
		feeTez += op.Fee
		burnedTez += op.Burned
	}
	feeMutez := int64(math.Round(feeTez * mutezPerTez))
	fee := model.NativeAmount(chainID, strconv.FormatInt(feeMutez, 10))

	opMeta := func(op tzstatsOp) map[string]string {
		return map[string]string{
			"status": op.Status,
			"type":   strings.ToUpper(op.Type),
		}
	}

	counter := 0
	var transfers []model.Transfer
	add := func(from, to string, amount model.Amount, meta map[string]string) {
		transfers = append(transfers, model.Transfer{
			TransferID:    model.TransferID(chainID, hash, counter),
			BlockchainID:  chainID,
			FromAddress:   from,
			ToAddress:     to,
			Index:         counter,
			TransactionID: txID,
			Amount:        amount,
			Meta:          meta,
		})
		counter++
	}

	add(first.Sender, model.FeeAddress, fee, opMeta(first))

	if first.Type == "transaction" {
		volumeMutez := int64(math.Round(first.Volume * mutezPerTez))
		// A backtracked or failed operation still pays its fee, but moves
		// no value.
		if first.Status == "failed" || first.Status == "backtracked" {
			volumeMutez = 0
		}
		receiver := first.Receiver
		if receiver == "" {
			receiver = model.UnknownAddress
		}
		add(first.Sender, receiver, model.NativeAmount(chainID, strconv.FormatInt(volumeMutez, 10)), opMeta(first))
	}

	if burnedTez > 0 {
		burnedMutez := int64(math.Round(burnedTez * mutezPerTez))
		add(first.Sender, model.FeeAddress, model.NativeAmount(chainID, strconv.FormatInt(burnedMutez, 10)), opMeta(first))
	}

	status := model.StatusFailed
	if first.Status == "applied" {
		status = model.StatusConfirmed
	}

	return model.Transaction{
		TransactionID: txID,
		Identifier:    hash,
		Hash:          hash,
		BlockchainID:  chainID,
		Timestamp:     model.Timestamp(first.Time.UTC()),
		Embedded:      model.TransferList{Transfers: transfers},
		Fee:           fee,
		Confirmations: clampNonNegative(first.Confirmations),
		Size:          first.StorageSize,
		Index:         idx,
		BlockHash:     first.Block,
		BlockHeight:   first.Height,
		Status:        status,
		Meta:          map[string]string{},
	}
}
