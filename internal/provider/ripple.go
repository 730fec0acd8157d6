package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/registry"
)

const rippleChainID = "ripple-mainnet"

type rippleLedgerResponse struct {
	Ledger struct {
		LedgerIndex int64  `json:"ledger_index"`
		LedgerHash  string `json:"ledger_hash"`
	} `json:"ledger"`
}

type ripplePayment struct {
	Account        string          `json:"Account"`
	Destination    string          `json:"Destination"`
	Fee            string          `json:"Fee"`
	Amount         json.RawMessage `json:"Amount"`
	DestinationTag int64           `json:"DestinationTag"`
}

type rippleTx struct {
	Hash        string        `json:"hash"`
	Date        time.Time     `json:"date"`
	LedgerIndex int64         `json:"ledger_index"`
	Tx          ripplePayment `json:"tx"`
}

type rippleTxResponse struct {
	Transactions []rippleTx `json:"transactions"`
}

// Ripple serves XRP Ledger mainnet from the Ripple Data API. Fees are a
// network parameter (10 drops), not tiered.
type Ripple struct {
	requester *httpx.Requester
	baseURL   string

	// Highest ledger index observed on a successful tip fetch, used only
	// to derive confirmation counts for history queries.
	lastLedgerIndex atomic.Int64
}

// NewRipple creates the adapter on the shared session.
func NewRipple(session *httpx.Session) *Ripple {
	slog.Info("ripple provider created", "gate", config.GateRipple)
	return &Ripple{
		requester: httpx.NewRequester("ripple", session, httpx.NewGate(config.GateRipple), nil),
		baseURL:   config.RippleBaseURL,
	}
}

// NewRippleWithURL points the adapter at a custom host (tests).
func NewRippleWithURL(session *httpx.Session, baseURL string) *Ripple {
	r := NewRipple(session)
	r.baseURL = baseURL
	return r
}

func rippleFees() []model.FeeEstimate {
	return []model.FeeEstimate{{
		Fee:                     model.NativeAmount(rippleChainID, "10"),
		Tier:                    "0m",
		EstimatedConfirmationIn: 4000,
	}}
}

// GetBlockchainData reads the latest validated ledger.
func (r *Ripple) GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error) {
	if chainID != rippleChainID {
		return model.Blockchain{}, fmt.Errorf("%w: %s not served by Ripple Data", config.ErrUnsupportedChain, chainID)
	}
	chain, _ := registry.Lookup(chainID)

	var resp rippleLedgerResponse
	if err := r.requester.GetJSON(ctx, r.baseURL+"/ledgers", nil, &resp); err != nil {
		return model.Blockchain{}, fmt.Errorf("ripple ledger: %w", err)
	}
	r.lastLedgerIndex.Store(resp.Ledger.LedgerIndex)

	result := chain.Blockchain()
	result.FeeEstimates = rippleFees()
	result.FeeEstimatesTimestamp = model.Timestamp(time.Now().UTC())
	result.BlockHeight = resp.Ledger.LedgerIndex
	result.VerifiedHeight = resp.Ledger.LedgerIndex
	result.VerifiedBlockHash = resp.Ledger.LedgerHash
	return result, nil
}

// GetAddressTransactions lists Payment transactions for the account. Each
// payment yields exactly two transfers: the fee sink, then the value.
func (r *Ripple) GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error) {
	var page model.HeightPaginatedResponse[model.Transaction]

	if chainID != rippleChainID {
		return page, fmt.Errorf("%w: %s not served by Ripple Data", config.ErrUnsupportedChain, chainID)
	}

	query := url.Values{
		"type":       {"Payment"},
		"descending": {"false"},
		"limit":      {strconv.Itoa(config.RipplePageLimit)},
	}
	var resp rippleTxResponse
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions", r.baseURL, address)
	if err := r.requester.GetJSON(ctx, endpoint, query, &resp); err != nil {
		return page, fmt.Errorf("ripple history for %s: %w", address, err)
	}

	lastLedger := r.lastLedgerIndex.Load()
	page.Contents = make([]model.Transaction, 0, len(resp.Transactions))
	for i, tx := range resp.Transactions {
		txID := model.TransactionID(chainID, tx.Hash)
		fee := model.NativeAmount(chainID, orZero(tx.Tx.Fee))

		transfers := []model.Transfer{
			{
				TransferID:    model.TransferID(chainID, tx.Hash, 0),
				BlockchainID:  chainID,
				FromAddress:   tx.Tx.Account,
				ToAddress:     model.FeeAddress,
				Index:         0,
				TransactionID: txID,
				Amount:        fee,
				Meta:          map[string]string{},
			},
			{
				TransferID:    model.TransferID(chainID, tx.Hash, 1),
				BlockchainID:  chainID,
				FromAddress:   tx.Tx.Account,
				ToAddress:     tx.Tx.Destination,
				Index:         1,
				TransactionID: txID,
				Amount:        model.NativeAmount(chainID, rippleDrops(tx.Tx.Amount)),
				Meta:          map[string]string{},
			},
		}

		page.Contents = append(page.Contents, model.Transaction{
			TransactionID: txID,
			Identifier:    tx.Hash,
			Hash:          tx.Hash,
			BlockchainID:  chainID,
			Timestamp:     model.Timestamp(tx.Date.UTC()),
			Embedded:      model.TransferList{Transfers: transfers},
			Fee:           fee,
			Confirmations: clampNonNegative(lastLedger - tx.LedgerIndex),
			Size:          1,
			Index:         int64(i),
			BlockHash:     "",
			BlockHeight:   tx.LedgerIndex,
			Status:        model.StatusConfirmed,
			Meta: map[string]string{
				"DestinationTag": strconv.FormatInt(tx.Tx.DestinationTag, 10),
			},
		})
	}
	return page, nil
}

// rippleDrops extracts a drop amount from the payment Amount field, which
// is a string for XRP and an object for issued currencies.
func rippleDrops(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return "0"
}
