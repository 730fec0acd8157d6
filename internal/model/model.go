package model

import (
	"fmt"
	"time"
)

// Sentinel addresses used when an upstream cannot attribute one side of a
// transfer, and the pseudo-sink that receives fees on account-model chains.
const (
	UnknownAddress = "unknown"
	FeeAddress     = "__fee__"
)

// Transaction statuses.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Timestamp marshals as ISO-8601 UTC with millisecond precision and an
// explicit timezone suffix (e.g. "2021-04-01T12:34:56.000+00:00").
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05.000-07:00"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid timestamp %q", string(b))
	}
	parsed, err := time.Parse(timestampLayout, string(b[1:len(b)-1]))
	if err != nil {
		// Upstreams hand us plain RFC3339 as well.
		parsed, err = time.Parse(time.RFC3339, string(b[1:len(b)-1]))
		if err != nil {
			return err
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

func (t Timestamp) Time() time.Time { return time.Time(t) }

// Amount is a value in the currency's smallest unit (satoshis, wei, drops,
// mutez), carried as a decimal integer string. Amounts are never negative;
// direction lives on the enclosing Transfer.
type Amount struct {
	Amount     string `json:"amount"`
	CurrencyID string `json:"currency_id"`
}

// NativeCurrencyID returns the currency id of a chain's base asset.
func NativeCurrencyID(chainID string) string {
	return chainID + ":__native__"
}

// NativeAmount builds an Amount in the chain's base asset.
func NativeAmount(chainID, amount string) Amount {
	return Amount{Amount: amount, CurrencyID: NativeCurrencyID(chainID)}
}

// TransactionID builds the canonical transaction id "<chain>:<hash>".
func TransactionID(chainID, hash string) string {
	return chainID + ":" + hash
}

// TransferID builds the canonical transfer id "<chain>:<hash>:<index>".
func TransferID(chainID, hash string, index int) string {
	return fmt.Sprintf("%s:%s:%d", chainID, hash, index)
}

// FeeEstimate is one fee tier, ordered cheapest-slowest first when the
// upstream supplies tiers.
type FeeEstimate struct {
	Fee                     Amount `json:"fee"`
	Tier                    string `json:"tier"`
	EstimatedConfirmationIn int64  `json:"estimated_confirmation_in"` // milliseconds
}

// Transfer is one directed value movement inside a transaction. Indices are
// dense and ascending within the enclosing transaction.
type Transfer struct {
	TransferID    string            `json:"transfer_id"`
	BlockchainID  string            `json:"blockchain_id"`
	FromAddress   string            `json:"from_address"`
	ToAddress     string            `json:"to_address"`
	Index         int               `json:"index"`
	TransactionID string            `json:"transaction_id"`
	Amount        Amount            `json:"amount"`
	Meta          map[string]string `json:"meta"`
}

// TransferList is the _embedded body of a Transaction.
type TransferList struct {
	Transfers []Transfer `json:"transfers"`
}

// Transaction is the provider-agnostic view of one confirmed transaction.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	Identifier    string            `json:"identifier"`
	Hash          string            `json:"hash"`
	BlockchainID  string            `json:"blockchain_id"`
	Timestamp     Timestamp         `json:"timestamp"`
	Embedded      TransferList      `json:"_embedded"`
	Fee           Amount            `json:"fee"`
	Confirmations int64             `json:"confirmations"`
	Size          int64             `json:"size"`
	Index         int64             `json:"index"`
	BlockHash     string            `json:"block_hash"`
	BlockHeight   int64             `json:"block_height"`
	Status        string            `json:"status"`
	Meta          map[string]string `json:"meta"`
	Raw           []byte            `json:"raw,omitempty"` // base64 on the wire
}

// Blockchain is the normalized tip view of one chain.
type Blockchain struct {
	Name                    string        `json:"name"`
	ID                      string        `json:"id"`
	IsMainnet               bool          `json:"is_mainnet"`
	Network                 string        `json:"network"`
	ConfirmationsUntilFinal int           `json:"confirmations_until_final"`
	NativeCurrencyID        string        `json:"native_currency_id"`
	FeeEstimates            []FeeEstimate `json:"fee_estimates"`
	FeeEstimatesTimestamp   Timestamp     `json:"fee_estimates_timestamp"`
	BlockHeight             int64         `json:"block_height"`
	VerifiedHeight          int64         `json:"verified_height"`
	VerifiedBlockHash       string        `json:"verified_block_hash"`
}

// HeightPaginatedResponse is a page of contents bounded by block heights.
// When HasMore is set, at least one of the next bounds is set.
type HeightPaginatedResponse[T any] struct {
	Contents        []T    `json:"contents"`
	HasMore         bool   `json:"has_more"`
	NextStartHeight *int64 `json:"next_start_height,omitempty"`
	NextEndHeight   *int64 `json:"next_end_height,omitempty"`
}
