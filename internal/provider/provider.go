// Package provider contains the upstream explorer adapters. Each adapter
// translates one upstream's JSON into the canonical model: a Blockchain tip
// view and height-paginated transaction histories.
package provider

import (
	"context"

	"github.com/Fantasim/chaingate/internal/model"
)

// Provider is the capability every chain adapter satisfies.
type Provider interface {
	// GetBlockchainData returns the chain tip and current fee estimates.
	GetBlockchainData(ctx context.Context, chainID string) (model.Blockchain, error)

	// GetAddressTransactions returns the confirmed transaction history
	// touching address within [startHeight, endHeight]. Adapters that cannot
	// natively paginate return has_more=false and rely on the upstream's
	// per-call cap.
	GetAddressTransactions(ctx context.Context, chainID, address string, startHeight, endHeight int64) (model.HeightPaginatedResponse[model.Transaction], error)
}

// utxoSide is one input or output of a UTXO transaction, reduced to the
// single attributable address (empty when the upstream cannot name one,
// e.g. coinbase inputs and non-standard scripts) and its value in sats.
type utxoSide struct {
	address string
	value   string
}

// utxoTransfers assembles the canonical transfer list for a UTXO
// transaction: inputs first in upstream order with the unknown sink as
// destination, then outputs continuing the same dense counter with the
// unknown source.
func utxoTransfers(chainID, hash string, inputs, outputs []utxoSide) []model.Transfer {
	txID := model.TransactionID(chainID, hash)
	transfers := make([]model.Transfer, 0, len(inputs)+len(outputs))
	counter := 0
	for _, in := range inputs {
		transfers = append(transfers, model.Transfer{
			TransferID:    model.TransferID(chainID, hash, counter),
			BlockchainID:  chainID,
			FromAddress:   in.address,
			ToAddress:     model.UnknownAddress,
			Index:         counter,
			TransactionID: txID,
			Amount:        model.NativeAmount(chainID, in.value),
			Meta:          map[string]string{},
		})
		counter++
	}
	for _, out := range outputs {
		transfers = append(transfers, model.Transfer{
			TransferID:    model.TransferID(chainID, hash, counter),
			BlockchainID:  chainID,
			FromAddress:   model.UnknownAddress,
			ToAddress:     out.address,
			Index:         counter,
			TransactionID: txID,
			Amount:        model.NativeAmount(chainID, out.value),
			Meta:          map[string]string{},
		})
		counter++
	}
	return transfers
}

// firstAddress picks the single attributable address from an upstream
// address list, or "" when the list is empty.
func firstAddress(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// clampNonNegative keeps derived confirmation counts at zero or above.
func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
