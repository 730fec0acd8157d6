// Package fees implements the fee-estimate capability. Fee sources are
// orthogonal to chain-data sources: BitGo serves every UTXO chain here,
// while the account-model adapters carry their own fee logic.
package fees

import (
	"context"

	"github.com/Fantasim/chaingate/internal/model"
)

// Provider fetches the fee-estimate list for a chain, ordered
// cheapest-slowest first when the upstream supplies tiers.
type Provider interface {
	GetFees(ctx context.Context, chainID string) ([]model.FeeEstimate, error)
}

// TierLabel renders the short human tier label ("10m", "1m") for an
// estimated confirmation duration in milliseconds.
func TierLabel(confirmationMs int64) string {
	return minutesLabel(confirmationMs)
}
