// Package registry holds the static metadata table of supported chains.
// Every adapter copies these fields verbatim into its Blockchain result.
package registry

import "github.com/Fantasim/chaingate/internal/model"

// Chain is one row of the registry.
type Chain struct {
	Name                    string
	ID                      string
	IsMainnet               bool
	Network                 string
	ConfirmationsUntilFinal int
}

// NativeCurrencyID returns the chain's base-asset currency id.
func (c Chain) NativeCurrencyID() string {
	return model.NativeCurrencyID(c.ID)
}

var chains = []Chain{
	{Name: "Bitcoin", ID: "bitcoin-mainnet", IsMainnet: true, Network: "bitcoin", ConfirmationsUntilFinal: 4},
	{Name: "Bitcoin", ID: "bitcoin-testnet", IsMainnet: false, Network: "testnet", ConfirmationsUntilFinal: 10},
	{Name: "Bitcoin Cash", ID: "bitcoincash-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 6},
	{Name: "Dogecoin", ID: "dogecoin-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 40},
	{Name: "Litecoin", ID: "litecoin-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 12},
	{Name: "Ethereum", ID: "ethereum-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 20},
	{Name: "Ripple", ID: "ripple-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 1},
	{Name: "Tezos", ID: "tezos-mainnet", IsMainnet: true, Network: "mainnet", ConfirmationsUntilFinal: 30},
}

var chainMap = func() map[string]Chain {
	m := make(map[string]Chain, len(chains))
	for _, c := range chains {
		m[c.ID] = c
	}
	return m
}()

// Lookup returns the registry row for a chain id.
func Lookup(id string) (Chain, bool) {
	c, ok := chainMap[id]
	return c, ok
}

// All returns every registered chain in declaration order.
func All() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	return out
}

// Blockchain seeds a model.Blockchain with the five registry fields.
// The adapter fills in tip and fee data.
func (c Chain) Blockchain() model.Blockchain {
	return model.Blockchain{
		Name:                    c.Name,
		ID:                      c.ID,
		IsMainnet:               c.IsMainnet,
		Network:                 c.Network,
		ConfirmationsUntilFinal: c.ConfirmationsUntilFinal,
		NativeCurrencyID:        c.NativeCurrencyID(),
	}
}
