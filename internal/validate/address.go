// Package validate checks that request addresses are well formed for their
// chain before any upstream call is spent on them.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"blockwatch.cc/tzgo/tezos"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/Fantasim/chaingate/internal/config"
)

// rippleAlphabet is the base58 dialect used by XRP Ledger addresses.
var rippleAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

// utxoAddressShape is a loose shape check for the base58/bech32/cashaddr
// chains where btcutil carries no network parameters.
var utxoAddressShape = regexp.MustCompile(`^[0-9a-zA-Z:]{20,90}$`)

// Address validates addr for the given chain id.
func Address(chainID, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address", config.ErrInvalidArgument)
	}

	switch chainID {
	case "bitcoin-mainnet":
		return validateBTC(addr, &chaincfg.MainNetParams)
	case "bitcoin-testnet":
		return validateBTC(addr, &chaincfg.TestNet3Params)
	case "litecoin-mainnet", "dogecoin-mainnet", "bitcoincash-mainnet":
		if !utxoAddressShape.MatchString(addr) {
			return fmt.Errorf("%w: malformed address %q for %s", config.ErrInvalidArgument, addr, chainID)
		}
		return nil
	case "ethereum-mainnet":
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: invalid Ethereum address %q", config.ErrInvalidArgument, addr)
		}
		return nil
	case "ripple-mainnet":
		return validateRipple(addr)
	case "tezos-mainnet":
		if _, err := tezos.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: invalid Tezos address %q: %v", config.ErrInvalidArgument, addr, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", config.ErrUnsupportedChain, chainID)
	}
}

func validateBTC(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("%w: invalid Bitcoin address %q: %v", config.ErrInvalidArgument, addr, err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("%w: address %q is not for network %s", config.ErrInvalidArgument, addr, params.Name)
	}
	return nil
}

func validateRipple(addr string) error {
	if !strings.HasPrefix(addr, "r") || len(addr) < 25 || len(addr) > 35 {
		return fmt.Errorf("%w: invalid Ripple address %q", config.ErrInvalidArgument, addr)
	}
	if _, err := base58.DecodeAlphabet(addr, rippleAlphabet); err != nil {
		return fmt.Errorf("%w: invalid Ripple address %q: %v", config.ErrInvalidArgument, addr, err)
	}
	return nil
}
