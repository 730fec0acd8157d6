// Package client is the dispatcher the HTTP front-end talks to: it routes
// chain ids to their provider, fans out per-address history queries, merges
// paginated responses, and memoizes chain-tip lookups.
package client

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Fantasim/chaingate/internal/cache"
	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/fees"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
	"github.com/Fantasim/chaingate/internal/provider"
	"github.com/Fantasim/chaingate/internal/registry"
)

// Client owns the shared outbound session and the static routing table.
type Client struct {
	providers map[string]provider.Provider
	tipMemo   *cache.Memo[model.Blockchain]
	listMemo  *cache.Memo[[]model.Blockchain]
}

// Option adjusts a Client during construction.
type Option func(*Client)

// WithProvider overrides the provider for one chain. Used by tests and by
// the differential tooling to compare alternate backends (e.g. BlockChair
// instead of BlockCypher for a UTXO chain).
func WithProvider(chainID string, p provider.Provider) Option {
	return func(c *Client) {
		c.providers[chainID] = p
	}
}

// New builds the Client with the fixed routing table.
func New(cfg *config.Config, session *httpx.Session, opts ...Option) *Client {
	bitgo := fees.NewBitGo(session)
	blockcypher := provider.NewBlockCypher(session, bitgo, cfg.BlockCypherToken, int64(cfg.BlockCypherRateLimit))
	blockbook := provider.NewBlockbook(session, bitgo)
	etherscan := provider.NewEtherscan(session, cfg.EtherscanToken, int64(cfg.EtherscanRateLimit))
	ripple := provider.NewRipple(session)
	tezos := provider.NewTezos(session)

	c := &Client{
		providers: map[string]provider.Provider{
			"bitcoin-mainnet":     blockcypher,
			"bitcoin-testnet":     blockcypher,
			"bitcoincash-mainnet": blockbook,
			"litecoin-mainnet":    blockcypher,
			"dogecoin-mainnet":    blockcypher,
			"ethereum-mainnet":    etherscan,
			"ripple-mainnet":      ripple,
			"tezos-mainnet":       tezos,
		},
		tipMemo:  cache.NewMemo[model.Blockchain](config.BlockchainMemoCapacity, config.BlockchainMemoTTL),
		listMemo: cache.NewMemo[[]model.Blockchain](config.BlockchainMemoCapacity, config.BlockchainMemoTTL),
	}
	for _, opt := range opts {
		opt(c)
	}

	slog.Info("client created", "chains", len(c.providers))
	return c
}

func (c *Client) provider(chainID string) (provider.Provider, error) {
	p, ok := c.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrUnsupportedChain, chainID)
	}
	return p, nil
}

// GetBlockchain returns the tip view for one chain. Lookups within the memo
// TTL share both the resolved value and any in-flight fetch.
func (c *Client) GetBlockchain(ctx context.Context, chainID string) (model.Blockchain, error) {
	p, err := c.provider(chainID)
	if err != nil {
		return model.Blockchain{}, err
	}
	return c.tipMemo.Do(ctx, "blockchain:"+chainID, func(fctx context.Context) (model.Blockchain, error) {
		return p.GetBlockchainData(fctx, chainID)
	})
}

// GetBlockchains returns the tip view of every registered chain matching
// the testnet flag, fetched in parallel. Any single provider failure fails
// the whole call.
func (c *Client) GetBlockchains(ctx context.Context, testnet bool) ([]model.Blockchain, error) {
	key := fmt.Sprintf("blockchains:%t", testnet)
	return c.listMemo.Do(ctx, key, func(fctx context.Context) ([]model.Blockchain, error) {
		var selected []registry.Chain
		for _, chain := range registry.All() {
			if chain.IsMainnet == testnet {
				continue
			}
			selected = append(selected, chain)
		}

		results := make([]model.Blockchain, len(selected))
		g, gctx := errgroup.WithContext(fctx)
		for i, chain := range selected {
			p, err := c.provider(chain.ID)
			if err != nil {
				return nil, err
			}
			g.Go(func() error {
				bc, err := p.GetBlockchainData(gctx, chain.ID)
				if err != nil {
					return err
				}
				results[i] = bc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	})
}

// GetTransactions fans out one history query per address and merges the
// pages. maxPageSize and includeRaw flow through the public API but are
// reserved; current adapters apply their upstream's own caps.
func (c *Client) GetTransactions(ctx context.Context, addresses []string, chainID string, startHeight, endHeight int64, maxPageSize int, includeRaw bool) (model.HeightPaginatedResponse[model.Transaction], error) {
	var merged model.HeightPaginatedResponse[model.Transaction]

	p, err := c.provider(chainID)
	if err != nil {
		return merged, err
	}

	results := make([]model.HeightPaginatedResponse[model.Transaction], len(addresses))
	sem := semaphore.NewWeighted(config.AddressFanOutLimit)

	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addresses {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			resp, err := p.GetAddressTransactions(gctx, chainID, addr, startHeight, endHeight)
			if err != nil {
				return fmt.Errorf("address %s: %w", addr, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return merged, err
	}

	// Merge policy: concatenate per-address pages preserving upstream
	// order; resume from the narrowest unfinished window across addresses.
	for _, resp := range results {
		merged.Contents = append(merged.Contents, resp.Contents...)
		if !resp.HasMore {
			continue
		}
		merged.HasMore = true
		if resp.NextStartHeight != nil {
			if merged.NextStartHeight == nil || *resp.NextStartHeight < *merged.NextStartHeight {
				v := *resp.NextStartHeight
				merged.NextStartHeight = &v
			}
		}
		if resp.NextEndHeight != nil {
			if merged.NextEndHeight == nil || *resp.NextEndHeight > *merged.NextEndHeight {
				v := *resp.NextEndHeight
				merged.NextEndHeight = &v
			}
		}
	}
	return merged, nil
}
