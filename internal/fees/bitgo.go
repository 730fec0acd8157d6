package fees

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/Fantasim/chaingate/internal/cache"
	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httpx"
	"github.com/Fantasim/chaingate/internal/model"
)

// chainFeeConfig describes one chain's fee source: either a BitGo endpoint
// with a block time, or a hard-coded static list.
type chainFeeConfig struct {
	url       string
	blockTime time.Duration
	static    []model.FeeEstimate
}

var bitgoChainConfig = map[string]chainFeeConfig{
	"bitcoin-mainnet": {
		url:       config.BitGoBaseURL + "/btc/tx/fee",
		blockTime: config.BitcoinBlockTime,
	},
	"bitcoincash-mainnet": {
		url:       config.BitGoBaseURL + "/bch/tx/fee",
		blockTime: config.BitcoinBlockTime,
	},
	"litecoin-mainnet": {
		url:       config.BitGoBaseURL + "/ltc/tx/fee",
		blockTime: config.LitecoinBlockTime,
	},
	"bitcoin-testnet": {
		static: []model.FeeEstimate{{
			Fee:                     model.NativeAmount("bitcoin-testnet", "1"),
			Tier:                    "1m",
			EstimatedConfirmationIn: 60000,
		}},
	},
	"dogecoin-mainnet": {
		static: []model.FeeEstimate{{
			Fee:                     model.NativeAmount("dogecoin-mainnet", "600000"),
			Tier:                    "1m",
			EstimatedConfirmationIn: 60000,
		}},
	},
}

// bitgoFeeResponse covers both upstream shapes: tiered (feeByBlockTarget)
// and single (feePerKb + numBlocks).
type bitgoFeeResponse struct {
	FeePerKB         float64            `json:"feePerKb"`
	NumBlocks        int64              `json:"numBlocks"`
	FeeByBlockTarget map[string]float64 `json:"feeByBlockTarget"`
}

// BitGo fetches UTXO-chain fee estimates from the BitGo public API, with a
// 60-second read-through memo per chain. Static chains bypass the memo.
type BitGo struct {
	requester *httpx.Requester
	memo      *cache.Memo[[]model.FeeEstimate]
	baseURL   string // overrides the BitGo host when non-empty (tests)
}

// NewBitGo creates the BitGo fee provider on the shared session. BitGo is
// low-traffic, so its gate is unbounded.
func NewBitGo(session *httpx.Session) *BitGo {
	return &BitGo{
		requester: httpx.NewRequester("bitgo", session, nil, nil),
		memo:      cache.NewMemo[[]model.FeeEstimate](config.FeeMemoCapacity, config.FeeMemoTTL),
	}
}

// NewBitGoWithURL rewrites the chain config onto a custom base URL (tests).
func NewBitGoWithURL(session *httpx.Session, baseURL string) *BitGo {
	b := NewBitGo(session)
	b.baseURL = baseURL
	return b
}

func (b *BitGo) feeURL(cfg chainFeeConfig) string {
	if b.baseURL == "" {
		return cfg.url
	}
	return b.baseURL + cfg.url[len(config.BitGoBaseURL):]
}

// GetFees returns the estimate list for chainID.
func (b *BitGo) GetFees(ctx context.Context, chainID string) ([]model.FeeEstimate, error) {
	cfg, ok := bitgoChainConfig[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no BitGo fee source", config.ErrUnsupportedChain, chainID)
	}
	if cfg.static != nil {
		return cfg.static, nil
	}

	return b.memo.Do(ctx, chainID, func(fctx context.Context) ([]model.FeeEstimate, error) {
		return b.fetch(fctx, chainID, cfg)
	})
}

func (b *BitGo) fetch(ctx context.Context, chainID string, cfg chainFeeConfig) ([]model.FeeEstimate, error) {
	var resp bitgoFeeResponse
	if err := b.requester.GetJSON(ctx, b.feeURL(cfg), nil, &resp); err != nil {
		return nil, fmt.Errorf("bitgo fee fetch for %s: %w", chainID, err)
	}

	blockTimeMs := cfg.blockTime.Milliseconds()

	var estimates []model.FeeEstimate
	if len(resp.FeeByBlockTarget) > 0 {
		type tier struct {
			blocks    int64
			satsPerKB float64
		}
		tiers := make([]tier, 0, len(resp.FeeByBlockTarget))
		for target, satsPerKB := range resp.FeeByBlockTarget {
			blocks, err := strconv.ParseInt(target, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad block target %q: %v", config.ErrUpstreamDecode, target, err)
			}
			tiers = append(tiers, tier{blocks: blocks, satsPerKB: satsPerKB})
		}
		// Cheapest-slowest first: more blocks means slower and cheaper.
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].blocks > tiers[j].blocks })

		for _, t := range tiers {
			confMs := t.blocks * blockTimeMs
			estimates = append(estimates, feeEstimate(chainID, t.satsPerKB, confMs))
		}
	} else {
		confMs := resp.NumBlocks * blockTimeMs
		estimates = append(estimates, feeEstimate(chainID, resp.FeePerKB, confMs))
	}

	slog.Debug("bitgo fees fetched",
		"chain", chainID,
		"tiers", len(estimates),
	)
	return estimates, nil
}

// feeEstimate converts a sats-per-kilobyte rate into one canonical estimate
// at sats-per-byte granularity.
func feeEstimate(chainID string, satsPerKB float64, confMs int64) model.FeeEstimate {
	satsPerByte := int64(math.Ceil(satsPerKB / 1024.0))
	return model.FeeEstimate{
		Fee:                     model.NativeAmount(chainID, strconv.FormatInt(satsPerByte, 10)),
		Tier:                    minutesLabel(confMs),
		EstimatedConfirmationIn: confMs,
	}
}

func minutesLabel(confMs int64) string {
	return fmt.Sprintf("%dm", confMs/1000/60)
}
