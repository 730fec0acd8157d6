package config

import "time"

// Upstream base URLs
const (
	BlockCypherBaseURL = "https://api.blockcypher.com/v1"
	BlockChairBaseURL  = "https://api.blockchair.com"
	EtherscanBaseURL   = "https://api.etherscan.io/api"
	RippleBaseURL      = "https://data.ripple.com/v2"
	TzStatsBaseURL     = "https://api.tzstats.com/explorer"
	TezosRPCBaseURL    = "https://mainnet-tezos.giganode.io"
	BitGoBaseURL       = "https://www.bitgo.com/api/v2"
)

// Concurrency gates (simultaneous in-flight requests per provider).
// BlockCypher and Etherscan can be overridden via BLOCKCYPHER_RATE_LIMIT
// and ETHERSCAN_RATE_LIMIT.
const (
	GateBlockCypher = 5
	GateBlockbook   = 1
	GateBlockChair  = 12
	GateEtherscan   = 3
	GateRipple      = 10
)

// AddressFanOutLimit bounds per-address concurrency inside one
// GetTransactions call, on top of the per-provider gates.
const AddressFanOutLimit = 12

// Rate limits for public hosts that reject burst traffic (requests/second).
const (
	RateLimitBlockbook  = 1
	RateLimitBlockChair = 5
)

// Caches
const (
	BlockchainMemoTTL      = 10 * time.Second
	BlockchainMemoCapacity = 1000
	TransactionMemoTTL     = 365 * 24 * time.Hour
	TransactionMemoCap     = 100_000
	FeeMemoTTL             = time.Minute
	FeeMemoCapacity        = 64
)

// Retries
const (
	RetryMaxAttempts = 3
	RetryBaseDelay   = 250 * time.Millisecond
	RetryFactor      = 2
)

// Upstream page sizes
const (
	BlockCypherPageLimit = 50
	BlockbookPageSize    = 50
	BlockChairPageLimit  = 10000
	RipplePageLimit      = 10000
	TzStatsPageLimit     = 10000
)

// Block times used to turn fee tiers into confirmation estimates.
const (
	BitcoinBlockTime  = 10 * time.Minute
	LitecoinBlockTime = 150 * time.Second
)

// Server
const (
	ServerReadTimeout     = 30 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerShutdownTimeout = 10 * time.Second
	HTTPRequestTimeout    = 30 * time.Second
)

// Outbound connection pool
const (
	HTTPMaxConnsPerHost     = 64
	HTTPMaxIdleConnsPerHost = 16
	HTTPMaxIdleConns        = 128
)
