package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/chaingate/internal/client"
	"github.com/Fantasim/chaingate/internal/config"
	"github.com/Fantasim/chaingate/internal/httputil"
	"github.com/Fantasim/chaingate/internal/validate"
)

// GetBlockchainsHandler serves GET /blockchains.
func GetBlockchainsHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testnet := boolParam(r, "testnet")
		// include_experimental is accepted and reserved.
		_ = boolParam(r, "include_experimental")

		chains, err := c.GetBlockchains(r.Context(), testnet)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, httputil.NewCollection("blockchains", chains))
	}
}

// GetBlockchainHandler serves GET /blockchains/{blockchainID}.
func GetBlockchainHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainID := chi.URLParam(r, "blockchainID")
		chain, err := c.GetBlockchain(r.Context(), chainID)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, chain)
	}
}

// GetTransactionsHandler serves GET /transactions.
func GetTransactionsHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		chainID := query.Get("blockchain_id")
		if chainID == "" {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidArgument, "blockchain_id is required")
			return
		}
		addresses := query["address"]
		if len(addresses) == 0 {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidArgument, "at least one address is required")
			return
		}
		for _, addr := range addresses {
			if err := validate.Address(chainID, addr); err != nil {
				writeError(w, err)
				return
			}
		}

		startHeight, ok := intParam(w, query, "start_height")
		if !ok {
			return
		}
		endHeight, ok := intParam(w, query, "end_height")
		if !ok {
			return
		}
		maxPageSize64, ok := intParam(w, query, "max_page_size")
		if !ok {
			return
		}
		includeRaw := boolParam(r, "include_raw")

		if startHeight < 0 {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidArgument, "start_height must not be negative")
			return
		}

		// An omitted or non-positive end height means "up to the chain's
		// current verified tip".
		if endHeight <= 0 {
			chain, err := c.GetBlockchain(r.Context(), chainID)
			if err != nil {
				writeError(w, err)
				return
			}
			endHeight = chain.VerifiedHeight
		}
		if startHeight > endHeight {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidArgument, "start_height must not exceed end_height")
			return
		}

		resp, err := c.GetTransactions(r.Context(), addresses, chainID, startHeight, endHeight, int(maxPageSize64), includeRaw)
		if err != nil {
			writeError(w, err)
			return
		}

		collection := httputil.NewCollection("transactions", resp.Contents)
		if resp.HasMore {
			next := url.Values{"blockchain_id": {chainID}}
			for _, addr := range addresses {
				next.Add("address", addr)
			}
			if resp.NextStartHeight != nil {
				next.Set("start_height", strconv.FormatInt(*resp.NextStartHeight, 10))
			}
			if resp.NextEndHeight != nil {
				next.Set("end_height", strconv.FormatInt(*resp.NextEndHeight, 10))
			}
			if maxPageSize64 > 0 {
				next.Set("max_page_size", strconv.FormatInt(maxPageSize64, 10))
			}
			if includeRaw {
				next.Set("include_raw", "true")
			}
			collection.Links["next"] = httputil.Link{Href: "/transactions?" + next.Encode()}
		}
		httputil.JSON(w, http.StatusOK, collection)
	}
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// intParam parses an optional int64 query parameter, writing a 400 and
// returning ok=false when it is present but malformed.
func intParam(w http.ResponseWriter, query url.Values, name string) (int64, bool) {
	raw := query.Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidArgument, name+" must be an integer")
		return 0, false
	}
	return v, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Caller is gone; nothing to write.
	case errors.Is(err, config.ErrUnsupportedChain):
		httputil.Error(w, http.StatusNotFound, config.ErrorUnsupportedChain, err.Error())
	case errors.Is(err, config.ErrInvalidArgument):
		httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidAddress, err.Error())
	default:
		slog.Warn("upstream failure", "error", err)
		httputil.Error(w, http.StatusBadGateway, config.ErrorUpstreamUnavailable, err.Error())
	}
}
