// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds every request made to the indexer.
	DefaultTimeout = 15 * time.Second

	// DefaultHistoryLimit is the number of transactions History returns
	// when no positive limit is given.
	DefaultHistoryLimit = 10

	// DefaultFallbackFeeRate is the sat/vB rate used whenever the fee
	// endpoint cannot produce a usable value.
	DefaultFallbackFeeRate = 2
)

// Reasons passed to Observer.FeeFallback.
const (
	FallbackRequestFailed = "request_failed"
	FallbackMissingTier   = "missing_tier"
	FallbackImplausible   = "implausible"
)

// FeeTier selects one of the estimates of the recommended fees endpoint.
type FeeTier string

const (
	FastestFee  FeeTier = "fastestFee"
	HalfHourFee FeeTier = "halfHourFee"
	HourFee     FeeTier = "hourFee"
	EconomyFee  FeeTier = "economyFee"
	MinimumFee  FeeTier = "minimumFee"
)

// ParseFeeTier returns the tier matching the given name.
func ParseFeeTier(s string) (FeeTier, error) {
	for _, tier := range []FeeTier{
		FastestFee, HalfHourFee, HourFee, EconomyFee, MinimumFee,
	} {
		if strings.EqualFold(s, string(tier)) {
			return tier, nil
		}
	}
	return "", fmt.Errorf("unknown fee tier %q", s)
}

// Observer receives the outcome of indexer calls.  It is implemented by the
// metrics package.
type Observer interface {
	// ObserveRequest is called once per request with the endpoint name,
	// its duration, and the error it produced, if any.
	ObserveRequest(endpoint string, elapsed time.Duration, err error)

	// FeeFallback is called whenever the fallback fee rate is used.  The
	// reason is one of the Fallback constants.
	FeeFallback(reason string)
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, time.Duration, error) {}

func (noopObserver) FeeFallback(string) {}

// EsploraConfig houses the options of an EsploraClient.
type EsploraConfig struct {
	// URL is the base URL of the REST API, for example
	// https://mempool.space/testnet/api.
	URL string

	// Timeout bounds every request.  DefaultTimeout is used if zero.
	Timeout time.Duration

	// FeeTier is the estimate to use.  HalfHourFee is used if empty.
	FeeTier FeeTier

	// FallbackFeeRate is used when the fee endpoint fails.
	// DefaultFallbackFeeRate is used if nil or not positive.
	FallbackFeeRate *unit.SatPerVByte

	// Observer is notified of request outcomes.  Optional.
	Observer Observer

	// HTTPClient overrides the transport.  Optional.
	HTTPClient *http.Client
}

// EsploraClient is an Indexer backed by an Esplora compatible REST API such
// as mempool.space or blockstream.info.
type EsploraClient struct {
	client      *resty.Client
	feeTier     FeeTier
	fallbackFee unit.SatPerVByte
	observer    Observer
}

// Compile time check to ensure EsploraClient satisfies the Indexer interface.
var _ Indexer = (*EsploraClient)(nil)

// NewEsploraClient returns a client for the API at cfg.URL.
func NewEsploraClient(cfg *EsploraConfig) (*EsploraClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("indexer URL must be set")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tier := cfg.FeeTier
	if tier == "" {
		tier = HalfHourFee
	}
	if _, err := ParseFeeTier(string(tier)); err != nil {
		return nil, err
	}

	fallback := unit.NewSatPerVByte(
		DefaultFallbackFeeRate, unit.NewVByte(1),
	)
	if cfg.FallbackFeeRate != nil && cfg.FallbackFeeRate.IsPositive() {
		fallback = *cfg.FallbackFeeRate
	}

	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &EsploraClient{
		client:      client,
		feeTier:     tier,
		fallbackFee: fallback,
		observer:    observer,
	}, nil
}

// FallbackFeeRate returns the rate used when no estimate is available.
func (c *EsploraClient) FallbackFeeRate() unit.SatPerVByte {
	return c.fallbackFee
}

// esploraUtxo is a single entry of GET /address/:address/utxo.
type esploraUtxo struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  int64         `json:"value"`
	Status esploraStatus `json:"status"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int32 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

// esploraAddress is the body of GET /address/:address.
type esploraAddress struct {
	Address    string `json:"address"`
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

// esploraTx is a single entry of GET /address/:address/txs.
type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		Prevout *esploraTxOut `json:"prevout"`
	} `json:"vin"`
	Vout   []esploraTxOut `json:"vout"`
	Status esploraStatus  `json:"status"`
}

type esploraTxOut struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// request returns a new request bound to ctx that decodes its result as
// JSON regardless of the content type the server declares.
func (c *EsploraClient) request(ctx context.Context) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		ForceContentType("application/json")
}

// get performs a GET on path and decodes the JSON body into result.
func (c *EsploraClient) get(ctx context.Context, endpoint, path string,
	address string, result interface{}) error {

	start := time.Now()
	resp, err := c.request(ctx).
		SetPathParam("address", address).
		SetResult(result).
		Get(path)

	if err == nil && resp.IsError() {
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode(),
			strings.TrimSpace(resp.String()))
	}
	c.observer.ObserveRequest(endpoint, time.Since(start), err)

	return err
}

// Utxos returns the unspent outputs of address with a positive value.
//
// This is part of the Indexer interface.
func (c *EsploraClient) Utxos(ctx context.Context,
	address string) ([]Utxo, error) {

	var raw []esploraUtxo
	err := c.get(ctx, "utxo", "/address/{address}/utxo", address, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: utxos for %s: %v", ErrAddressLookup,
			address, err)
	}

	utxos := make([]Utxo, 0, len(raw))
	for _, u := range raw {
		if u.Value <= 0 {
			continue
		}

		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid txid %q: %v",
				ErrAddressLookup, u.TxID, err)
		}

		utxos = append(utxos, Utxo{
			TxID:      *hash,
			Vout:      u.Vout,
			Value:     btcutil.Amount(u.Value),
			Confirmed: u.Status.Confirmed,
		})
	}

	log.Debugf("Indexer returned %d utxos for %s", len(utxos), address)

	return utxos, nil
}

// RecommendedFeeRate returns the configured tier of the recommended fees
// endpoint.  A failed request, a missing tier or a value below the minimum
// relay fee rate results in the fallback rate.
//
// This is part of the Indexer interface.
func (c *EsploraClient) RecommendedFeeRate(
	ctx context.Context) unit.SatPerVByte {

	var fees map[string]float64
	err := c.get(ctx, "fees", "/v1/fees/recommended", "", &fees)
	if err != nil {
		return c.useFallback(FallbackRequestFailed,
			fmt.Sprintf("fee request failed: %v", err))
	}

	value, ok := fees[string(c.feeTier)]
	if !ok {
		return c.useFallback(FallbackMissingTier,
			fmt.Sprintf("%s missing from response", c.feeTier))
	}

	rate := unit.SatPerVByteFromFloat(value)
	if rate.LessThan(unit.MinRelayFeeRate) {
		return c.useFallback(FallbackImplausible,
			fmt.Sprintf("implausible %s %v", c.feeTier, value))
	}

	log.Debugf("Using %s of %v", c.feeTier, rate)

	return rate
}

func (c *EsploraClient) useFallback(reason,
	detail string) unit.SatPerVByte {

	log.Warnf("Using fallback fee rate %v: %s", c.fallbackFee, detail)
	c.observer.FeeFallback(reason)

	return c.fallbackFee
}

// Balance returns the confirmed balance of address.
//
// This is part of the Indexer interface.
func (c *EsploraClient) Balance(ctx context.Context,
	address string) (btcutil.Amount, error) {

	var info esploraAddress
	err := c.get(ctx, "address", "/address/{address}", address, &info)
	if err != nil {
		return 0, fmt.Errorf("%w: balance for %s: %v", ErrAddressLookup,
			address, err)
	}

	return btcutil.Amount(
		info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum,
	), nil
}

// History returns up to limit of the most recent transactions of address,
// newest first.  DefaultHistoryLimit is used for a non-positive limit.
//
// This is part of the Indexer interface.
func (c *EsploraClient) History(ctx context.Context, address string,
	limit int) ([]TxSummary, error) {

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var raw []esploraTx
	err := c.get(ctx, "txs", "/address/{address}/txs", address, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: history for %s: %v",
			ErrAddressLookup, address, err)
	}
	if len(raw) > limit {
		raw = raw[:limit]
	}

	history := make([]TxSummary, 0, len(raw))
	for _, tx := range raw {
		history = append(history, summarize(tx, address))
	}

	return history, nil
}

// summarize computes the effect of tx on address.  A transaction that lowers
// the balance of address is outgoing even when it pays change back to it.
func summarize(tx esploraTx, address string) TxSummary {
	var net int64
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress == address {
			net += out.Value
		}
	}
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.ScriptPubKeyAddress == address {
			net -= in.Prevout.Value
		}
	}

	summary := TxSummary{
		TxID:        tx.TxID,
		Direction:   Incoming,
		Net:         btcutil.Amount(net),
		Confirmed:   tx.Status.Confirmed,
		BlockHeight: tx.Status.BlockHeight,
	}
	if net < 0 {
		summary.Direction = Outgoing
	}
	if tx.Status.Confirmed && tx.Status.BlockTime > 0 {
		summary.BlockTime = time.Unix(tx.Status.BlockTime, 0)
	}

	return summary
}

// Broadcast submits the hex encoded transaction and returns the txid from
// the response body.  A rejection is returned as a *BroadcastError.  The
// call is never retried.
//
// This is part of the Indexer interface.
func (c *EsploraClient) Broadcast(ctx context.Context,
	rawTxHex string) (string, error) {

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(rawTxHex).
		Post("/tx")

	switch {
	case err != nil:
		err = &BroadcastError{Err: err}

	case resp.IsError():
		err = &BroadcastError{
			StatusCode: resp.StatusCode(),
			Reason:     strings.TrimSpace(resp.String()),
		}
	}
	c.observer.ObserveRequest("broadcast", time.Since(start), err)

	if err != nil {
		log.Warnf("Broadcast rejected: %v", err)
		return "", err
	}

	txid := strings.TrimSpace(resp.String())
	if txid == "" {
		return "", &BroadcastError{
			StatusCode: resp.StatusCode(),
			Reason:     "empty response body",
		}
	}

	log.Infof("Broadcast transaction %s", txid)

	return txid, nil
}
