package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

// HTTPSource queries an external aggregator over HTTP for quotes and native
// prices. Only native prices are cached, per token, by the Start poll
// loop; Estimate, and NativePrice on a cache miss, make one request per call.
//
// Grounded on internal/cmc/client.go's aggregator client and
// internal/chainlink/client.go's poll loop (ticker + stopCh + buffered
// last value).
type HTTPSource struct {
	name       string
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	nativePrices map[types.Address]types.U256

	stopCh  chan struct{}
	running bool
}

func NewHTTPSource(name, baseURL string) *HTTPSource {
	return &HTTPSource{
		name:        name,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		nativePrices: make(map[types.Address]types.U256),
		stopCh:      make(chan struct{}),
	}
}

func (s *HTTPSource) Name() string { return s.name }

// Start begins the background poll loop refreshing native prices. Callers
// that only need point-in-time Estimate calls need not call Start.
func (s *HTTPSource) Start(ctx context.Context, tokens []types.Address, interval time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.pollLoop(ctx, tokens, interval)
}

func (s *HTTPSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

func (s *HTTPSource) pollLoop(ctx context.Context, tokens []types.Address, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, tok := range tokens {
				if price, err := s.fetchNativePrice(ctx, tok); err == nil {
					s.mu.Lock()
					s.nativePrices[tok] = price
					s.mu.Unlock()
				} else {
					log.Debug().Err(err).Str("source", s.name).Str("token", tok.Hex()).Msg("native price fetch failed")
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

type quoteResponse struct {
	OutAmount string `json:"outAmount"`
	GasWei    string `json:"gasCostWei"`
}

func (s *HTTPSource) Estimate(ctx context.Context, sellToken, buyToken types.Address, amount types.U256, kind types.OrderKind) (Estimate, error) {
	url := fmt.Sprintf("%s/quote?sellToken=%s&buyToken=%s&amount=%s&kind=%s", s.baseURL, sellToken.Hex(), buyToken.Hex(), amount.String(), kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamUnsupportedToken, fmt.Errorf("%s: token not supported", s.name))
	}
	if resp.StatusCode != http.StatusOK {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamNoLiquidity, fmt.Errorf("%s: status %d", s.name, resp.StatusCode))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	out, err := types.U256FromDecimalString(qr.OutAmount)
	if err != nil {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	gas, err := types.U256FromDecimalString(qr.GasWei)
	if err != nil {
		gas = types.U256{}
	}
	return Estimate{OutAmount: out, GasCostWei: gas}, nil
}

func (s *HTTPSource) NativePrice(ctx context.Context, token types.Address) (types.U256, error) {
	s.mu.RLock()
	cached, ok := s.nativePrices[token]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return s.fetchNativePrice(ctx, token)
}

func (s *HTTPSource) fetchNativePrice(ctx context.Context, token types.Address) (types.U256, error) {
	url := fmt.Sprintf("%s/native_price?token=%s", s.baseURL, token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamUnsupportedToken, fmt.Errorf("%s: no native price for token", s.name))
	}
	if resp.StatusCode != http.StatusOK {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamNoLiquidity, fmt.Errorf("%s: status %d", s.name, resp.StatusCode))
	}

	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamProviderError, err)
	}
	return types.U256FromDecimalString(body.Price)
}
