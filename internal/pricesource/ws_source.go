package pricesource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

// WSSource is a price source fed by a streaming aggregator over a
// websocket connection, reconnecting with backoff on drop.
//
// Grounded on internal/polymarket/ws_client.go's reconnect loop (dial,
// read pump, exponential backoff on disconnect, mutex-guarded last value)
// and on the teacher's use of gorilla/websocket directly.
type WSSource struct {
	name string
	url  string

	mu     sync.RWMutex
	latest map[types.Address]types.U256 // token -> native price, 1e18 = parity

	stopCh chan struct{}
}

type wsPriceTick struct {
	Token types.Address `json:"token"`
	Price string        `json:"price"`
}

func NewWSSource(name, url string) *WSSource {
	return &WSSource{
		name:   name,
		url:    url,
		latest: make(map[types.Address]types.U256),
		stopCh: make(chan struct{}),
	}
}

func (s *WSSource) Name() string { return s.name }

// Run connects and reconnects until ctx is cancelled or Stop is called.
func (s *WSSource) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Warn().Err(err).Str("source", s.name).Dur("backoff", backoff).Msg("ws price source dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}

		backoff = time.Second
		s.readPump(ctx, conn)
	}
}

func (s *WSSource) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		var tick wsPriceTick
		if err := conn.ReadJSON(&tick); err != nil {
			log.Debug().Err(err).Str("source", s.name).Msg("ws price source read failed, reconnecting")
			return
		}
		price, err := types.U256FromDecimalString(tick.Price)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.latest[tick.Token] = price
		s.mu.Unlock()
	}
}

func (s *WSSource) Stop() { close(s.stopCh) }

func (s *WSSource) NativePrice(_ context.Context, token types.Address) (types.U256, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.latest[token]
	if !ok {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamUnsupportedToken, fmt.Errorf("%s: no tick for token %s", s.name, token.Hex()))
	}
	return price, nil
}

// Estimate is not supported by a pure price-tick feed; it only answers
// NativePrice queries in the priority list.
func (s *WSSource) Estimate(context.Context, types.Address, types.Address, types.U256, types.OrderKind) (Estimate, error) {
	return Estimate{}, domainerr.Upstream(domainerr.UpstreamNoLiquidity, fmt.Errorf("%s: estimate not supported by tick feed", s.name))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
