package indexer

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cowbot/orderbook/internal/chain"
	"github.com/cowbot/orderbook/internal/store"
)

// fakeProvider is an in-memory chain.Provider: a slice of block hashes
// indexed by block number, plus a fixed log set per block. Reassigning
// hashes[n] and truncating simulates a reorg at height n.
type fakeProvider struct {
	hashes []common.Hash // hashes[i] is the hash of block i
	logs   map[uint64][]gethtypes.Log
}

func newFakeProvider(height uint64) *fakeProvider {
	p := &fakeProvider{hashes: make([]common.Hash, height+1), logs: map[uint64][]gethtypes.Log{}}
	for i := range p.hashes {
		p.hashes[i] = fakeHash(uint64(i), 0)
	}
	return p
}

func fakeHash(block uint64, epoch int) common.Hash {
	var h common.Hash
	h[0] = byte(epoch)
	h[24] = byte(block >> 24)
	h[25] = byte(block >> 16)
	h[26] = byte(block >> 8)
	h[27] = byte(block)
	return h
}

func (p *fakeProvider) LatestBlock(ctx context.Context) (uint64, error) {
	return uint64(len(p.hashes) - 1), nil
}

func (p *fakeProvider) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	if number >= uint64(len(p.hashes)) {
		return common.Hash{}, fmt.Errorf("fakeProvider: block %d not yet mined", number)
	}
	return p.hashes[number], nil
}

func (p *fakeProvider) GetLogs(ctx context.Context, from, to uint64, contract common.Address, topics [][]common.Hash) ([]gethtypes.Log, error) {
	var out []gethtypes.Log
	for b := from; b <= to; b++ {
		out = append(out, p.logs[b]...)
	}
	return out, nil
}

func (p *fakeProvider) Call(ctx context.Context, contract common.Address, data []byte, blockNumber *big.Int) ([]byte, error) {
	return nil, fmt.Errorf("fakeProvider: Call unsupported")
}

// reorgAt truncates the chain to length boundary+1 and re-extends it to
// newHeight with a distinct epoch, so every block >= boundary+1 gets a hash
// the store has never seen.
func (p *fakeProvider) reorgAt(boundary, newHeight uint64, epoch int) {
	p.hashes = p.hashes[:boundary+1]
	for b := boundary + 1; b <= newHeight; b++ {
		p.hashes = append(p.hashes, fakeHash(b, epoch))
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "indexer-test.db")
	s, err := store.New(dsn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { os.Remove(dsn) })
	return s
}

func testConfig() Config {
	return Config{
		SettlementContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		ReorgDepth:          10,
		BatchSize:           5,
		PollInterval:        time.Millisecond,
		MaxBackoff:          time.Second,
	}
}

func TestRunIterationAdvancesWatermark(t *testing.T) {
	s := newTestStore(t)
	p := newFakeProvider(12)
	ix := New(p, s, testConfig(), nil)

	if err := ix.runIteration(context.Background()); err != nil {
		t.Fatalf("runIteration: %v", err)
	}
	got, err := s.LatestIndexedBlock()
	if err != nil {
		t.Fatalf("LatestIndexedBlock: %v", err)
	}
	if got != 5 { // BatchSize caps the first iteration at block 5
		t.Fatalf("got watermark %d, want 5", got)
	}

	if err := ix.runIteration(context.Background()); err != nil {
		t.Fatalf("second runIteration: %v", err)
	}
	got, err = s.LatestIndexedBlock()
	if err != nil {
		t.Fatalf("LatestIndexedBlock: %v", err)
	}
	if got != 10 {
		t.Fatalf("got watermark %d, want 10", got)
	}
}

func TestRunIterationDetectsAndRewindsReorg(t *testing.T) {
	s := newTestStore(t)
	p := newFakeProvider(20)
	ix := New(p, s, testConfig(), nil)

	// Index in two batches so the store has a recorded sample at block 5
	// to rewind to.
	for i := 0; i < 2; i++ {
		if err := ix.runIteration(context.Background()); err != nil {
			t.Fatalf("seed iteration %d: %v", i, err)
		}
	}
	watermark, _ := s.LatestIndexedBlock()
	if watermark != 10 {
		t.Fatalf("got watermark %d, want 10 before reorg", watermark)
	}

	// Reorg everything above block 6 onto a new fork.
	p.reorgAt(6, 20, 1)

	if err := ix.reconcileReorg(context.Background(), watermark); err != nil {
		t.Fatalf("reconcileReorg: %v", err)
	}
	rewound, err := s.LatestIndexedBlock()
	if err != nil {
		t.Fatalf("LatestIndexedBlock: %v", err)
	}
	// The only sample older than 10 that still agrees with the live chain
	// is block 5, the one recorded by the first seed iteration.
	if rewound != 5 {
		t.Fatalf("got watermark %d after reorg, want rewind to ancestor 5", rewound)
	}

	// A further iteration resumes forward progress on the new fork.
	if err := ix.runIteration(context.Background()); err != nil {
		t.Fatalf("post-rewind runIteration: %v", err)
	}
	resumed, err := s.LatestIndexedBlock()
	if err != nil {
		t.Fatalf("LatestIndexedBlock: %v", err)
	}
	if resumed != 10 {
		t.Fatalf("got watermark %d after resume, want 10", resumed)
	}
}

func TestDecodeLogsFatalOnMalformedTrade(t *testing.T) {
	bad := gethtypes.Log{
		Topics: []common.Hash{chain.TopicTrade},
		Data:   []byte{1, 2, 3}, // far too short
	}
	_, _, _, _, err := decodeLogs([]gethtypes.Log{bad})
	if err == nil {
		t.Fatal("expected decode error for malformed trade log")
	}
	var de *DecodeError
	if !asDecodeError(err, &de) {
		t.Fatalf("got %T, want *DecodeError", err)
	}
	if de.Topic != "Trade" {
		t.Fatalf("got topic %q, want Trade", de.Topic)
	}
}
