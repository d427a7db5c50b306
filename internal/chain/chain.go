// Package chain defines the abstract on-chain data provider the indexer
// and balance reader depend on (§6 Chain interface), plus the
// concrete go-ethereum-backed implementation and the Trade/OrderInvalidated/
// Settlement log decoders.
//
// Grounded on other_examples' OrderBookEVM settlement.go (ethclient.Client,
// common.Address plumbing) generalized from a transaction-sending manager
// into a read-only provider, since this backend only follows the chain —
// a separate solver component submits settlements (§1 Non-goals).
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Provider is the abstract chain-reading capability §6 requires of the
// indexer and balance reader.
type Provider interface {
	LatestBlock(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
	GetLogs(ctx context.Context, from, to uint64, contract common.Address, topics [][]common.Hash) ([]types.Log, error)
	Call(ctx context.Context, contract common.Address, data []byte, blockNumber *big.Int) ([]byte, error)
}

// EthClientProvider implements Provider over go-ethereum's JSON-RPC client.
type EthClientProvider struct {
	client *ethclient.Client
}

func Dial(rpcURL string) (*EthClientProvider, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &EthClientProvider{client: c}, nil
}

func (p *EthClientProvider) LatestBlock(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func (p *EthClientProvider) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

func (p *EthClientProvider) GetLogs(ctx context.Context, from, to uint64, contract common.Address, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    topics,
	}
	return p.client.FilterLogs(ctx, query)
}

func (p *EthClientProvider) Call(ctx context.Context, contract common.Address, data []byte, blockNumber *big.Int) ([]byte, error) {
	msg := ethereum.CallMsg{To: &contract, Data: data}
	return p.client.CallContract(ctx, msg, blockNumber)
}
