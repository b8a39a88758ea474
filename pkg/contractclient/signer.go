package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Signer serializes nonce-consuming sends for a single private key across
// every ContractClient built on top of it: a mutex around the
// read-allocate-increment of the pending nonce is the whole of the
// contract, there is no cleverness to add here.
type Signer struct {
	mu         sync.Mutex
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	nonce      *uint64
}

// NewSigner resolves the signer's address from the key and caches the chain
// id used for EIP-155 transaction signing.
func NewSigner(ctx context.Context, eth *ethclient.Client, pk *ecdsa.PrivateKey) (*Signer, error) {
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid private key: cannot derive public key")
	}
	addr := crypto.PubkeyToAddress(*pub)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	return &Signer{
		eth:        eth,
		privateKey: pk,
		address:    addr,
		chainID:    chainID,
	}, nil
}

// Address returns the signer's on-chain address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAndSend takes ownership of the next nonce, signs tx, and broadcasts
// it. The nonce is only advanced after a successful broadcast so that a
// submit failure does not leave a gap in the nonce sequence.
func (s *Signer) SignAndSend(ctx context.Context, newTx func(nonce uint64) (*types.Transaction, error)) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.nextNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := newTx(nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	next := nonce + 1
	s.nonce = &next

	return signed.Hash(), nil
}

func (s *Signer) nextNonce(ctx context.Context) (uint64, error) {
	if s.nonce != nil {
		return *s.nonce, nil
	}
	n, err := s.eth.PendingNonceAt(ctx, s.address)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	return n, nil
}
