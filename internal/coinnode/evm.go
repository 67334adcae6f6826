package coinnode

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMNode talks to an Ethereum-compatible node over ethclient. It is a
// supplemental adapter variant alongside the Bitcoin-family and Monero
// adapters: every ETH deposit address it hands out is one exchange-controlled
// hot address rather than one minted per user. Unlike the other adapters it
// holds a signing key in process: the hot wallet's private key, used to sign
// outbound withdrawals locally before broadcasting them.
type EVMNode struct {
	client     *ethclient.Client
	hotAddr    string
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
}

// NewEVMNode dials rpcURL and wraps it with the exchange's single hot
// wallet key used to sign outbound withdrawals.
func NewEVMNode(rpcURL string, hotWalletKeyHex string, chainID int64) (*EVMNode, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm node: %w", err)
	}
	key, err := crypto.HexToECDSA(hotWalletKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse evm hot wallet key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return &EVMNode{
		client:     client,
		hotAddr:    addr,
		privateKey: key,
		chainID:    big.NewInt(chainID),
	}, nil
}

// NewAddress always returns the exchange's single hot address, with index
// -1, on every call; no per-user memo or index is issued, since minting
// fresh EVM accounts would require local key generation.
func (n *EVMNode) NewAddress(ctx context.Context) (string, int, error) {
	return n.hotAddr, -1, nil
}

// BlockHeight returns the chain's current block number.
func (n *EVMNode) BlockHeight(ctx context.Context) (int64, error) {
	height, err := n.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return int64(height), nil
}

// Send signs and broadcasts a native-token transfer of amountAtomic wei to
// address from the hot wallet.
func (n *EVMNode) Send(ctx context.Context, address string, amountAtomic string) (string, error) {
	amount, ok := new(big.Int).SetString(amountAtomic, 10)
	if !ok {
		return "", fmt.Errorf("invalid evm amount %q", amountAtomic)
	}

	fromAddr := crypto.PubkeyToAddress(n.privateKey.PublicKey)
	nonce, err := n.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch gas price: %w", err)
	}

	to := common.HexToAddress(address)
	tx := types.NewTransaction(nonce, to, amount, 21000, gasPrice, nil)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(n.chainID), n.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := n.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Transfers is not implemented for EVM and always returns an error, so the
// deposit sync loop credits no EVM deposits. This adapter variant covers
// address issuance, chain height and signed outbound transfers only.
func (n *EVMNode) Transfers(ctx context.Context, sinceCursor string) ([]Transfer, error) {
	return nil, fmt.Errorf("evm: transfer listing not supported by this adapter")
}

var _ Node = (*EVMNode)(nil)
