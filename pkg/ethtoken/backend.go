package ethtoken

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/mselser95/slot-auction/pkg/token"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is the subset of *ethclient.Client the collaborators use.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Transactor signs and sends transactions from one key. Sends are
// serialized so nonces are handed out in order.
type Transactor struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	gasLimit       uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// TransactorConfig holds transactor configuration.
type TransactorConfig struct {
	Backend    Backend
	PrivateKey *ecdsa.PrivateKey
	GasLimit   uint64
	// ReceiptTimeout bounds the wait for a receipt. Zero sends without waiting.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Logger         *zap.Logger
}

// NewTransactor creates a transactor.
func NewTransactor(cfg *TransactorConfig) (*Transactor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 200000
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &Transactor{
		backend:        cfg.Backend,
		key:            cfg.PrivateKey,
		from:           crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		gasLimit:       gasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   poll,
		logger:         cfg.Logger,
	}, nil
}

// From returns the sending address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Send signs a call to contract `to` and broadcasts it. When a receipt
// timeout is configured it waits for the receipt and fails on a revert.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte, method string) (hash common.Hash, err error) {
	start := time.Now()
	defer func() {
		TxDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
		TxTotal.WithLabelValues(method, outcome(err)).Inc()
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}

	if t.chainID == nil {
		t.chainID, err = t.backend.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("get chain ID: %w", err)
		}
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), t.gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(t.chainID), t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	err = t.backend.SendTransaction(ctx, signedTx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	hash = signedTx.Hash()
	t.logger.Info("transaction-sent",
		zap.String("method", method),
		zap.String("to", to.Hex()),
		zap.String("tx-hash", hash.Hex()),
		zap.Uint64("nonce", nonce))

	if t.receiptTimeout == 0 {
		return hash, nil
	}

	receipt, err := t.waitForReceipt(ctx, hash)
	if err != nil {
		// The transaction is out; only its receipt can say whether it ran.
		return hash, &token.UnconfirmedError{Ref: hash.Hex(), Err: err}
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: %s %s", ErrReverted, method, hash.Hex())
	}

	t.logger.Debug("transaction-mined",
		zap.String("tx-hash", hash.Hex()),
		zap.Uint64("gas-used", receipt.GasUsed))

	return hash, nil
}

// Status reports how a previously sent transaction settled. A transaction
// with no receipt yet is pending.
func (t *Transactor) Status(ctx context.Context, hash common.Hash) (token.TransferStatus, error) {
	receipt, err := t.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return token.TransferPending, nil
	}
	if err != nil {
		return token.TransferPending, fmt.Errorf("get receipt %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return token.TransferPending, nil
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return token.TransferFailed, nil
	}
	return token.TransferConfirmed, nil
}

func (t *Transactor) waitForReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// call runs a read-only contract method and returns its unpacked outputs.
func call(ctx context.Context, backend Backend, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := backend.CallContract(ctx, msg, nil)
	if err != nil {
		CallErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := parsed.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return out, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrReverted) {
		return "reverted"
	}
	if errors.Is(err, token.ErrUnconfirmed) {
		return "unconfirmed"
	}
	return "error"
}
