package ethtoken

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	erc20Addr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	erc5489Addr = common.HexToAddress("0x0000000000000000000000000000000000005489")
	ownerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bidderAddr  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	otherAddr   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	helperAddr  = common.HexToAddress("0x000000000000000000000000000000000000d15e")
)

type pair [2]common.Address

// fakeChain is an in-process stand-in for a node hosting one ERC-20 and one
// ERC-5489 contract. Transactions are applied when sent.
type fakeChain struct {
	mu sync.Mutex

	chainID    *big.Int
	code       map[common.Address][]byte
	balances   map[common.Address]*big.Int
	allowances map[pair]*big.Int
	owners     map[uint64]common.Address
	approvals  map[pair]bool
	uris       map[string]string
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*ethtypes.Receipt
	// rejects lists accounts whose incoming transfers revert.
	rejects map[common.Address]bool

	sent         []*ethtypes.Transaction
	revertNext   bool
	pendingPolls int
	receiptCalls int
	codeCalls    int
	codeGate     chan struct{}
	callErr      error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:    big.NewInt(31337),
		code:       map[common.Address][]byte{erc20Addr: {0x60, 0x80}, erc5489Addr: {0x60, 0x80}},
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[pair]*big.Int),
		owners:     make(map[uint64]common.Address),
		approvals:  make(map[pair]bool),
		uris:       make(map[string]string),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*ethtypes.Receipt),
		rejects:    make(map[common.Address]bool),
	}
}

func (c *fakeChain) fund(owner common.Address, amount int64, spender common.Address, allowance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[owner] = big.NewInt(amount)
	c.allowances[pair{owner, spender}] = big.NewInt(allowance)
}

func (c *fakeChain) balance(owner common.Address) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(owner).String()
}

func (c *fakeChain) balanceLocked(owner common.Address) *big.Int {
	if b, ok := c.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (c *fakeChain) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := c.allowances[pair{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func uriKey(id uint64, operator common.Address) string {
	return fmt.Sprintf("%d/%s", id, operator.Hex())
}

func lookupMethod(to common.Address, data []byte) (abi.ABI, *abi.Method, []interface{}, error) {
	parsed := erc20ABI
	switch to {
	case erc5489Addr:
		parsed = erc5489ABI
	case helperAddr:
		parsed = disperseABI
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return parsed, nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	return parsed, method, args, err
}

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.callErr != nil {
		return nil, c.callErr
	}

	_, method, args, err := lookupMethod(*msg.To, msg.Data)
	if err != nil {
		return nil, err
	}

	var result interface{}
	switch method.Name {
	case "balanceOf":
		result = c.balanceLocked(args[0].(common.Address))
	case "allowance":
		result = c.allowanceLocked(args[0].(common.Address), args[1].(common.Address))
	case "ownerOf":
		owner, ok := c.owners[args[0].(*big.Int).Uint64()]
		if !ok {
			return nil, errors.New("execution reverted: ERC721: invalid token ID")
		}
		result = owner
	case "isApprovedForAll":
		result = c.approvals[pair{args[0].(common.Address), args[1].(common.Address)}]
	case "getSlotUri":
		result = c.uris[uriKey(args[0].(*big.Int).Uint64(), args[1].(common.Address))]
	default:
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}

	return method.Outputs.Pack(result)
}

func (c *fakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	c.codeCalls++
	gate := c.codeGate
	code := c.code[account]
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return code, nil
}

func (c *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *fakeChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *fakeChain) ChainID(_ context.Context) (*big.Int, error) {
	return c.chainID, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), c.nonces[from])
	}
	c.nonces[from]++
	c.sent = append(c.sent, tx)

	status := ethtypes.ReceiptStatusSuccessful
	if c.revertNext || c.apply(from, *tx.To(), tx.Data()) != nil {
		status = ethtypes.ReceiptStatusFailed
		c.revertNext = false
	}

	c.receipts[tx.Hash()] = &ethtypes.Receipt{Status: status, TxHash: tx.Hash(), GasUsed: 21000}
	return nil
}

func (c *fakeChain) apply(from, to common.Address, data []byte) error {
	_, method, args, err := lookupMethod(to, data)
	if err != nil {
		return err
	}

	move := func(src, dst common.Address, amount *big.Int) error {
		if c.rejects[dst] {
			return errors.New("recipient rejected transfer")
		}
		if c.balanceLocked(src).Cmp(amount) < 0 {
			return errors.New("insufficient balance")
		}
		c.balances[src] = new(big.Int).Sub(c.balanceLocked(src), amount)
		c.balances[dst] = new(big.Int).Add(c.balanceLocked(dst), amount)
		return nil
	}

	switch method.Name {
	case "transfer":
		return move(from, args[0].(common.Address), args[1].(*big.Int))
	case "approve":
		c.allowances[pair{from, args[0].(common.Address)}] = new(big.Int).Set(args[1].(*big.Int))
		return nil
	case "disperseToken":
		recipients, values := args[1].([]common.Address), args[2].([]*big.Int)
		balances := make(map[common.Address]*big.Int, len(c.balances))
		for k, v := range c.balances {
			balances[k] = v
		}
		spent := new(big.Int)
		for i, dst := range recipients {
			spent.Add(spent, values[i])
			err := move(from, dst, values[i])
			if err == nil && c.allowanceLocked(from, to).Cmp(spent) < 0 {
				err = errors.New("insufficient allowance")
			}
			if err != nil {
				c.balances = balances
				return err
			}
		}
		allowance := c.allowanceLocked(from, to)
		c.allowances[pair{from, to}] = new(big.Int).Sub(allowance, spent)
		return nil
	case "transferFrom":
		src, amount := args[0].(common.Address), args[2].(*big.Int)
		allowance := c.allowanceLocked(src, from)
		if allowance.Cmp(amount) < 0 {
			return errors.New("insufficient allowance")
		}
		c.allowances[pair{src, from}] = new(big.Int).Sub(allowance, amount)
		return move(src, args[1].(common.Address), amount)
	case "setSlotUri":
		id := args[0].(*big.Int).Uint64()
		owner := c.owners[id]
		if owner != from && !c.approvals[pair{owner, from}] {
			return errors.New("not approved")
		}
		c.uris[uriKey(id, from)] = args[1].(string)
		return nil
	}
	return fmt.Errorf("unexpected transaction %s", method.Name)
}

func (c *fakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receiptCalls++
	if c.pendingPolls > 0 {
		c.pendingPolls--
		return nil, ethereum.NotFound
	}
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTransactor(t *testing.T, chain *fakeChain, key *ecdsa.PrivateKey, timeout time.Duration) *Transactor {
	t.Helper()
	tr, err := NewTransactor(&TransactorConfig{
		Backend:        chain,
		PrivateKey:     key,
		ReceiptTimeout: timeout,
		PollInterval:   time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return tr
}
