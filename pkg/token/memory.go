package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryPaymentToken is an in-process ERC-20 style ledger.
type MemoryPaymentToken struct {
	address common.Address
	symbol  string

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// NewMemoryPaymentToken creates an empty token at the given address.
func NewMemoryPaymentToken(address common.Address, symbol string) *MemoryPaymentToken {
	return &MemoryPaymentToken{
		address:    address,
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

// Address returns the token contract address.
func (t *MemoryPaymentToken) Address() common.Address {
	return t.address
}

// Symbol returns the ticker.
func (t *MemoryPaymentToken) Symbol() string {
	return t.symbol
}

// Mint credits amount to an account.
func (t *MemoryPaymentToken) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("mint negative amount %s", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (t *MemoryPaymentToken) Approve(owner common.Address, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("approve negative amount %s", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// TotalSupply returns the minted supply.
func (t *MemoryPaymentToken) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

// BalanceOf implements PaymentToken.
func (t *MemoryPaymentToken) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner)), nil
}

// Allowance implements PaymentToken.
func (t *MemoryPaymentToken) Allowance(_ context.Context, owner common.Address, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender)), nil
}

// TransferFrom implements PaymentToken.
func (t *MemoryPaymentToken) TransferFrom(
	_ context.Context,
	spender common.Address,
	from common.Address,
	to common.Address,
	amount *big.Int,
) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if t.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, t.balanceLocked(from), amount)
	}

	if t.allowances[from] == nil {
		t.allowances[from] = make(map[common.Address]*big.Int)
	}
	t.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	t.debit(from, amount)
	t.credit(to, amount)
	return nil
}

// Transfer implements PaymentToken.
func (t *MemoryPaymentToken) Transfer(_ context.Context, from common.Address, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, t.balanceLocked(from), amount)
	}

	t.debit(from, amount)
	t.credit(to, amount)
	return nil
}

// BatchTransfer implements BatchTransferer. Either every transfer lands or none does.
func (t *MemoryPaymentToken) BatchTransfer(
	_ context.Context,
	from common.Address,
	recipients []common.Address,
	amounts []*big.Int,
) error {
	if len(recipients) != len(amounts) {
		return fmt.Errorf("batch length mismatch: %d recipients, %d amounts", len(recipients), len(amounts))
	}

	total := new(big.Int)
	for i, to := range recipients {
		if to == (common.Address{}) {
			return fmt.Errorf("recipient %d: %w", i, ErrInvalidRecipient)
		}
		total.Add(total, amounts[i])
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balanceLocked(from).Cmp(total) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, t.balanceLocked(from), total)
	}

	for i, to := range recipients {
		t.debit(from, amounts[i])
		t.credit(to, amounts[i])
	}
	return nil
}

func (t *MemoryPaymentToken) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *MemoryPaymentToken) allowanceLocked(owner common.Address, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (t *MemoryPaymentToken) credit(to common.Address, amount *big.Int) {
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
}

func (t *MemoryPaymentToken) debit(from common.Address, amount *big.Int) {
	t.balances[from] = new(big.Int).Sub(t.balanceLocked(from), amount)
}

// MemorySlotToken is an in-process ERC-5489 style hyperlink NFT: each token
// carries one content URI per approved operator.
type MemorySlotToken struct {
	address common.Address

	mu        sync.RWMutex
	nextID    uint64
	owners    map[uint64]common.Address
	tokenURIs map[uint64]string
	operators map[common.Address]map[common.Address]bool
	slotURIs  map[uint64]map[common.Address]string
}

// NewMemorySlotToken creates an empty slot token collection.
func NewMemorySlotToken(address common.Address) *MemorySlotToken {
	return &MemorySlotToken{
		address:   address,
		nextID:    1,
		owners:    make(map[uint64]common.Address),
		tokenURIs: make(map[uint64]string),
		operators: make(map[common.Address]map[common.Address]bool),
		slotURIs:  make(map[uint64]map[common.Address]string),
	}
}

// Address returns the collection contract address.
func (s *MemorySlotToken) Address() common.Address {
	return s.address
}

// Mint creates the next token for owner and returns its id. Ids start at 1.
func (s *MemorySlotToken) Mint(owner common.Address, tokenURI string) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, ErrInvalidRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.owners[id] = owner
	s.tokenURIs[id] = tokenURI
	return id, nil
}

// TransferToken moves ownership of a slot. Content set by operators stays.
func (s *MemorySlotToken) TransferToken(from common.Address, to common.Address, slotID uint64) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[slotID]
	if !ok {
		return ErrNonexistentToken
	}
	if owner != from {
		return fmt.Errorf("slot %d is not owned by %s", slotID, from.Hex())
	}
	s.owners[slotID] = to
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's slots.
func (s *MemorySlotToken) SetApprovalForAll(owner common.Address, operator common.Address, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.operators[owner] == nil {
		s.operators[owner] = make(map[common.Address]bool)
	}
	s.operators[owner][operator] = approved
}

// TokenURI returns the metadata URI set at mint time.
func (s *MemorySlotToken) TokenURI(slotID uint64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.owners[slotID]; !ok {
		return "", ErrNonexistentToken
	}
	return s.tokenURIs[slotID], nil
}

// OwnerOf implements SlotToken.
func (s *MemorySlotToken) OwnerOf(_ context.Context, slotID uint64) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[slotID]
	if !ok {
		return common.Address{}, ErrNonexistentToken
	}
	return owner, nil
}

// IsApprovedForAll implements SlotToken.
func (s *MemorySlotToken) IsApprovedForAll(_ context.Context, owner common.Address, operator common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators[owner][operator], nil
}

// SetSlotURI implements SlotToken.
func (s *MemorySlotToken) SetSlotURI(_ context.Context, operator common.Address, slotID uint64, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[slotID]
	if !ok {
		return ErrNonexistentToken
	}
	if !s.operators[owner][operator] {
		return fmt.Errorf("%w: %s for owner %s", ErrNotApproved, operator.Hex(), owner.Hex())
	}

	if s.slotURIs[slotID] == nil {
		s.slotURIs[slotID] = make(map[common.Address]string)
	}
	s.slotURIs[slotID][operator] = uri
	return nil
}

// SlotURI implements SlotToken.
func (s *MemorySlotToken) SlotURI(_ context.Context, slotID uint64, operator common.Address) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.owners[slotID]; !ok {
		return "", ErrNonexistentToken
	}
	return s.slotURIs[slotID][operator], nil
}
