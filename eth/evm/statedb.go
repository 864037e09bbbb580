package evm

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

var _ vm.StateDB = (*stateSession)(nil)

// stateSession implements vm.StateDB for a single execution. Reads go through
// the layered storage at the session's point in time; writes stay in the
// session journal, which records the original and modified value of every
// touched field so the execution's changes can be checked for conflicts and
// committed later.
type stateSession struct {
	store       *storage.StratusStorage
	pointInTime primitives.PointInTime
	codeCache   *lru.Cache[common.Hash, []byte]

	accounts  map[common.Address]*sessionAccount
	logs      []*types.Log
	refund    uint64
	transient map[common.Address]map[common.Hash]common.Hash

	accessAddresses map[common.Address]struct{}
	accessSlots     map[common.Address]map[common.Hash]struct{}

	snapshots []*sessionSnapshot
}

type sessionAccount struct {
	original *primitives.Account

	nonce    uint64
	balance  *uint256.Int
	code     []byte
	codeHash common.Hash

	nonceWritten   bool
	balanceWritten bool
	codeWritten    bool
	created        bool
	selfdestructed bool

	slots map[common.Hash]*sessionSlot
}

type sessionSlot struct {
	original common.Hash
	current  common.Hash
	written  bool
}

type sessionSnapshot struct {
	accounts  map[common.Address]*sessionAccount
	logCount  int
	refund    uint64
	transient map[common.Address]map[common.Hash]common.Hash
}

func newStateSession(store *storage.StratusStorage, pointInTime primitives.PointInTime, codeCache *lru.Cache[common.Hash, []byte]) *stateSession {
	return &stateSession{
		store:           store,
		pointInTime:     pointInTime,
		codeCache:       codeCache,
		accounts:        make(map[common.Address]*sessionAccount),
		transient:       make(map[common.Address]map[common.Hash]common.Hash),
		accessAddresses: make(map[common.Address]struct{}),
		accessSlots:     make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (s *stateSession) account(address common.Address) *sessionAccount {
	if account, ok := s.accounts[address]; ok {
		return account
	}

	original, err := s.store.ReadAccount(address, s.pointInTime)
	if err != nil {
		// vm.StateDB offers no error channel; a read failure here means the
		// backing store is gone, which the worker surfaces as a panic-derived
		// execution error.
		panic(err)
	}

	account := &sessionAccount{
		original: original,
		nonce:    original.Nonce,
		balance:  original.Balance.Clone(),
		code:     original.Bytecode,
		codeHash: original.CodeHash,
		slots:    make(map[common.Hash]*sessionSlot),
	}
	if len(account.code) > 0 {
		s.codeCache.Add(account.codeHash, account.code)
	}
	s.accounts[address] = account
	return account
}

func (s *stateSession) slot(address common.Address, index common.Hash) *sessionSlot {
	account := s.account(address)
	if cell, ok := account.slots[index]; ok {
		return cell
	}

	stored, err := s.store.ReadSlot(address, index, s.pointInTime)
	if err != nil {
		panic(err)
	}
	cell := &sessionSlot{original: stored.Value, current: stored.Value}
	account.slots[index] = cell
	return cell
}

// ---------------------------------------------------------------------------
// vm.StateDB: accounts
// ---------------------------------------------------------------------------

func (s *stateSession) CreateAccount(address common.Address) {
	account := s.account(address)
	account.created = true
	account.nonce = 0
	account.nonceWritten = true
}

func (s *stateSession) SubBalance(address common.Address, amount *big.Int) {
	account := s.account(address)
	delta, _ := uint256.FromBig(amount)
	account.balance = new(uint256.Int).Sub(account.balance, delta)
	account.balanceWritten = true
}

func (s *stateSession) AddBalance(address common.Address, amount *big.Int) {
	account := s.account(address)
	delta, _ := uint256.FromBig(amount)
	account.balance = new(uint256.Int).Add(account.balance, delta)
	account.balanceWritten = true
}

func (s *stateSession) GetBalance(address common.Address) *big.Int {
	return s.account(address).balance.ToBig()
}

func (s *stateSession) GetNonce(address common.Address) uint64 {
	return s.account(address).nonce
}

func (s *stateSession) SetNonce(address common.Address, nonce uint64) {
	account := s.account(address)
	account.nonce = nonce
	account.nonceWritten = true
}

func (s *stateSession) GetCodeHash(address common.Address) common.Hash {
	account := s.account(address)
	if s.isEmpty(account) {
		return common.Hash{}
	}
	return account.codeHash
}

func (s *stateSession) GetCode(address common.Address) []byte {
	account := s.account(address)
	if account.code == nil && account.codeHash != types.EmptyCodeHash && account.codeHash != (common.Hash{}) {
		if code, ok := s.codeCache.Get(account.codeHash); ok {
			account.code = code
		}
	}
	return account.code
}

func (s *stateSession) SetCode(address common.Address, code []byte) {
	account := s.account(address)
	account.code = append([]byte(nil), code...)
	account.codeHash = crypto.Keccak256Hash(code)
	account.codeWritten = true
	s.codeCache.Add(account.codeHash, account.code)
}

func (s *stateSession) GetCodeSize(address common.Address) int {
	return len(s.GetCode(address))
}

// ---------------------------------------------------------------------------
// vm.StateDB: refunds
// ---------------------------------------------------------------------------

func (s *stateSession) AddRefund(gas uint64) {
	s.refund += gas
}

func (s *stateSession) SubRefund(gas uint64) {
	if gas > s.refund {
		panic("refund counter below zero")
	}
	s.refund -= gas
}

func (s *stateSession) GetRefund() uint64 {
	return s.refund
}

// ---------------------------------------------------------------------------
// vm.StateDB: storage
// ---------------------------------------------------------------------------

func (s *stateSession) GetCommittedState(address common.Address, index common.Hash) common.Hash {
	return s.slot(address, index).original
}

func (s *stateSession) GetState(address common.Address, index common.Hash) common.Hash {
	return s.slot(address, index).current
}

func (s *stateSession) SetState(address common.Address, index common.Hash, value common.Hash) {
	cell := s.slot(address, index)
	cell.current = value
	cell.written = true
}

func (s *stateSession) GetTransientState(address common.Address, index common.Hash) common.Hash {
	return s.transient[address][index]
}

func (s *stateSession) SetTransientState(address common.Address, index, value common.Hash) {
	slots, ok := s.transient[address]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.transient[address] = slots
	}
	slots[index] = value
}

// ---------------------------------------------------------------------------
// vm.StateDB: lifecycle
// ---------------------------------------------------------------------------

func (s *stateSession) SelfDestruct(address common.Address) {
	account := s.account(address)
	account.selfdestructed = true
	account.balance = uint256.NewInt(0)
	account.balanceWritten = true
}

func (s *stateSession) HasSelfDestructed(address common.Address) bool {
	return s.account(address).selfdestructed
}

func (s *stateSession) Selfdestruct6780(address common.Address) {
	account := s.account(address)
	if account.created {
		s.SelfDestruct(address)
	}
}

func (s *stateSession) Exist(address common.Address) bool {
	account := s.account(address)
	return account.created || !s.isEmpty(account)
}

func (s *stateSession) Empty(address common.Address) bool {
	return s.isEmpty(s.account(address))
}

func (s *stateSession) isEmpty(account *sessionAccount) bool {
	return account.nonce == 0 && account.balance.IsZero() && len(account.code) == 0
}

// ---------------------------------------------------------------------------
// vm.StateDB: access lists
// ---------------------------------------------------------------------------

func (s *stateSession) AddressInAccessList(address common.Address) bool {
	_, ok := s.accessAddresses[address]
	return ok
}

func (s *stateSession) SlotInAccessList(address common.Address, index common.Hash) (bool, bool) {
	_, addressOk := s.accessAddresses[address]
	_, slotOk := s.accessSlots[address][index]
	return addressOk, slotOk
}

func (s *stateSession) AddAddressToAccessList(address common.Address) {
	s.accessAddresses[address] = struct{}{}
}

func (s *stateSession) AddSlotToAccessList(address common.Address, index common.Hash) {
	s.accessAddresses[address] = struct{}{}
	slots, ok := s.accessSlots[address]
	if !ok {
		slots = make(map[common.Hash]struct{})
		s.accessSlots[address] = slots
	}
	slots[index] = struct{}{}
}

func (s *stateSession) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if !rules.IsBerlin {
		return
	}
	s.AddAddressToAccessList(sender)
	if dest != nil {
		s.AddAddressToAccessList(*dest)
	}
	for _, precompile := range precompiles {
		s.AddAddressToAccessList(precompile)
	}
	for _, access := range txAccesses {
		s.AddAddressToAccessList(access.Address)
		for _, key := range access.StorageKeys {
			s.AddSlotToAccessList(access.Address, key)
		}
	}
	if rules.IsShanghai {
		s.AddAddressToAccessList(coinbase)
	}
}

// ---------------------------------------------------------------------------
// vm.StateDB: snapshots
// ---------------------------------------------------------------------------

func (s *stateSession) Snapshot() int {
	clone := &sessionSnapshot{
		accounts:  make(map[common.Address]*sessionAccount, len(s.accounts)),
		logCount:  len(s.logs),
		refund:    s.refund,
		transient: make(map[common.Address]map[common.Hash]common.Hash, len(s.transient)),
	}
	for address, account := range s.accounts {
		clone.accounts[address] = account.clone()
	}
	for address, slots := range s.transient {
		copied := make(map[common.Hash]common.Hash, len(slots))
		for index, value := range slots {
			copied[index] = value
		}
		clone.transient[address] = copied
	}
	s.snapshots = append(s.snapshots, clone)
	return len(s.snapshots) - 1
}

func (s *stateSession) RevertToSnapshot(id int) {
	clone := s.snapshots[id]
	s.snapshots = s.snapshots[:id]

	s.accounts = make(map[common.Address]*sessionAccount, len(clone.accounts))
	for address, account := range clone.accounts {
		s.accounts[address] = account.clone()
	}
	s.logs = s.logs[:clone.logCount]
	s.refund = clone.refund
	s.transient = make(map[common.Address]map[common.Hash]common.Hash, len(clone.transient))
	for address, slots := range clone.transient {
		copied := make(map[common.Hash]common.Hash, len(slots))
		for index, value := range slots {
			copied[index] = value
		}
		s.transient[address] = copied
	}
}

func (a *sessionAccount) clone() *sessionAccount {
	copied := *a
	copied.balance = a.balance.Clone()
	copied.slots = make(map[common.Hash]*sessionSlot, len(a.slots))
	for index, cell := range a.slots {
		cellCopy := *cell
		copied.slots[index] = &cellCopy
	}
	return &copied
}

// ---------------------------------------------------------------------------
// vm.StateDB: logs and preimages
// ---------------------------------------------------------------------------

func (s *stateSession) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

func (s *stateSession) AddPreimage(common.Hash, []byte) {}

// ---------------------------------------------------------------------------
// Journal extraction
// ---------------------------------------------------------------------------

// Logs returns the logs emitted by the execution.
func (s *stateSession) Logs() []*types.Log {
	return s.logs
}

// Changes assembles the execution's state deltas: one change set per touched
// account, every entry carrying the original value read at session start and
// the final modified value.
func (s *stateSession) Changes() []*primitives.ExecutionAccountChanges {
	var changes []*primitives.ExecutionAccountChanges
	for address, account := range s.accounts {
		change := primitives.NewExecutionAccountChanges(address)
		change.Created = account.created
		dirty := false

		if account.nonceWritten && account.nonce != account.original.Nonce {
			change.Nonce = primitives.Changed(account.original.Nonce, account.nonce)
			dirty = true
		}
		if account.balanceWritten && !account.balance.Eq(account.original.Balance) {
			change.Balance = primitives.Changed(account.original.Balance.Clone(), account.balance.Clone())
			dirty = true
		}
		if account.codeWritten {
			change.Bytecode = primitives.Changed(account.original.Bytecode, account.code)
			dirty = true
		}
		var staticIndexes, mappingIndexes []common.Hash
		for index, cell := range account.slots {
			if cell.written && cell.current != cell.original {
				change.Slots[index] = primitives.Changed(cell.original, cell.current)
				dirty = true
				if isStaticSlotIndex(index) {
					staticIndexes = append(staticIndexes, index)
				} else {
					mappingIndexes = append(mappingIndexes, index)
				}
			}
		}
		if len(staticIndexes) > 0 {
			change.StaticSlotIndexes = primitives.Changed(
				account.original.StaticSlotIndexes,
				unionSlotIndexes(account.original.StaticSlotIndexes, staticIndexes),
			)
		}
		if len(mappingIndexes) > 0 {
			change.MappingSlotIndexes = primitives.Changed(
				account.original.MappingSlotIndexes,
				unionSlotIndexes(account.original.MappingSlotIndexes, mappingIndexes),
			)
		}

		if dirty {
			changes = append(changes, change)
		}
	}
	return changes
}

// isStaticSlotIndex reports whether the index addresses the contract's static
// layout area. Static variables live at small consecutive indexes; mapping
// and dynamic-array content lives at keccak-derived positions, which in
// practice never carry an all-zero prefix.
func isStaticSlotIndex(index common.Hash) bool {
	for _, b := range index[:common.HashLength-8] {
		if b != 0 {
			return false
		}
	}
	return true
}

func unionSlotIndexes(existing mapset.Set[common.Hash], indexes []common.Hash) mapset.Set[common.Hash] {
	union := mapset.NewSet[common.Hash]()
	if existing != nil {
		union = existing.Clone()
	}
	for _, index := range indexes {
		union.Add(index)
	}
	return union
}
