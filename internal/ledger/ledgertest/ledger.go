// Package ledgertest provides an in-memory ledger that executes the token,
// associated token account, system and compute budget instructions the
// settlement core emits. Transactions are atomic, signatures are verified
// and rejected transactions surface as node errors, which makes it suitable
// for asserting conservation properties end to end.
package ledgertest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/condvault/internal/ledger"
)

const lamportsPerByteYear = 3480

// rpc error code the node uses for failed preflight simulation.
const codePreflightFailure = -32002

// Ledger is a single-node, instantly finalising ledger.
type Ledger struct {
	mu          sync.Mutex
	accounts    map[common.PublicKey]ledger.Account
	blockhashes map[string]bool
	statuses    map[string]*ledger.SignatureStatus
	slot        uint64

	// Commitment reported for landed transactions. Defaults to finalized.
	Commitment ledger.Commitment
	// PriorityFees is returned from RecentPrioritizationFees.
	PriorityFees []uint64
	// PriorityFeesErr, when set, is returned instead of PriorityFees.
	PriorityFeesErr error
	// UnitsPerInstruction drives simulated compute consumption.
	UnitsPerInstruction uint64
	// SimulateErr, when set, makes every simulation fail at the RPC layer.
	SimulateErr error

	transportFailures int
	sent              []types.Transaction
}

var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts:            make(map[common.PublicKey]ledger.Account),
		blockhashes:         make(map[string]bool),
		statuses:            make(map[string]*ledger.SignatureStatus),
		Commitment:          ledger.CommitmentFinalized,
		UnitsPerInstruction: 5_000,
	}
}

// FailNextSends makes the next n SendTransaction calls fail with a
// transport error before reaching the ledger.
func (l *Ledger) FailNextSends(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transportFailures = n
}

// Sent returns every transaction that landed, in order.
func (l *Ledger) Sent() []types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Transaction, len(l.sent))
	copy(out, l.sent)
	return out
}

// Airdrop credits lamports to a system account.
func (l *Ledger) Airdrop(to common.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[to]
	if !acc.Exists {
		acc = ledger.Account{Exists: true, Owner: common.SystemProgramID}
	}
	acc.Lamports += lamports
	l.accounts[to] = acc
}

// CreateMint installs an initialised mint directly.
func (l *Ledger) CreateMint(authority common.PublicKey, decimals uint8) common.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	mint := types.NewAccount().PublicKey
	l.accounts[mint] = ledger.Account{
		Exists:   true,
		Lamports: rentFor(mintSize),
		Owner:    common.TokenProgramID,
		Data:     encodeMint(mintState{authority: &authority, decimals: decimals, initialized: true}),
	}
	return mint
}

// MintTokens credits amount of mint to owner's associated account, creating
// it if necessary, and bumps the supply.
func (l *Ledger) MintTokens(mint, owner common.PublicKey, amount uint64) common.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	ata, _, err := common.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	st := l.cloneState()
	if _, ok := st[ata]; !ok {
		st[ata] = ledger.Account{
			Exists:   true,
			Lamports: rentFor(tokenAccountSize),
			Owner:    common.TokenProgramID,
			Data:     encodeTokenAccount(tokenAccountState{mint: mint, owner: owner}),
		}
	}
	if err := mintTo(st, mint, ata, amount); err != nil {
		panic(err)
	}
	l.accounts = st
	return ata
}

// TokenBalance returns the raw amount held by a token account, zero if it
// does not exist.
func (l *Ledger) TokenBalance(addr common.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok || acc.Owner != common.TokenProgramID || len(acc.Data) != tokenAccountSize {
		return 0
	}
	return decodeTokenAccount(acc.Data).amount
}

// OwnerBalance returns owner's associated account balance for mint.
func (l *Ledger) OwnerBalance(owner, mint common.PublicKey) uint64 {
	ata, _, err := common.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0
	}
	return l.TokenBalance(ata)
}

// MintSupply returns the supply of mint.
func (l *Ledger) MintSupply(mint common.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[mint]
	if !ok || len(acc.Data) != mintSize {
		return 0
	}
	return decodeMint(acc.Data).supply
}

// MintAuthority returns the mint authority of mint, nil once revoked.
func (l *Ledger) MintAuthority(mint common.PublicKey) *common.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[mint]
	if !ok || len(acc.Data) != mintSize {
		return nil
	}
	return decodeMint(acc.Data).authority
}

// Exists reports whether addr holds an account.
func (l *Ledger) Exists(addr common.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[addr]
	return ok
}

// Lamports returns the lamport balance of addr.
func (l *Ledger) Lamports(addr common.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[addr].Lamports
}

// --- ledger.Client ---

func (l *Ledger) LatestBlockhash(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	h := base58.Encode(b[:])
	l.blockhashes[h] = true
	return h, nil
}

func (l *Ledger) GetAccount(_ context.Context, addr common.PublicKey) (ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return ledger.Account{}, nil
	}
	acc.Data = append([]byte(nil), acc.Data...)
	return acc, nil
}

func (l *Ledger) MinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return rentFor(int(size)), nil
}

func (l *Ledger) SimulateTransaction(_ context.Context, tx types.Transaction) (ledger.Simulation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SimulateErr != nil {
		return ledger.Simulation{}, l.SimulateErr
	}
	ixs, err := ledger.Decompile(tx.Message)
	if err != nil {
		return ledger.Simulation{}, &ledger.RPCError{Code: -32602, Message: err.Error()}
	}
	sim := ledger.Simulation{UnitsConsumed: l.UnitsPerInstruction * uint64(len(ixs))}
	// Simulation runs without signature checks.
	if _, err := l.apply(l.cloneState(), ixs); err != nil {
		sim.Err = err.Error()
	}
	return sim, nil
}

func (l *Ledger) SendTransaction(_ context.Context, tx types.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transportFailures > 0 {
		l.transportFailures--
		return "", fmt.Errorf("%w: connection reset by peer", ledger.ErrTransport)
	}
	sig, err := l.verify(tx)
	if err != nil {
		return "", &ledger.RPCError{Code: codePreflightFailure, Message: err.Error()}
	}
	if _, seen := l.statuses[sig]; seen {
		return "", &ledger.RPCError{Code: codePreflightFailure, Message: "Transaction simulation failed: This transaction has already been processed"}
	}
	ixs, err := ledger.Decompile(tx.Message)
	if err != nil {
		return "", &ledger.RPCError{Code: -32602, Message: err.Error()}
	}
	st, err := l.apply(l.cloneState(), ixs)
	if err != nil {
		return "", &ledger.RPCError{Code: codePreflightFailure, Message: "Transaction simulation failed: " + err.Error()}
	}
	l.accounts = st
	l.slot++
	l.statuses[sig] = &ledger.SignatureStatus{Slot: l.slot, ConfirmationStatus: l.Commitment}
	l.sent = append(l.sent, tx)
	return sig, nil
}

func (l *Ledger) SignatureStatuses(_ context.Context, signatures []string) ([]*ledger.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ledger.SignatureStatus, len(signatures))
	for i, s := range signatures {
		if st, ok := l.statuses[s]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

func (l *Ledger) RecentPrioritizationFees(_ context.Context, _ []common.PublicKey) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.PriorityFeesErr != nil {
		return nil, l.PriorityFeesErr
	}
	return append([]uint64(nil), l.PriorityFees...), nil
}

// SetConfirmation changes the reported commitment of a landed signature.
func (l *Ledger) SetConfirmation(sig string, c ledger.Commitment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.statuses[sig]; ok {
		st.ConfirmationStatus = c
	}
}

// --- execution ---

func (l *Ledger) verify(tx types.Transaction) (string, error) {
	msg := tx.Message
	if !l.blockhashes[msg.RecentBlockHash] {
		return "", fmt.Errorf("Blockhash not found")
	}
	n := int(msg.Header.NumRequireSignatures)
	if n == 0 || len(tx.Signatures) != n || len(msg.Accounts) < n {
		return "", fmt.Errorf("invalid signature count")
	}
	data, err := msg.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize message: %v", err)
	}
	for i := 0; i < n; i++ {
		if !ed25519.Verify(msg.Accounts[i].Bytes(), data, tx.Signatures[i]) {
			return "", fmt.Errorf("signature verification failed for %s", msg.Accounts[i].ToBase58())
		}
	}
	return base58.Encode(tx.Signatures[0]), nil
}

type state map[common.PublicKey]ledger.Account

func (l *Ledger) cloneState() state {
	st := make(state, len(l.accounts))
	for k, v := range l.accounts {
		v.Data = append([]byte(nil), v.Data...)
		st[k] = v
	}
	return st
}

func (l *Ledger) apply(st state, ixs []types.Instruction) (state, error) {
	for i, ix := range ixs {
		var err error
		switch ix.ProgramID {
		case common.ComputeBudgetProgramID:
		case common.SystemProgramID:
			err = applySystem(st, ix)
		case common.SPLAssociatedTokenAccountProgramID:
			err = applyAssociated(st, ix)
		case common.TokenProgramID:
			err = applyToken(st, ix)
		default:
			err = fmt.Errorf("unsupported program %s", ix.ProgramID.ToBase58())
		}
		if err != nil {
			return nil, fmt.Errorf("Error processing Instruction %d: %w", i, err)
		}
	}
	return st, nil
}

func applySystem(st state, ix types.Instruction) error {
	if len(ix.Data) < 4 || binary.LittleEndian.Uint32(ix.Data[:4]) != 0 {
		return fmt.Errorf("unsupported system instruction")
	}
	if len(ix.Data) < 52 || len(ix.Accounts) < 2 {
		return fmt.Errorf("invalid create account instruction")
	}
	lamports := binary.LittleEndian.Uint64(ix.Data[4:12])
	space := binary.LittleEndian.Uint64(ix.Data[12:20])
	owner := common.PublicKeyFromBytes(ix.Data[20:52])
	from, to := ix.Accounts[0], ix.Accounts[1]
	if !from.IsSigner || !to.IsSigner {
		return fmt.Errorf("missing required signature for instruction")
	}
	if _, ok := st[to.PubKey]; ok {
		return fmt.Errorf("account %s already in use", to.PubKey.ToBase58())
	}
	if err := debit(st, from.PubKey, lamports); err != nil {
		return err
	}
	st[to.PubKey] = ledger.Account{Exists: true, Lamports: lamports, Owner: owner, Data: make([]byte, space)}
	return nil
}

func applyAssociated(st state, ix types.Instruction) error {
	idempotent := len(ix.Data) > 0 && ix.Data[0] == 1
	if len(ix.Accounts) < 6 {
		return fmt.Errorf("invalid associated account instruction")
	}
	funder, ata, owner, mint := ix.Accounts[0], ix.Accounts[1].PubKey, ix.Accounts[2].PubKey, ix.Accounts[3].PubKey
	want, _, err := common.FindAssociatedTokenAddress(owner, mint)
	if err != nil || want != ata {
		return fmt.Errorf("invalid seeds for associated token account")
	}
	if existing, ok := st[ata]; ok {
		if !idempotent {
			return fmt.Errorf("associated token account already exists")
		}
		ta := decodeTokenAccount(existing.Data)
		if ta.owner != owner || ta.mint != mint {
			return fmt.Errorf("associated token account owner mismatch")
		}
		return nil
	}
	if !funder.IsSigner {
		return fmt.Errorf("missing required signature for instruction")
	}
	if m, ok := st[mint]; !ok || len(m.Data) != mintSize || !decodeMint(m.Data).initialized {
		return fmt.Errorf("invalid mint %s", mint.ToBase58())
	}
	rent := rentFor(tokenAccountSize)
	if err := debit(st, funder.PubKey, rent); err != nil {
		return err
	}
	st[ata] = ledger.Account{
		Exists:   true,
		Lamports: rent,
		Owner:    common.TokenProgramID,
		Data:     encodeTokenAccount(tokenAccountState{mint: mint, owner: owner}),
	}
	return nil
}

func applyToken(st state, ix types.Instruction) error {
	if len(ix.Data) == 0 {
		return fmt.Errorf("invalid instruction data")
	}
	signed := func(i int) bool { return i < len(ix.Accounts) && ix.Accounts[i].IsSigner }
	key := func(i int) common.PublicKey { return ix.Accounts[i].PubKey }
	amount := func() uint64 { return binary.LittleEndian.Uint64(ix.Data[1:9]) }

	switch ix.Data[0] {
	case 20: // InitializeMint2
		if len(ix.Data) < 34 || len(ix.Accounts) < 1 {
			return fmt.Errorf("invalid instruction data")
		}
		acc, ok := st[key(0)]
		if !ok || acc.Owner != common.TokenProgramID || len(acc.Data) != mintSize {
			return fmt.Errorf("invalid account data for instruction")
		}
		if decodeMint(acc.Data).initialized {
			return fmt.Errorf("mint already initialized")
		}
		auth := common.PublicKeyFromBytes(ix.Data[2:34])
		acc.Data = encodeMint(mintState{authority: &auth, decimals: ix.Data[1], initialized: true})
		st[key(0)] = acc
		return nil

	case 7: // MintTo
		if len(ix.Data) < 9 || len(ix.Accounts) < 3 {
			return fmt.Errorf("invalid instruction data")
		}
		mintAcc, ok := st[key(0)]
		if !ok || len(mintAcc.Data) != mintSize {
			return fmt.Errorf("invalid mint")
		}
		m := decodeMint(mintAcc.Data)
		if m.authority == nil {
			return fmt.Errorf("the mint has no mint authority")
		}
		if *m.authority != key(2) || !signed(2) {
			return fmt.Errorf("owner does not match")
		}
		return mintTo(st, key(0), key(1), amount())

	case 8: // Burn
		if len(ix.Data) < 9 || len(ix.Accounts) < 3 {
			return fmt.Errorf("invalid instruction data")
		}
		src, err := tokenAccount(st, key(0))
		if err != nil {
			return err
		}
		if src.mint != key(1) {
			return fmt.Errorf("account not associated with this mint")
		}
		if src.owner != key(2) || !signed(2) {
			return fmt.Errorf("owner does not match")
		}
		amt := amount()
		if src.amount < amt {
			return fmt.Errorf("insufficient funds")
		}
		mintAcc := st[key(1)]
		m := decodeMint(mintAcc.Data)
		m.supply -= amt
		mintAcc.Data = encodeMint(m)
		st[key(1)] = mintAcc
		src.amount -= amt
		putTokenAccount(st, key(0), src)
		return nil

	case 3: // Transfer
		if len(ix.Data) < 9 || len(ix.Accounts) < 3 {
			return fmt.Errorf("invalid instruction data")
		}
		src, err := tokenAccount(st, key(0))
		if err != nil {
			return err
		}
		dst, err := tokenAccount(st, key(1))
		if err != nil {
			return err
		}
		if src.mint != dst.mint {
			return fmt.Errorf("account not associated with this mint")
		}
		if src.owner != key(2) || !signed(2) {
			return fmt.Errorf("owner does not match")
		}
		amt := amount()
		if src.amount < amt {
			return fmt.Errorf("insufficient funds")
		}
		src.amount -= amt
		putTokenAccount(st, key(0), src)
		dst, _ = tokenAccount(st, key(1))
		dst.amount += amt
		putTokenAccount(st, key(1), dst)
		return nil

	case 9: // CloseAccount
		if len(ix.Accounts) < 3 {
			return fmt.Errorf("invalid instruction data")
		}
		src, err := tokenAccount(st, key(0))
		if err != nil {
			return err
		}
		if src.amount != 0 {
			return fmt.Errorf("non-native account can only be closed if its balance is zero")
		}
		if src.owner != key(2) || !signed(2) {
			return fmt.Errorf("owner does not match")
		}
		lamports := st[key(0)].Lamports
		delete(st, key(0))
		dest := st[key(1)]
		if !dest.Exists {
			dest = ledger.Account{Exists: true, Owner: common.SystemProgramID}
		}
		dest.Lamports += lamports
		st[key(1)] = dest
		return nil

	case 6: // SetAuthority
		if len(ix.Data) < 3 || len(ix.Accounts) < 2 {
			return fmt.Errorf("invalid instruction data")
		}
		if ix.Data[1] != 0 {
			return fmt.Errorf("unsupported authority type %d", ix.Data[1])
		}
		mintAcc, ok := st[key(0)]
		if !ok || len(mintAcc.Data) != mintSize {
			return fmt.Errorf("invalid mint")
		}
		m := decodeMint(mintAcc.Data)
		if m.authority == nil {
			return fmt.Errorf("the mint has no mint authority")
		}
		if *m.authority != key(1) || !signed(1) {
			return fmt.Errorf("owner does not match")
		}
		if ix.Data[2] == 1 && len(ix.Data) >= 35 {
			na := common.PublicKeyFromBytes(ix.Data[3:35])
			m.authority = &na
		} else {
			m.authority = nil
		}
		mintAcc.Data = encodeMint(m)
		st[key(0)] = mintAcc
		return nil

	default:
		return fmt.Errorf("unsupported token instruction %d", ix.Data[0])
	}
}

func mintTo(st state, mint, to common.PublicKey, amount uint64) error {
	dst, err := tokenAccount(st, to)
	if err != nil {
		return err
	}
	if dst.mint != mint {
		return fmt.Errorf("account not associated with this mint")
	}
	mintAcc := st[mint]
	m := decodeMint(mintAcc.Data)
	if m.supply+amount < m.supply {
		return fmt.Errorf("operation overflowed")
	}
	m.supply += amount
	mintAcc.Data = encodeMint(m)
	st[mint] = mintAcc
	dst.amount += amount
	putTokenAccount(st, to, dst)
	return nil
}

func tokenAccount(st state, addr common.PublicKey) (tokenAccountState, error) {
	acc, ok := st[addr]
	if !ok {
		return tokenAccountState{}, fmt.Errorf("invalid account %s: not found", addr.ToBase58())
	}
	if acc.Owner != common.TokenProgramID || len(acc.Data) != tokenAccountSize {
		return tokenAccountState{}, fmt.Errorf("invalid account %s: not a token account", addr.ToBase58())
	}
	return decodeTokenAccount(acc.Data), nil
}

func putTokenAccount(st state, addr common.PublicKey, ta tokenAccountState) {
	acc := st[addr]
	acc.Data = encodeTokenAccount(ta)
	st[addr] = acc
}

func debit(st state, from common.PublicKey, lamports uint64) error {
	acc := st[from]
	if acc.Lamports < lamports {
		return fmt.Errorf("insufficient lamports %d, need %d", acc.Lamports, lamports)
	}
	acc.Lamports -= lamports
	st[from] = acc
	return nil
}

func rentFor(size int) uint64 {
	return uint64(size+128) * lamportsPerByteYear * 2
}
