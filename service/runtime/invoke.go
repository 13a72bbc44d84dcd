package runtime

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxInvokeDepth is the deepest instruction stack allowed, counting the
// top-level instruction as depth 1.
const MaxInvokeDepth = 5

// txState is the copy-on-write working set of a transaction. Nothing in it
// reaches the bank until commit.
type txState struct {
	bank    *Bank
	metas   map[solana.PublicKey]*solana.AccountMeta
	working map[solana.PublicKey]*Account
	logs    []string
}

func newTxState(b *Bank, metas []*solana.AccountMeta) *txState {
	s := &txState{
		bank:    b,
		metas:   make(map[solana.PublicKey]*solana.AccountMeta, len(metas)),
		working: make(map[solana.PublicKey]*Account, len(metas)),
	}
	for _, m := range metas {
		s.metas[m.PublicKey] = m
	}
	return s
}

// load returns the working copy of key, materializing an empty system-owned
// account for keys the bank has never seen.
func (s *txState) load(key solana.PublicKey) *Account {
	if acct, ok := s.working[key]; ok {
		return acct
	}
	acct := s.bank.accounts[key].Clone()
	if acct == nil {
		acct = &Account{Owner: solana.SystemProgramID}
	}
	s.working[key] = acct
	return acct
}

func (s *txState) commit() {
	for key, acct := range s.working {
		meta, ok := s.metas[key]
		if !ok || !meta.IsWritable {
			continue
		}
		if acct.IsEmpty() {
			delete(s.bank.accounts, key)
			continue
		}
		s.bank.accounts[key] = acct
	}
}

func (s *txState) log(format string, args ...any) {
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
}

// execute runs one instruction and enforces the account ownership rules on
// its result.
func (s *txState) execute(programID solana.PublicKey, accounts []*solana.AccountMeta, data []byte, depth int) error {
	prog, ok := s.bank.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, programID)
	}

	ctx := &InvokeContext{
		state:     s,
		programID: programID,
		accounts:  accounts,
		depth:     depth,
		pre:       make(map[solana.PublicKey]*Account, len(accounts)),
	}
	for _, m := range accounts {
		if _, seen := ctx.pre[m.PublicKey]; !seen {
			ctx.pre[m.PublicKey] = s.load(m.PublicKey).Clone()
		}
	}

	s.log("Program %s invoke [%d]", programID, depth)
	if err := prog.Execute(ctx, accounts, data); err != nil {
		s.log("Program %s failed: %v", programID, err)
		s.recordInvocation(programID, "failed")
		return err
	}
	if err := ctx.verify(); err != nil {
		s.log("Program %s failed: %v", programID, err)
		s.recordInvocation(programID, "failed")
		return err
	}
	s.log("Program %s success", programID)
	s.recordInvocation(programID, "success")
	return nil
}

func (s *txState) recordInvocation(programID solana.PublicKey, status string) {
	if s.bank.metrics != nil {
		s.bank.metrics.RecordProgramInvocation(programID.String(), status)
	}
}

// InvokeContext is handed to a Program for the duration of one instruction.
type InvokeContext struct {
	state     *txState
	programID solana.PublicKey
	accounts  []*solana.AccountMeta
	depth     int
	pre       map[solana.PublicKey]*Account
}

// ProgramID returns the id of the executing program.
func (c *InvokeContext) ProgramID() solana.PublicKey {
	return c.programID
}

// Depth returns the invocation depth, 1 for top-level instructions.
func (c *InvokeContext) Depth() int {
	return c.depth
}

// Rent returns the cluster rent parameters.
func (c *InvokeContext) Rent() Rent {
	return c.state.bank.cfg.Rent
}

// Slot returns the slot the transaction executes in.
func (c *InvokeContext) Slot() uint64 {
	return c.state.bank.slot
}

// Log appends a program log line.
func (c *InvokeContext) Log(format string, args ...any) {
	c.state.log("Program log: "+format, args...)
}

func (c *InvokeContext) meta(key solana.PublicKey) *solana.AccountMeta {
	var found *solana.AccountMeta
	for _, m := range c.accounts {
		if !m.PublicKey.Equals(key) {
			continue
		}
		if found == nil {
			found = &solana.AccountMeta{PublicKey: key}
		}
		found.IsSigner = found.IsSigner || m.IsSigner
		found.IsWritable = found.IsWritable || m.IsWritable
	}
	return found
}

// IsSigner reports whether key signed for the current instruction.
func (c *InvokeContext) IsSigner(key solana.PublicKey) bool {
	m := c.meta(key)
	return m != nil && m.IsSigner
}

// IsWritable reports whether key is writable in the current instruction.
func (c *InvokeContext) IsWritable(key solana.PublicKey) bool {
	m := c.meta(key)
	return m != nil && m.IsWritable
}

// Account returns a read-only copy of an account passed to the instruction.
func (c *InvokeContext) Account(key solana.PublicKey) (*Account, error) {
	if c.meta(key) == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingAccount, key)
	}
	return c.state.load(key).Clone(), nil
}

// AccountMut returns the live working copy of a writable account.
func (c *InvokeContext) AccountMut(key solana.PublicKey) (*Account, error) {
	m := c.meta(key)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingAccount, key)
	}
	if !m.IsWritable {
		return nil, fmt.Errorf("%w: %s", ErrReadonlyDataModified, key)
	}
	return c.state.load(key), nil
}

// Invoke performs a cross-program invocation. The callee program must be
// among the caller's accounts, and no account may gain signer or writable
// privileges it does not hold in the caller.
func (c *InvokeContext) Invoke(ix solana.Instruction) error {
	if c.depth >= MaxInvokeDepth {
		return ErrCallDepth
	}

	programID := ix.ProgramID()
	if c.meta(programID) == nil {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, programID)
	}

	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	metas := ix.Accounts()
	callee := make([]*solana.AccountMeta, len(metas))
	for i, m := range metas {
		caller := c.meta(m.PublicKey)
		if caller == nil {
			return fmt.Errorf("%w: %s", ErrMissingAccount, m.PublicKey)
		}
		if m.IsSigner && !caller.IsSigner {
			return fmt.Errorf("%w: %s is not a signer", ErrPrivilegeEscalation, m.PublicKey)
		}
		if m.IsWritable && !caller.IsWritable {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, m.PublicKey)
		}
		callee[i] = &solana.AccountMeta{
			PublicKey:  m.PublicKey,
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		}
	}

	if err := c.state.execute(programID, callee, data, c.depth+1); err != nil {
		return err
	}

	// The callee has already been checked against its own ownership rules;
	// the caller is only accountable for what it changes from here on.
	for _, m := range callee {
		if _, ok := c.pre[m.PublicKey]; ok {
			c.pre[m.PublicKey] = c.state.load(m.PublicKey).Clone()
		}
	}
	return nil
}

// verify enforces the runtime's account rules on the instruction's result.
func (c *InvokeContext) verify() error {
	var before, after uint64
	for key, pre := range c.pre {
		post := c.state.load(key)
		before += pre.Lamports
		after += post.Lamports

		if pre.Equal(post) {
			continue
		}
		if !c.IsWritable(key) {
			return fmt.Errorf("%w: %s", ErrReadonlyDataModified, key)
		}
		owned := pre.Owner.Equals(c.programID)
		if !pre.Owner.Equals(post.Owner) {
			if !owned || !allZero(pre.Data) {
				return fmt.Errorf("%w: %s", ErrModifiedProgramID, key)
			}
		}
		if post.Lamports < pre.Lamports && !owned {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
		}
		if !owned && !bytes.Equal(pre.Data, post.Data) {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
		}
	}
	if before != after {
		return ErrUnbalancedInstruction
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
