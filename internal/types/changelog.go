package types

// ChangeKind discriminates the IndexChange tagged union a sync pass emits.
type ChangeKind uint8

const (
	ChangeChainTip ChangeKind = iota
	ChangeReorg
	ChangeTransaction
	ChangeTransactionReplaced
	ChangeTxoFunded
	ChangeTxoSpent
)

// Change is one entry of a ChangeLog. Only the fields relevant to Kind are
// populated; callers switch on Kind before reading the payload.
type Change struct {
	Kind ChangeKind

	// ChainTip
	Tip BlockId

	// Reorg
	ReorgHeight uint32
	OldHash     BlockHash
	NewHash     BlockHash

	// Transaction / TransactionReplaced
	Txid   Txid
	Status TxStatus

	// TxoFunded
	FundedOutpoint OutPoint
	FundedScript   ScriptHash
	FundedAmount   int64

	// TxoSpent
	SpentInpoint InPoint
	SpentScript  ScriptHash
	SpentPrevout OutPoint
	SpentAmount  int64
}

func ChainTipChange(b BlockId) Change {
	return Change{Kind: ChangeChainTip, Tip: b}
}

func ReorgChange(height uint32, oldHash, newHash BlockHash) Change {
	return Change{Kind: ChangeReorg, ReorgHeight: height, OldHash: oldHash, NewHash: newHash}
}

func TransactionChange(txid Txid, status TxStatus) Change {
	return Change{Kind: ChangeTransaction, Txid: txid, Status: status}
}

func TransactionReplacedChange(txid Txid) Change {
	return Change{Kind: ChangeTransactionReplaced, Txid: txid}
}

func TxoFundedChange(outpoint OutPoint, sh ScriptHash, amount int64, status TxStatus) Change {
	return Change{
		Kind: ChangeTxoFunded, FundedOutpoint: outpoint, FundedScript: sh,
		FundedAmount: amount, Status: status,
	}
}

func TxoSpentChange(inpoint InPoint, sh ScriptHash, prevout OutPoint, amount int64, status TxStatus) Change {
	return Change{
		Kind: ChangeTxoSpent, SpentInpoint: inpoint, SpentScript: sh,
		SpentPrevout: prevout, SpentAmount: amount, Status: status,
	}
}

// ChangeLog is the ordered sequence of Change values produced by one sync
// pass.
type ChangeLog []Change
