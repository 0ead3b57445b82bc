package tokenchannel

import (
	"math/big"
	"sort"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/wire"
)

// Inconsistent marks the channel as unable to continue the move-token
// sequence (a bad old-token, a failed signature, or a bad info hash after a
// ReceiveMoveToken attempt) and bumps the inconsistency counter, starting a
// reset negotiation round.
func (c *Channel) Inconsistent() {
	c.inconsistencyCounter++
}

// LocalResetTerms builds the signed ResetTerms this side proposes: the
// balance it believes every active currency should land on, so the remote
// side can either accept outright or propose its own and let the tie-break
// rule decide.
func (c *Channel) LocalResetTerms(priv *crypto.PrivateKey) (wire.ResetTerms, error) {
	balances := make([]wire.CurrencyBalance, 0, len(c.activeCurrencies))
	for _, cur := range c.activeCurrencies {
		l := c.ledgers[cur.String()]
		balances = append(balances, wire.CurrencyBalance{
			Currency: cur.Bytes(),
			Balance:  wire.NewSignedBigInt(l.Balance()),
		})
	}
	terms := wire.ResetTerms{
		InconsistencyCounter: c.inconsistencyCounter,
		BalanceForReset:      balances,
	}
	buf, err := terms.SignedBuffer()
	if err != nil {
		return wire.ResetTerms{}, err
	}
	sig, err := crypto.Sign(priv, buf)
	if err != nil {
		return wire.ResetTerms{}, err
	}
	terms.ResetToken = sig
	return terms, nil
}

// ResolveReset compares this side's own proposal against the remote's and
// decides which one wins: the higher inconsistencyCounter wins outright; on
// a tie, the side whose public key sorts smaller wins (spec.md §4.3). It
// verifies the winning terms' signature against whichever side proposed
// them, rebuilds every active currency's ledger at the agreed balance with
// pending debts and fees cleared, and returns the winning terms for
// transmission to whichever side did not originate them.
func (c *Channel) ResolveReset(local, remote wire.ResetTerms, remotePub *crypto.PublicKey) (wire.ResetTerms, error) {
	winner := local
	winnerIsLocal := true
	switch {
	case remote.InconsistencyCounter > local.InconsistencyCounter:
		winner, winnerIsLocal = remote, false
	case remote.InconsistencyCounter == local.InconsistencyCounter && !c.localPub.Less(remotePub):
		winner, winnerIsLocal = remote, false
	}

	if !winnerIsLocal {
		buf, err := winner.SignedBuffer()
		if err != nil {
			return wire.ResetTerms{}, err
		}
		if !crypto.Verify(remotePub, winner.ResetToken, buf) {
			return wire.ResetTerms{}, ErrBadSignature
		}
	}

	if err := c.rebuildLedgersFromReset(winner, !winnerIsLocal); err != nil {
		return wire.ResetTerms{}, err
	}
	c.lastToken = winner.ResetToken
	c.moveTokenCounter = big.NewInt(0)
	c.inconsistencyCounter = winner.InconsistencyCounter
	c.direction = Incoming
	if c.localPub.Less(remotePub) {
		c.direction = Outgoing
	}
	return winner, nil
}

// rebuildLedgersFromReset replaces every active currency's ledger with one
// at the agreed balance, preserving that currency's previously configured
// debt caps (a reset settles outstanding transactions, it does not change
// the credit limits the friends extend each other) and clearing pending
// debts and fee counters.
//
// terms.BalanceForReset is always signed from whichever side proposed it:
// mirror must be true when this side is applying the OTHER side's winning
// proposal, so each balance is negated to this side's own point of view
// before it lands on the ledger. A side applying its own winning proposal
// (mirror false) stores the signed balance verbatim.
func (c *Channel) rebuildLedgersFromReset(terms wire.ResetTerms, mirror bool) error {
	tags := make([]string, 0, len(terms.BalanceForReset))
	byTag := make(map[string]wire.CurrencyBalance, len(terms.BalanceForReset))
	for _, b := range terms.BalanceForReset {
		tag := string(b.Currency)
		byTag[tag] = b
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	next := make(map[string]*mutualcredit.Ledger, len(tags))
	active := make([]currency.Currency, 0, len(tags))
	for _, tag := range tags {
		cur, err := currency.New(tag)
		if err != nil {
			return err
		}
		var localMax, remoteMax *big.Int
		if old, ok := c.ledgers[tag]; ok {
			localMax = old.LocalMaxDebt()
			remoteMax = old.RemoteMaxDebt()
		} else {
			localMax, remoteMax = big.NewInt(0), big.NewInt(0)
		}
		balance := byTag[tag].Balance.Int()
		if mirror {
			balance = new(big.Int).Neg(balance)
		}
		l := mutualcredit.FromSnapshot(mutualcredit.Snapshot{
			Balance:           balance,
			LocalMaxDebt:      localMax,
			RemoteMaxDebt:     remoteMax,
			LocalPendingDebt:  big.NewInt(0),
			RemotePendingDebt: big.NewInt(0),
			InFees:            big.NewInt(0),
			OutFees:           big.NewInt(0),
		})
		next[tag] = l
		active = append(active, cur)
	}
	c.ledgers = next
	c.activeCurrencies = active
	return nil
}
