package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
)

// Callback describes the receiver hook currently running in a transaction.
type Callback struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
	// Moved is set when the hook follows a transfer of Amount from From to To
	// in the same call.
	Moved bool
}

var inflight = struct {
	sync.Mutex
	frames map[*chain.Tx][]Callback
}{frames: make(map[*chain.Tx][]Callback)}

// Current returns the innermost hook the ledger is running in tx.
func Current(tx *chain.Tx) (Callback, bool) {
	inflight.Lock()
	defer inflight.Unlock()
	frames := inflight.frames[tx]
	if len(frames) == 0 {
		return Callback{}, false
	}
	cb := frames[len(frames)-1]
	cb.Amount = new(big.Int).Set(cb.Amount)
	return cb, true
}

func (l *Ledger) withCallback(cb Callback, fn func() error) error {
	inflight.Lock()
	inflight.frames[l.tx] = append(inflight.frames[l.tx], cb)
	inflight.Unlock()
	defer func() {
		inflight.Lock()
		frames := inflight.frames[l.tx]
		if len(frames) <= 1 {
			delete(inflight.frames, l.tx)
		} else {
			inflight.frames[l.tx] = frames[:len(frames)-1]
		}
		inflight.Unlock()
	}()
	return fn()
}

func (l *Ledger) callReceiver(cb Callback, data []byte) error {
	receiver, ok := l.tx.Chain().Contract(cb.To)
	if !ok {
		return nil
	}
	return l.withCallback(cb, func() error {
		return receiver.OnTokenTransfer(l.tx, cb.Token, cb.From, new(big.Int).Set(cb.Amount), append([]byte(nil), data...))
	})
}

// Notify runs the hook of a contract that already received amount by other
// means, such as a mint. Hooks see it with Moved unset.
func (l *Ledger) Notify(token, from, to common.Address, amount *big.Int, data []byte) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.callReceiver(Callback{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)}, data)
}
