package mediator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/amb"
	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/native/limits"
	"omnibridge/native/token"
	"omnibridge/storage"
)

var (
	bridgeAddr          = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	factoryAddr         = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	homeMediatorAddr    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	foreignMediatorAddr = common.HexToAddress("0x0000000000000000000000000000000000002001")
	ownerAddr           = common.HexToAddress("0x000000000000000000000000000000000000000a")
	userAddr            = common.HexToAddress("0x000000000000000000000000000000000000000b")
	otherUserAddr       = common.HexToAddress("0x000000000000000000000000000000000000000c")
	minterAddr          = common.HexToAddress("0x000000000000000000000000000000000000000d")
	rewardOne           = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	rewardTwo           = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	foreignTokenAddr    = common.HexToAddress("0x0000000000000000000000000000000000007001")
	homeTokenAddr       = common.HexToAddress("0x0000000000000000000000000000000000007002")
)

const (
	maxGasPerTx  = 2_000_000
	startTime    = int64(1_700_000_000)
	homeSuffix   = " on xDai"
	foreignSufix = " on Mainnet"
)

func ether(v string) *big.Int {
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		panic("invalid amount " + v)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	if !r.IsInt() {
		panic("fractional wei " + v)
	}
	return new(big.Int).Set(r.Num())
}

func defaultLimits() limits.Limits {
	return limits.Limits{
		DailyLimit:          ether("2.5"),
		MaxPerTx:            ether("1"),
		MinPerTx:            ether("0.01"),
		ExecutionDailyLimit: ether("2.5"),
		ExecutionMaxPerTx:   ether("1"),
	}
}

func requireAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zerof(t, want.Cmp(got), "want %s, got %s", want, got)
}

type bridgeOptions struct {
	homeLimits limits.Limits
	homeFees   FeeConfig
}

type bridgeOption func(*bridgeOptions)

func withHomeLimits(l limits.Limits) bridgeOption {
	return func(o *bridgeOptions) { o.homeLimits = l }
}

func withHomeFees(f FeeConfig) bridgeOption {
	return func(o *bridgeOptions) { o.homeFees = f }
}

type testBridge struct {
	now            int64
	home, foreign  *chain.Chain
	bus            *amb.Bus
	homeM          *Mediator
	foreignM       *Mediator
	homeEvents     *events.Recorder
	foreignEvents  *events.Recorder
	homeEndpoint   *amb.Endpoint
	foreignEndpont *amb.Endpoint
}

func newTestBridge(t *testing.T, opts ...bridgeOption) *testBridge {
	t.Helper()
	options := bridgeOptions{homeLimits: defaultLimits()}
	for _, opt := range opts {
		opt(&options)
	}
	b := &testBridge{
		now:           startTime,
		home:          chain.New("home", 100, storage.NewMemDB()),
		foreign:       chain.New("foreign", 1, storage.NewMemDB()),
		homeEvents:    &events.Recorder{},
		foreignEvents: &events.Recorder{},
	}
	b.home.SetNowFunc(func() int64 { return b.now })
	b.foreign.SetNowFunc(func() int64 { return b.now })
	b.home.SetEmitter(b.homeEvents)
	b.foreign.SetEmitter(b.foreignEvents)

	b.homeEndpoint = amb.NewEndpoint(bridgeAddr, b.home, maxGasPerTx)
	b.foreignEndpont = amb.NewEndpoint(bridgeAddr, b.foreign, maxGasPerTx)
	bus, err := amb.Connect(b.homeEndpoint, b.foreignEndpont)
	require.NoError(t, err)
	b.bus = bus

	b.homeM, err = New(homeMediatorAddr, Home, b.home, b.homeEndpoint.Port(homeMediatorAddr))
	require.NoError(t, err)
	b.foreignM, err = New(foreignMediatorAddr, Foreign, b.foreign, b.foreignEndpont.Port(foreignMediatorAddr))
	require.NoError(t, err)
	b.homeEndpoint.Register(homeMediatorAddr, b.homeM)
	b.foreignEndpont.Register(foreignMediatorAddr, b.foreignM)

	b.exec(t, b.home, func(tx *chain.Tx) error {
		return b.homeM.Initialize(tx, Config{
			Bridge:          bridgeAddr,
			Counterpart:     foreignMediatorAddr,
			Owner:           ownerAddr,
			TokenFactory:    factoryAddr,
			Limits:          options.homeLimits,
			RequestGasLimit: 1_000_000,
			NameSuffix:      homeSuffix,
			Fees:            options.homeFees,
		})
	})
	b.exec(t, b.foreign, func(tx *chain.Tx) error {
		return b.foreignM.Initialize(tx, Config{
			Bridge:          bridgeAddr,
			Counterpart:     homeMediatorAddr,
			Owner:           ownerAddr,
			TokenFactory:    factoryAddr,
			Limits:          defaultLimits(),
			RequestGasLimit: 1_000_000,
			NameSuffix:      foreignSufix,
		})
	})
	b.createToken(t, b.foreign, foreignTokenAddr, "Test", "TST", 18)
	b.createToken(t, b.home, homeTokenAddr, "Home Token", "HTK", 18)
	b.mint(t, b.foreign, foreignTokenAddr, userAddr, ether("10"))
	b.mint(t, b.home, homeTokenAddr, userAddr, ether("10"))
	return b
}

func (b *testBridge) exec(t *testing.T, c *chain.Chain, fn func(tx *chain.Tx) error) {
	t.Helper()
	_, err := c.Execute(fn)
	require.NoError(t, err)
}

func (b *testBridge) createToken(t *testing.T, c *chain.Chain, addr common.Address, name, symbol string, decimals uint8) {
	t.Helper()
	b.exec(t, c, func(tx *chain.Tx) error {
		return token.NewLedger(tx).Create(addr, token.Metadata{Name: name, Symbol: symbol, Decimals: decimals, Minter: minterAddr})
	})
}

func (b *testBridge) mint(t *testing.T, c *chain.Chain, tokenAddr, to common.Address, amount *big.Int) {
	t.Helper()
	b.exec(t, c, func(tx *chain.Tx) error {
		return token.NewLedger(tx).Mint(tokenAddr, minterAddr, to, amount)
	})
}

func (b *testBridge) other(m *Mediator) *Mediator {
	if m == b.homeM {
		return b.foreignM
	}
	return b.homeM
}

// relayTo approves and relays through m, returning the outgoing message id.
func (b *testBridge) relayTo(m *Mediator, from, tokenAddr, recipient common.Address, amount *big.Int) (common.Hash, error) {
	var id common.Hash
	_, err := m.Chain().Execute(func(tx *chain.Tx) error {
		if err := token.NewLedger(tx).Approve(tokenAddr, from, m.Address(), amount); err != nil {
			return err
		}
		var err error
		id, err = m.RelayTokensTo(tx, from, tokenAddr, recipient, amount)
		return err
	})
	return id, err
}

func (b *testBridge) relay(t *testing.T, m *Mediator, from, tokenAddr common.Address, amount *big.Int) common.Hash {
	t.Helper()
	id, err := b.relayTo(m, from, tokenAddr, from, amount)
	require.NoError(t, err)
	return id
}

func (b *testBridge) transferAndCall(t *testing.T, m *Mediator, from, tokenAddr common.Address, amount *big.Int, data []byte) common.Hash {
	t.Helper()
	before := len(b.bus.Pending(true))
	b.exec(t, m.Chain(), func(tx *chain.Tx) error {
		return token.NewLedger(tx).TransferAndCall(tokenAddr, from, m.Address(), amount, data)
	})
	pending := b.bus.Pending(true)
	require.Len(t, pending, before+1)
	return pending[len(pending)-1].ID
}

func (b *testBridge) deliver(t *testing.T, id common.Hash) *amb.ExecutionResult {
	t.Helper()
	result, err := b.bus.Deliver(id)
	require.NoError(t, err)
	return result
}

func (b *testBridge) balance(t *testing.T, c *chain.Chain, tokenAddr, owner common.Address) *big.Int {
	t.Helper()
	var out *big.Int
	require.NoError(t, c.Call(func(tx *chain.Tx) error {
		var err error
		out, err = token.NewLedger(tx).BalanceOf(tokenAddr, owner)
		return err
	}))
	return out
}

func (b *testBridge) metadata(t *testing.T, c *chain.Chain, tokenAddr common.Address) token.Metadata {
	t.Helper()
	var meta token.Metadata
	require.NoError(t, c.Call(func(tx *chain.Tx) error {
		var err error
		meta, err = token.NewLedger(tx).Metadata(tokenAddr)
		return err
	}))
	return meta
}

func (b *testBridge) decodeOutgoing(t *testing.T, id common.Hash) (*amb.Message, Call) {
	t.Helper()
	msg, ok := b.bus.Message(id)
	require.True(t, ok)
	call, err := Decode(msg.Data)
	require.NoError(t, err)
	return msg, call
}

var deliveryNonce uint64

// ambDelivery builds a delivery as the transport would hand it over.
func ambDelivery(sender common.Address, data []byte) amb.Delivery {
	deliveryNonce++
	return amb.Delivery{
		MessageID:     amb.MessageID(1, 100, deliveryNonce, sender),
		SourceChainID: 1,
		Sender:        sender,
		Executor:      homeMediatorAddr,
		Data:          data,
	}
}

func (b *testBridge) advanceDays(days int64) {
	b.now += days * limits.SecondsPerDay
}
