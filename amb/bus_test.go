package amb

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"omnibridge/core/chain"
	"omnibridge/core/state"
	"omnibridge/observability"
	"omnibridge/storage"
)

var (
	senderAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	executorAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type counterHandler struct {
	fail  bool
	calls []Delivery
}

var counterKey = []byte("test/counter")

func (h *counterHandler) HandleMessage(tx *chain.Tx, d Delivery) error {
	h.calls = append(h.calls, d)
	var n uint64
	if _, err := tx.KVGet(counterKey, &n); err != nil {
		return err
	}
	if err := tx.KVPut(counterKey, n+1); err != nil {
		return err
	}
	if h.fail {
		return errors.New("handler failed")
	}
	return nil
}

type testBridge struct {
	home, foreign     *chain.Chain
	homeEP, foreignEP *Endpoint
	bus               *Bus
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	home := chain.New("home", 100, storage.NewMemDB())
	foreign := chain.New("foreign", 1, storage.NewMemDB())
	homeEP := NewEndpoint(common.HexToAddress("0x0000000000000000000000000000000000000a4b"), home, 2_000_000)
	foreignEP := NewEndpoint(common.HexToAddress("0x0000000000000000000000000000000000000a4b"), foreign, 2_000_000)
	bus, err := Connect(homeEP, foreignEP)
	require.NoError(t, err)
	return &testBridge{home: home, foreign: foreign, homeEP: homeEP, foreignEP: foreignEP, bus: bus}
}

func (b *testBridge) send(t *testing.T, dataType byte) common.Hash {
	t.Helper()
	var id common.Hash
	_, err := b.home.Execute(func(tx *chain.Tx) error {
		var err error
		id, err = b.homeEP.Port(senderAddr).RequireToPassMessage(tx, executorAddr, []byte{0xde, 0xad}, 100_000, dataType)
		return err
	})
	require.NoError(t, err)
	return id
}

func counter(t *testing.T, c *chain.Chain) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, c.View(func(kv state.KV) error {
		_, err := kv.KVGet(counterKey, &n)
		return err
	}))
	return n
}

func TestMessagesOnlyLeaveCommittedTransactions(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.home.Execute(func(tx *chain.Tx) error {
		if _, err := b.homeEP.Port(senderAddr).RequireToPassMessage(tx, executorAddr, nil, 1, 0); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	require.Empty(t, b.bus.Pending(true))

	id := b.send(t, 0)
	pending := b.bus.Pending(false)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)
	require.Equal(t, uint64(1), pending[0].DestinationChainID)

	out, err := b.homeEP.Outgoing(id)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad}, out.Data)
}

func TestGasAboveMaximumRejected(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.home.Execute(func(tx *chain.Tx) error {
		_, err := b.homeEP.Port(senderAddr).RequireToPassMessage(tx, executorAddr, nil, 2_000_001, 0)
		return err
	})
	require.ErrorIs(t, err, ErrGasTooHigh)
}

func TestExecuteOnceAndRecordStatus(t *testing.T) {
	b := newTestBridge(t)
	h := &counterHandler{}
	b.foreignEP.Register(executorAddr, h)

	id := b.send(t, 0)
	res, err := b.bus.Deliver(id)
	require.NoError(t, err)
	require.True(t, res.Status)
	require.Len(t, h.calls, 1)
	require.Equal(t, senderAddr, h.calls[0].Sender)
	require.Equal(t, uint64(1), counter(t, b.foreign))

	_, err = b.bus.Deliver(id)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, h.calls, 1)

	require.NoError(t, b.foreign.View(func(kv state.KV) error {
		ok, err := b.foreignEP.MessageCallStatus(kv, id)
		require.NoError(t, err)
		require.True(t, ok)
		sender, err := b.foreignEP.FailedMessageSender(kv, id)
		require.NoError(t, err)
		require.Equal(t, common.Address{}, sender)
		return nil
	}))
}

func TestFailedExecutionRollsBackHandlerState(t *testing.T) {
	b := newTestBridge(t)
	h := &counterHandler{fail: true}
	b.foreignEP.Register(executorAddr, h)

	id := b.send(t, 0)
	res, err := b.bus.Deliver(id)
	require.NoError(t, err)
	require.False(t, res.Status)
	require.Error(t, res.Err)
	require.Zero(t, counter(t, b.foreign))

	require.NoError(t, b.foreign.View(func(kv state.KV) error {
		ok, err := b.foreignEP.MessageCallStatus(kv, id)
		require.NoError(t, err)
		require.False(t, ok)
		sender, err := b.foreignEP.FailedMessageSender(kv, id)
		require.NoError(t, err)
		require.Equal(t, senderAddr, sender)
		receiver, err := b.foreignEP.FailedMessageReceiver(kv, id)
		require.NoError(t, err)
		require.Equal(t, executorAddr, receiver)
		return nil
	}))

	_, err = b.bus.Deliver(id)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestOutOfOrderDelivery(t *testing.T) {
	b := newTestBridge(t)
	h := &counterHandler{}
	b.foreignEP.Register(executorAddr, h)

	first := b.send(t, 0)
	second := b.send(t, 0)
	require.NotEqual(t, first, second)

	_, err := b.bus.Deliver(second)
	require.NoError(t, err)
	_, err = b.bus.Deliver(first)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{second, first}, []common.Hash{h.calls[0].MessageID, h.calls[1].MessageID})
	require.Empty(t, b.bus.Pending(true))
}

func TestRelayerSkipsManualLane(t *testing.T) {
	b := newTestBridge(t)
	h := &counterHandler{}
	b.foreignEP.Register(executorAddr, h)
	relayer := NewRelayer(b.bus)

	auto := b.send(t, 0)
	manual := b.send(t, DataTypeManual)

	n, err := relayer.RelayPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, auto, h.calls[0].MessageID)

	status := relayer.Status()
	require.Equal(t, 0, status.Pending)
	require.Equal(t, 1, status.Manual)

	_, err = relayer.Deliver(context.Background(), manual)
	require.NoError(t, err)
	require.Len(t, h.calls, 2)

	relayer.Pause()
	_, err = relayer.RelayPending(context.Background())
	require.ErrorIs(t, err, ErrRelayerPaused)
}

func TestRelayerRateLimit(t *testing.T) {
	b := newTestBridge(t)
	b.foreignEP.Register(executorAddr, &counterHandler{})
	relayer := NewRelayer(b.bus, WithRateLimit(0.001, 1))

	b.send(t, 0)
	b.send(t, 0)
	n, err := relayer.RelayPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, b.bus.Pending(false), 1)
}

func TestReconnectRequeuesUndeliveredMessages(t *testing.T) {
	homeDB, foreignDB := storage.NewMemDB(), storage.NewMemDB()
	connect := func() *testBridge {
		home := chain.New("home", 100, homeDB)
		foreign := chain.New("foreign", 1, foreignDB)
		homeEP := NewEndpoint(common.HexToAddress("0x0000000000000000000000000000000000000a4b"), home, 2_000_000)
		foreignEP := NewEndpoint(common.HexToAddress("0x0000000000000000000000000000000000000a4b"), foreign, 2_000_000)
		bus, err := Connect(homeEP, foreignEP)
		require.NoError(t, err)
		return &testBridge{home: home, foreign: foreign, homeEP: homeEP, foreignEP: foreignEP, bus: bus}
	}

	b := connect()
	delivered := b.send(t, 0)
	waiting := b.send(t, DataTypeManual)
	b.foreignEP.Register(executorAddr, &counterHandler{})
	_, err := b.bus.Deliver(delivered)
	require.NoError(t, err)

	restarted := connect()
	h := &counterHandler{}
	restarted.foreignEP.Register(executorAddr, h)
	pending := restarted.bus.Pending(true)
	require.Len(t, pending, 1)
	require.Equal(t, waiting, pending[0].ID)

	res, err := restarted.bus.Deliver(waiting)
	require.NoError(t, err)
	require.True(t, res.Status)
	require.Len(t, h.calls, 1)

	_, err = restarted.bus.Deliver(delivered)
	require.ErrorIs(t, err, ErrAlreadyProcessed)

	undelivered, err := restarted.homeEP.Undelivered()
	require.NoError(t, err)
	require.Empty(t, undelivered)
	require.Empty(t, connect().bus.Pending(true))
}

func TestRelayerClearsDrainedQueueGauges(t *testing.T) {
	b := newTestBridge(t)
	b.foreignEP.Register(executorAddr, &counterHandler{})
	relayer := NewRelayer(b.bus)
	gauge := observability.Relayer().PendingGauge("foreign", "auto")

	b.send(t, 0)
	b.send(t, 0)
	relayer.publishPending()
	require.Equal(t, float64(2), testutil.ToFloat64(gauge))

	n, err := relayer.RelayPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, float64(0), testutil.ToFloat64(gauge))
	require.Equal(t, float64(0), testutil.ToFloat64(observability.Relayer().PendingGauge("home", "manual")))
}
