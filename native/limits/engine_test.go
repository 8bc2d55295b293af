package limits

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/storage"
)

func ether(v string) *big.Int {
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		panic("invalid ether literal " + v)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	if !r.IsInt() {
		panic("ether literal has too many decimals " + v)
	}
	return new(big.Int).Set(r.Num())
}

func testDefaults() Limits {
	return Limits{
		DailyLimit:          ether("2.5"),
		MaxPerTx:            ether("1"),
		MinPerTx:            ether("0.01"),
		ExecutionDailyLimit: ether("2.5"),
		ExecutionMaxPerTx:   ether("1"),
	}
}

var testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestEngine(t *testing.T) (*Engine, *events.Recorder, *int64) {
	t.Helper()
	engine := NewEngine(state.NewManager(storage.NewMemDB()))
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })
	require.NoError(t, engine.SetDefaults(testDefaults()))
	return engine, recorder, &now
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cases := map[string]Limits{
		"zero min":        {DailyLimit: ether("3"), MaxPerTx: ether("2"), MinPerTx: big.NewInt(0), ExecutionDailyLimit: ether("3"), ExecutionMaxPerTx: ether("2")},
		"max below min":   {DailyLimit: ether("3"), MaxPerTx: ether("1"), MinPerTx: ether("2"), ExecutionDailyLimit: ether("3"), ExecutionMaxPerTx: ether("2")},
		"daily below max": {DailyLimit: ether("1"), MaxPerTx: ether("2"), MinPerTx: ether("0.1"), ExecutionDailyLimit: ether("3"), ExecutionMaxPerTx: ether("2")},
		"execution order": {DailyLimit: ether("3"), MaxPerTx: ether("2"), MinPerTx: ether("0.1"), ExecutionDailyLimit: ether("2"), ExecutionMaxPerTx: ether("2")},
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			if err := l.Validate(); !errors.Is(err, ErrInvalidLimit) {
				t.Fatalf("expected ErrInvalidLimit, got %v", err)
			}
		})
	}
	require.NoError(t, testDefaults().Validate())
}

func TestScaleForDecimals(t *testing.T) {
	for _, decimals := range []uint8{3, 18, 20} {
		scaled, err := ScaleForDecimals(testDefaults(), decimals)
		require.NoError(t, err)
		f1 := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		f2 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
		scale := func(v *big.Int) *big.Int { return new(big.Int).Quo(new(big.Int).Mul(v, f1), f2) }
		defaults := testDefaults()
		require.Zero(t, scaled.DailyLimit.Cmp(scale(defaults.DailyLimit)), "decimals %d", decimals)
		require.Zero(t, scaled.MaxPerTx.Cmp(scale(defaults.MaxPerTx)), "decimals %d", decimals)
		require.Zero(t, scaled.MinPerTx.Cmp(scale(defaults.MinPerTx)), "decimals %d", decimals)
		require.Zero(t, scaled.ExecutionDailyLimit.Cmp(scale(defaults.ExecutionDailyLimit)), "decimals %d", decimals)
		require.Zero(t, scaled.ExecutionMaxPerTx.Cmp(scale(defaults.ExecutionMaxPerTx)), "decimals %d", decimals)
	}

	zero, err := ScaleForDecimals(testDefaults(), 0)
	require.NoError(t, err)
	require.Equal(t, "10000", zero.DailyLimit.String())
	require.Equal(t, "100", zero.MaxPerTx.String())
	require.Equal(t, "1", zero.MinPerTx.String())
	require.Equal(t, "10000", zero.ExecutionDailyLimit.String())
	require.Equal(t, "100", zero.ExecutionMaxPerTx.String())

	twenty, err := ScaleForDecimals(testDefaults(), 20)
	require.NoError(t, err)
	require.Zero(t, twenty.DailyLimit.Cmp(new(big.Int).Mul(ether("2.5"), big.NewInt(100))))

	_, err = ScaleForDecimals(testDefaults(), 255)
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestRegisterDefaultsEmitsLimitEvents(t *testing.T) {
	engine, recorder, _ := newTestEngine(t)
	recorder.Reset()

	registered, err := engine.IsRegistered(testToken)
	require.NoError(t, err)
	require.False(t, registered)

	scaled, err := engine.RegisterDefaults(testToken, 0)
	require.NoError(t, err)
	require.Equal(t, "10000", scaled.DailyLimit.String())

	registered, err = engine.IsRegistered(testToken)
	require.NoError(t, err)
	require.True(t, registered)

	require.Len(t, recorder.OfType(EventTypeDailyLimitChanged), 1)
	require.Len(t, recorder.OfType(EventTypeExecutionDailyLimitChanged), 1)
	evt := recorder.OfType(EventTypeDailyLimitChanged)[0].(limitsEvent).Event()
	require.Equal(t, testToken.Hex(), evt.Attributes["token"])
	require.Equal(t, "10000", evt.Attributes["limit"])
}

func TestCheckAndConsumeOutbound(t *testing.T) {
	engine, _, now := newTestEngine(t)
	_, err := engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)

	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("0.001"), Outbound), ErrLimitExceeded)
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("1.001"), Outbound), ErrLimitExceeded)

	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Outbound))
	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Outbound))

	available, err := engine.MaxAvailablePerTx(testToken)
	require.NoError(t, err)
	require.Zero(t, available.Cmp(ether("0.5")))

	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("0.8"), Outbound), ErrLimitExceeded)
	require.NoError(t, engine.CheckAndConsume(testToken, ether("0.01"), Outbound))

	spent, err := engine.TotalSpentPerDay(testToken, engine.CurrentDay())
	require.NoError(t, err)
	require.Zero(t, spent.Cmp(ether("2.01")))

	*now += SecondsPerDay
	available, err = engine.MaxAvailablePerTx(testToken)
	require.NoError(t, err)
	require.Zero(t, available.Cmp(ether("1")))
	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Outbound))
}

func TestCheckAndConsumeInbound(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)

	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("1.5"), Inbound), ErrLimitExceeded)
	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Inbound))
	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Inbound))
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("1"), Inbound), ErrLimitExceeded)

	executed, err := engine.TotalExecutedPerDay(testToken, engine.CurrentDay())
	require.NoError(t, err)
	require.Zero(t, executed.Cmp(ether("2")))

	available, err := engine.ExecutionAvailablePerTx(testToken)
	require.NoError(t, err)
	require.Zero(t, available.Cmp(ether("0.5")))
}

func TestGlobalShutdown(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)

	require.NoError(t, engine.SetLimit(Global(), KindDailyLimit, big.NewInt(0)))
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("0.5"), Outbound), ErrLimitExceeded)
	require.NoError(t, engine.CheckAndConsume(testToken, ether("0.5"), Inbound))

	require.NoError(t, engine.SetLimit(Global(), KindDailyLimit, ether("2.5")))
	require.NoError(t, engine.CheckAndConsume(testToken, ether("0.01"), Outbound))

	require.NoError(t, engine.SetLimit(Global(), KindExecutionDailyLimit, big.NewInt(0)))
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("0.5"), Inbound), ErrLimitExceeded)
}

func TestSetLimitOrdering(t *testing.T) {
	engine, recorder, _ := newTestEngine(t)

	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	require.ErrorIs(t, engine.SetLimit(Token(other), KindDailyLimit, ether("5")), ErrUnknownToken)

	_, err := engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)
	recorder.Reset()

	scope := Token(testToken)
	require.ErrorIs(t, engine.SetLimit(scope, KindDailyLimit, ether("1")), ErrInvalidLimit)
	require.ErrorIs(t, engine.SetLimit(scope, KindMaxPerTx, ether("0.01")), ErrInvalidLimit)
	require.ErrorIs(t, engine.SetLimit(scope, KindMaxPerTx, ether("2.5")), ErrInvalidLimit)
	require.ErrorIs(t, engine.SetLimit(scope, KindMinPerTx, ether("1")), ErrInvalidLimit)
	require.ErrorIs(t, engine.SetLimit(scope, KindExecutionDailyLimit, ether("1")), ErrInvalidLimit)
	require.ErrorIs(t, engine.SetLimit(scope, KindExecutionMaxPerTx, ether("2.5")), ErrInvalidLimit)

	require.NoError(t, engine.SetLimit(scope, KindDailyLimit, ether("5")))
	require.NoError(t, engine.SetLimit(scope, KindMaxPerTx, ether("2")))
	require.NoError(t, engine.SetLimit(scope, KindMinPerTx, ether("0.5")))
	require.NoError(t, engine.SetLimit(scope, KindExecutionDailyLimit, ether("5")))
	require.NoError(t, engine.SetLimit(scope, KindExecutionMaxPerTx, ether("2")))

	caps, registered, err := engine.TokenLimits(testToken)
	require.NoError(t, err)
	require.True(t, registered)
	require.Zero(t, caps.DailyLimit.Cmp(ether("5")))
	require.Zero(t, caps.MaxPerTx.Cmp(ether("2")))
	require.Zero(t, caps.MinPerTx.Cmp(ether("0.5")))

	// zero pauses a token and is always accepted
	require.NoError(t, engine.SetLimit(scope, KindDailyLimit, big.NewInt(0)))
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("1"), Outbound), ErrLimitExceeded)
	require.NoError(t, engine.SetLimit(scope, KindMaxPerTx, ether("3")))
	require.NoError(t, engine.SetLimit(scope, KindDailyLimit, ether("4")))
	require.NoError(t, engine.CheckAndConsume(testToken, ether("1"), Outbound))

	require.Len(t, recorder.OfType(EventTypeDailyLimitChanged), 3)
	require.Len(t, recorder.OfType(EventTypeExecutionDailyLimitChanged), 1)
}

func TestUnregisterZeroesLimits(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)
	require.NoError(t, engine.Unregister(testToken))

	caps, registered, err := engine.TokenLimits(testToken)
	require.NoError(t, err)
	require.False(t, registered)
	for _, kind := range []Kind{KindDailyLimit, KindMaxPerTx, KindMinPerTx, KindExecutionDailyLimit, KindExecutionMaxPerTx} {
		require.Equal(t, "0", caps.Get(kind).String(), kind.String())
	}
	require.ErrorIs(t, engine.CheckAndConsume(testToken, ether("0.5"), Inbound), ErrLimitExceeded)
	require.ErrorIs(t, engine.SetLimit(Token(testToken), KindDailyLimit, ether("5")), ErrUnknownToken)

	_, err = engine.RegisterDefaults(testToken, 18)
	require.NoError(t, err)
	registered, err = engine.IsRegistered(testToken)
	require.NoError(t, err)
	require.True(t, registered)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("execution_max_per_tx")
	require.NoError(t, err)
	require.Equal(t, KindExecutionMaxPerTx, kind)
	_, err = ParseKind("weekly")
	require.Error(t, err)
}
