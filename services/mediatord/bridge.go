package mediatord

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/amb"
	bridgecfg "omnibridge/config"
	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/native/mediator"
	"omnibridge/native/weth"
	"omnibridge/observability"
	"omnibridge/services/mediatord/index"
	"omnibridge/storage"
)

// Options tunes how a Bridge is assembled.
type Options struct {
	// DataDir holds one LevelDB database per chain. Empty keeps state in
	// memory.
	DataDir   string
	Index     *index.Index
	Logger    *slog.Logger
	RatePerS  float64
	RateBurst int
	// Emitters receive the committed events of both chains in addition to
	// the index and the event counters.
	Emitters []events.Emitter
	// Taps receive the committed events of each chain tagged with its name.
	Taps []Tap
}

// Tap builds the emitter observing one chain.
type Tap interface {
	Emitter(chain string) events.Emitter
}

// Bridge is a running pair of mediators joined by a message bus.
type Bridge struct {
	Home    *mediator.Mediator
	Foreign *mediator.Mediator
	Bus     *amb.Bus
	Relayer *amb.Relayer
	// Routers holds the native coin routers of the sides that configure one.
	Routers map[mediator.Side]*weth.Router

	endpoints map[mediator.Side]*amb.Endpoint
	dbs       []storage.Database
	logger    *slog.Logger
}

// NewBridge opens both chains described by cfg, deploys the mediators and
// initializes them on first start.
func NewBridge(cfg *bridgecfg.Config, opts Options) (*Bridge, error) {
	if err := bridgecfg.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("bridge config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bridgeAddr, err := cfg.BridgeAddress()
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		Routers:   make(map[mediator.Side]*weth.Router),
		endpoints: make(map[mediator.Side]*amb.Endpoint, 2),
		logger:    logger,
	}
	chains := make(map[mediator.Side]*chain.Chain, 2)
	for _, side := range []mediator.Side{mediator.Home, mediator.Foreign} {
		section := cfg.SideConfig(side)
		db, err := openDatabase(opts.DataDir, section.ChainName)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.dbs = append(b.dbs, db)
		c := chain.New(section.ChainName, section.ChainID, db)
		emitters := events.Multi{observability.EventCounter{Chain: section.ChainName}}
		if opts.Index != nil {
			opts.Index.NameChain(section.ChainID, section.ChainName)
			emitters = append(emitters, opts.Index.Emitter(section.ChainName))
		}
		for _, tap := range opts.Taps {
			emitters = append(emitters, tap.Emitter(section.ChainName))
		}
		emitters = append(emitters, opts.Emitters...)
		c.SetEmitter(emitters)
		chains[side] = c
		b.endpoints[side] = amb.NewEndpoint(bridgeAddr, c, cfg.MaxGasPerTx)
	}
	bus, err := amb.Connect(b.endpoints[mediator.Home], b.endpoints[mediator.Foreign])
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Bus = bus
	if n := len(bus.Pending(true)); n > 0 {
		logger.Info("undelivered messages requeued", "count", n)
	}

	for _, side := range []mediator.Side{mediator.Home, mediator.Foreign} {
		m, err := b.deploy(cfg, side, chains[side])
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("%s: %w", side, err)
		}
		if side == mediator.Home {
			b.Home = m
		} else {
			b.Foreign = m
		}
		if err := b.deployRouter(cfg, side, chains[side], m); err != nil {
			b.Close()
			return nil, fmt.Errorf("%s: %w", side, err)
		}
	}
	b.Relayer = amb.NewRelayer(bus,
		amb.WithRateLimit(opts.RatePerS, opts.RateBurst),
		amb.WithLogger(logger.With("component", "relayer")),
	)
	return b, nil
}

func openDatabase(dir, name string) (storage.Database, error) {
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open %s state: %w", name, err)
	}
	return db, nil
}

func (b *Bridge) deploy(cfg *bridgecfg.Config, side mediator.Side, c *chain.Chain) (*mediator.Mediator, error) {
	addr, err := cfg.MediatorAddress(side)
	if err != nil {
		return nil, err
	}
	endpoint := b.endpoints[side]
	m, err := mediator.New(addr, side, c, endpoint.Port(addr), mediator.WithLogger(b.logger))
	if err != nil {
		return nil, err
	}
	endpoint.Register(addr, m)
	if err := m.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	initialized, err := m.Initialized()
	if err != nil {
		return nil, err
	}
	if initialized {
		b.logger.Info("mediator restored", "side", side.String(), "mediator", addr.Hex())
		return m, nil
	}
	mcfg, err := cfg.MediatorConfig(side)
	if err != nil {
		return nil, err
	}
	rules, err := cfg.ForwardingRules(side)
	if err != nil {
		return nil, err
	}
	_, err = c.Execute(func(tx *chain.Tx) error {
		if err := m.Initialize(tx, mcfg); err != nil {
			return err
		}
		return applyForwardingRules(tx, m, mcfg.Owner, rules)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	b.logger.Info("mediator initialized", "side", side.String(), "mediator", addr.Hex(), "owner", mcfg.Owner.Hex())
	return m, nil
}

func (b *Bridge) deployRouter(cfg *bridgecfg.Config, side mediator.Side, c *chain.Chain, m *mediator.Mediator) error {
	rc, ok, err := cfg.NativeRouter(side)
	if err != nil || !ok {
		return err
	}
	logger := b.logger.With("component", "router", "side", side.String())
	router, err := weth.NewRouter(rc.Address, rc.Owner, c, weth.New(rc.WETH), m, weth.WithLogger(logger))
	if err != nil {
		return err
	}
	b.Routers[side] = router
	logger.Info("native router deployed", "router", rc.Address.Hex(), "weth", rc.WETH.Hex())
	return nil
}

// applyForwardingRules installs the configured manual lane rules as the
// owner. It runs in the initialization transaction only.
func applyForwardingRules(tx *chain.Tx, m *mediator.Mediator, owner common.Address, rules bridgecfg.Rules) error {
	for _, tokenAddr := range rules.Tokens {
		if err := m.SetTokenForwardingRule(tx, owner, tokenAddr, true); err != nil {
			return err
		}
	}
	for _, sender := range rules.Senders {
		if err := m.SetSenderForwardingRule(tx, owner, sender, true); err != nil {
			return err
		}
	}
	for _, receiver := range rules.Receivers {
		if err := m.SetReceiverForwardingRule(tx, owner, receiver, true); err != nil {
			return err
		}
	}
	return nil
}

// Endpoint returns the transport endpoint of side.
func (b *Bridge) Endpoint(side mediator.Side) *amb.Endpoint {
	return b.endpoints[side]
}

// Close releases both state databases.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	for _, db := range b.dbs {
		db.Close()
	}
	b.dbs = nil
}
