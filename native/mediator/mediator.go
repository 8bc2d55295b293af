package mediator

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/amb"
	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/native/fees"
	"omnibridge/native/forwarding"
	"omnibridge/native/gaslimit"
	"omnibridge/native/limits"
	"omnibridge/native/registry"
	"omnibridge/native/token"
	"omnibridge/observability"
)

var errWrongChain = errors.New("mediator: transaction belongs to another chain")

// Mediator is one end of the token bridge. It locks or burns tokens relayed
// from its chain, mints or unlocks tokens arriving from the counterpart, and
// refunds transfers the other side failed to execute.
type Mediator struct {
	address   common.Address
	side      Side
	chain     *chain.Chain
	transport amb.Transport
	logger    *slog.Logger
	metrics   *observability.MediatorMetrics
}

// Option customises a mediator.
type Option func(*Mediator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mediator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New deploys a mediator at addr on c. The transport must already be bound to
// addr as its sender, see amb.Endpoint.Port.
func New(addr common.Address, side Side, c *chain.Chain, transport amb.Transport, opts ...Option) (*Mediator, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: mediator address required", ErrInvalidConfiguration)
	}
	if c == nil || transport == nil {
		return nil, fmt.Errorf("%w: chain and transport required", ErrInvalidConfiguration)
	}
	if side != Home && side != Foreign {
		return nil, fmt.Errorf("%w: unknown side %s", ErrInvalidConfiguration, side)
	}
	m := &Mediator{
		address:   addr,
		side:      side,
		chain:     c,
		transport: transport,
		logger:    slog.Default(),
		metrics:   observability.Mediator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mediator", "side", side.String(), "chain", c.Name())
	c.Deploy(addr, m)
	return m, nil
}

// Address returns the mediator contract address.
func (m *Mediator) Address() common.Address { return m.address }

// Side reports which end of the bridge the mediator serves.
func (m *Mediator) Side() Side { return m.side }

// Chain returns the chain the mediator is deployed on.
func (m *Mediator) Chain() *chain.Chain { return m.chain }

func (m *Mediator) observe(operation string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	m.metrics.Observe(m.side.String(), operation, time.Since(start), err)
}

// session binds the engines to the state of one transaction.
type session struct {
	tx       *chain.Tx
	cfg      *storedConfig
	limits   *limits.Engine
	registry *registry.Registry
	fees     *fees.Manager
	gas      *gaslimit.Manager
	rules    *forwarding.Rules
	ledger   *token.Ledger
	factory  *token.Factory
}

func (m *Mediator) bind(tx *chain.Tx, cfg *storedConfig) *session {
	s := &session{
		tx:       tx,
		cfg:      cfg,
		limits:   limits.NewEngine(tx),
		registry: registry.New(tx, cfg.NameSuffix),
		fees:     fees.NewManager(tx),
		gas:      gaslimit.NewManager(tx, m.transport.MaxGasPerTx()),
		rules:    forwarding.NewRules(tx),
		ledger:   token.NewLedger(tx),
		factory:  token.NewFactory(cfg.TokenFactory),
	}
	s.limits.SetEmitter(tx)
	s.limits.SetNowFunc(tx.Now)
	s.registry.SetEmitter(tx)
	s.fees.SetEmitter(tx)
	s.rules.SetEmitter(tx)
	return s
}

func (m *Mediator) checkChain(tx *chain.Tx) error {
	if tx == nil || tx.Chain() != m.chain {
		return errWrongChain
	}
	return nil
}

func (m *Mediator) open(tx *chain.Tx) (*session, error) {
	if err := m.checkChain(tx); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(tx)
	if err != nil {
		return nil, err
	}
	return m.bind(tx, cfg), nil
}

func (s *session) requireOwner(caller common.Address) error {
	if caller != s.cfg.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (s *session) emit(evt events.Event) { s.tx.Emit(evt) }

// Initialize stores the configuration and the initial limits, gas hint and
// fee schedule. It succeeds once per mediator.
func (m *Mediator) Initialize(tx *chain.Tx, cfg Config) (err error) {
	defer m.observe("initialize", time.Now(), &err)
	if err := m.checkChain(tx); err != nil {
		return err
	}
	if _, err := loadConfig(tx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if err := cfg.Validate(m.side, m.transport.MaxGasPerTx()); err != nil {
		return err
	}
	if cfg.Bridge != m.transport.Address() {
		return fmt.Errorf("%w: bridge %s does not match transport %s", ErrInvalidConfiguration, cfg.Bridge.Hex(), m.transport.Address().Hex())
	}
	if err := state.EnsureStateVersion(tx, migrations); err != nil {
		return err
	}
	stored := &storedConfig{
		Version:      configVersion,
		Side:         uint64(m.side),
		Bridge:       cfg.Bridge,
		Counterpart:  cfg.Counterpart,
		Owner:        cfg.Owner,
		TokenFactory: cfg.TokenFactory,
		NameSuffix:   cfg.NameSuffix,
	}
	if err := tx.KVPut(configKey, stored); err != nil {
		return err
	}
	s := m.bind(tx, stored)
	if err := s.limits.SetDefaults(cfg.Limits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if err := s.gas.SetDefault(cfg.RequestGasLimit); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if m.side == Home {
		schedule := []struct {
			dir fees.Direction
			pct *big.Int
		}{
			{fees.HomeToForeign, cfg.Fees.HomeToForeign},
			{fees.ForeignToHome, cfg.Fees.ForeignToHome},
		}
		for _, entry := range schedule {
			pct := entry.pct
			if pct == nil {
				pct = new(big.Int)
			}
			if err := s.fees.SetFee(entry.dir, limits.Global(), pct); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
			}
		}
		for _, addr := range cfg.Fees.RewardAddresses {
			if err := s.fees.AddRewardAddress(addr); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
			}
		}
	}
	s.emit(events.OwnershipTransferred{Owner: cfg.Owner, Side: m.side.String()})
	tx.OnCommit(func() {
		m.logger.Info("mediator initialized",
			"mediator", m.address.Hex(),
			"counterpart", cfg.Counterpart.Hex(),
			"owner", cfg.Owner.Hex())
	})
	return nil
}

// Migrate upgrades stored state written by an older release.
func (m *Mediator) Migrate() error {
	_, err := m.chain.Execute(func(tx *chain.Tx) error {
		if _, err := loadConfig(tx); errors.Is(err, ErrNotInitialized) {
			return nil
		}
		return state.EnsureStateVersion(tx, migrations)
	})
	return err
}
