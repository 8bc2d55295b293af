package config

// Limits holds the default caps of one side. Values are decimal strings in
// whole tokens of an 18 decimal token, e.g. "2.5".
type Limits struct {
	DailyLimit          string `toml:"DailyLimit"`
	MaxPerTx            string `toml:"MaxPerTx"`
	MinPerTx            string `toml:"MinPerTx"`
	ExecutionDailyLimit string `toml:"ExecutionDailyLimit"`
	ExecutionMaxPerTx   string `toml:"ExecutionMaxPerTx"`
}

// Fees configures the home side fee manager. Percentages are fractions of
// one, e.g. "0.001" for 0.1%.
type Fees struct {
	HomeToForeign   string   `toml:"HomeToForeign"`
	ForeignToHome   string   `toml:"ForeignToHome"`
	RewardAddresses []string `toml:"RewardAddresses"`
}

// Empty reports whether no fee setting is present.
func (f Fees) Empty() bool {
	return f.HomeToForeign == "" && f.ForeignToHome == "" && len(f.RewardAddresses) == 0
}

// Forwarding lists the manual lane rules applied at bootstrap.
type Forwarding struct {
	ManualTokens    []string `toml:"ManualTokens"`
	ManualSenders   []string `toml:"ManualSenders"`
	ManualReceivers []string `toml:"ManualReceivers"`
}

// Empty reports whether no rule is configured.
func (f Forwarding) Empty() bool {
	return len(f.ManualTokens) == 0 && len(f.ManualSenders) == 0 && len(f.ManualReceivers) == 0
}

// Router configures the native coin router of a side. Both addresses are
// required when either is set.
type Router struct {
	WETH    string `toml:"WETH"`
	Address string `toml:"Address"`
}

// Empty reports whether no router is configured.
func (r Router) Empty() bool {
	return r.WETH == "" && r.Address == ""
}

// Side describes the mediator deployed on one chain.
type Side struct {
	ChainName       string     `toml:"ChainName"`
	ChainID         uint64     `toml:"ChainID"`
	Mediator        string     `toml:"Mediator"`
	Owner           string     `toml:"Owner"`
	TokenFactory    string     `toml:"TokenFactory"`
	NameSuffix      string     `toml:"NameSuffix"`
	RequestGasLimit uint64     `toml:"RequestGasLimit"`
	Limits          Limits     `toml:"limits"`
	Fees            Fees       `toml:"fees"`
	Forwarding      Forwarding `toml:"forwarding"`
	Router          Router     `toml:"router"`
}
