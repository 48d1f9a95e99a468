// Package config loads the deployment file: the margin group and the token
// markets it trades. Service-level settings (addresses, channel sizes) stay
// in environment variables; this file is the part an operator reviews.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"margincore/internal/fixedpoint"
	"margincore/internal/instruction"
	"margincore/internal/state"
)

type Deployment struct {
	Group   GroupConfig    `yaml:"group"`
	Markets []MarketConfig `yaml:"markets"`
}

// GroupConfig identifies the margin group. IDs are UUID strings in the file
// and parsed during Validate.
type GroupConfig struct {
	ID    string `yaml:"id"`
	Admin string `yaml:"admin"`
	// AccountCapacity is the position-slot count given to every new account.
	AccountCapacity int `yaml:"account_capacity"`

	id, admin uuid.UUID
}

// MarketConfig describes one token market. Weights are decimal strings so the
// file stays reviewable; they are parsed into fixed-point on load.
type MarketConfig struct {
	TokenIndex       uint16 `yaml:"token_index"`
	Symbol           string `yaml:"symbol"`
	Decimals         uint8  `yaml:"decimals"`
	Vault            string `yaml:"vault"`
	Oracle           string `yaml:"oracle"`
	InitAssetWeight  string `yaml:"init_asset_weight"`
	InitLiabWeight   string `yaml:"init_liab_weight"`
	MaintAssetWeight string `yaml:"maint_asset_weight"`
	MaintLiabWeight  string `yaml:"maint_liab_weight"`
	OracleMaxStaleUs int64  `yaml:"oracle_max_stale_us"`

	vault, oracle                              uuid.UUID
	initAsset, initLiab, maintAsset, maintLiab fixedpoint.Num
}

// Load reads and validates the deployment file.
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate parses embedded UUIDs and weights and checks structural rules.
func (d *Deployment) Validate() error {
	var err error
	if d.Group.id, err = uuid.Parse(d.Group.ID); err != nil {
		return fmt.Errorf("group.id: %w", err)
	}
	if d.Group.admin, err = uuid.Parse(d.Group.Admin); err != nil {
		return fmt.Errorf("group.admin: %w", err)
	}
	if d.Group.id == uuid.Nil {
		return fmt.Errorf("group.id must not be the nil uuid")
	}
	if d.Group.AccountCapacity <= 0 {
		return fmt.Errorf("group.account_capacity must be positive, got %d", d.Group.AccountCapacity)
	}

	seen := make(map[uint16]bool, len(d.Markets))
	for i := range d.Markets {
		m := &d.Markets[i]
		if err := m.parse(); err != nil {
			return fmt.Errorf("markets[%d] (%s): %w", i, m.Symbol, err)
		}
		if seen[m.TokenIndex] {
			return fmt.Errorf("markets[%d]: duplicate token_index %d", i, m.TokenIndex)
		}
		seen[m.TokenIndex] = true
	}
	return nil
}

func (m *MarketConfig) parse() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if len(m.Symbol) > 12 {
		return fmt.Errorf("symbol %q exceeds 12 bytes", m.Symbol)
	}
	if m.OracleMaxStaleUs <= 0 {
		return fmt.Errorf("oracle_max_stale_us must be positive")
	}

	var err error
	if m.vault, err = uuid.Parse(m.Vault); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if m.oracle, err = uuid.Parse(m.Oracle); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if m.initAsset, err = fixedpoint.Parse(m.InitAssetWeight); err != nil {
		return fmt.Errorf("init_asset_weight: %w", err)
	}
	if m.initLiab, err = fixedpoint.Parse(m.InitLiabWeight); err != nil {
		return fmt.Errorf("init_liab_weight: %w", err)
	}
	if m.maintAsset, err = fixedpoint.Parse(m.MaintAssetWeight); err != nil {
		return fmt.Errorf("maint_asset_weight: %w", err)
	}
	if m.maintLiab, err = fixedpoint.Parse(m.MaintLiabWeight); err != nil {
		return fmt.Errorf("maint_liab_weight: %w", err)
	}
	return nil
}

// State converts the group section into core state. Call after Validate.
func (g GroupConfig) State() *state.Group {
	return &state.Group{ID: g.id, Admin: g.admin, AccountCapacity: g.AccountCapacity}
}

// Instruction builds the RegisterToken instruction that seeds this market.
// The instruction id is derived from the group id and token index, so
// re-seeding on every startup dedupes instead of double-registering.
func (m *MarketConfig) Instruction(groupID uuid.UUID, seq int64, timestampUs int64) *instruction.RegisterToken {
	name := fmt.Sprintf("register-token:%d", m.TokenIndex)
	return &instruction.RegisterToken{
		InstructionID:    uuid.NewSHA1(groupID, []byte(name)),
		TokenIndex:       state.TokenIndex(m.TokenIndex),
		Symbol:           m.Symbol,
		Decimals:         m.Decimals,
		Vault:            m.vault,
		Oracle:           m.oracle,
		InitAssetWeight:  m.initAsset,
		InitLiabWeight:   m.initLiab,
		MaintAssetWeight: m.maintAsset,
		MaintLiabWeight:  m.maintLiab,
		OracleMaxStaleUs: m.OracleMaxStaleUs,
		Sequence:         seq,
		Timestamp:        timestampUs,
	}
}
