package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"margincore/internal/config"
)

const validDeployment = `
group:
  id: "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
  admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
  account_capacity: 8
markets:
  - token_index: 0
    symbol: USDC
    decimals: 6
    vault: "11111111-1111-1111-1111-111111111111"
    oracle: "22222222-2222-2222-2222-222222222222"
    init_asset_weight: "1"
    init_liab_weight: "1"
    maint_asset_weight: "1"
    maint_liab_weight: "1"
    oracle_max_stale_us: 60000000
  - token_index: 1
    symbol: SOL
    decimals: 9
    vault: "33333333-3333-3333-3333-333333333333"
    oracle: "44444444-4444-4444-4444-444444444444"
    init_asset_weight: "0.8"
    init_liab_weight: "1.2"
    maint_asset_weight: "0.9"
    maint_liab_weight: "1.1"
    oracle_max_stale_us: 60000000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidDeployment(t *testing.T) {
	d, err := config.Load(writeConfig(t, validDeployment))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	group := d.Group.State()
	if group.AccountCapacity != 8 {
		t.Errorf("account capacity %d, want 8", group.AccountCapacity)
	}
	if group.ID.String() != "3f2504e0-4f89-41d3-9a0c-0305e82c3301" {
		t.Errorf("group id %s", group.ID)
	}
	if len(d.Markets) != 2 {
		t.Fatalf("markets %d, want 2", len(d.Markets))
	}

	ins := d.Markets[1].Instruction(group.ID, 1, 1_700_000_000_000_000)
	if ins.Symbol != "SOL" || ins.TokenIndex != 1 {
		t.Errorf("instruction %+v", ins)
	}
	if ins.InitAssetWeight.String() != "0.8" {
		t.Errorf("init asset weight %s, want 0.8", ins.InitAssetWeight)
	}
}

// Seeding relies on the instruction id being a pure function of group and
// token index, so restarts dedupe instead of double-registering.
func TestSeedInstructionIDDeterministic(t *testing.T) {
	d1, err := config.Load(writeConfig(t, validDeployment))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d2, err := config.Load(writeConfig(t, validDeployment))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	a := d1.Markets[0].Instruction(d1.Group.State().ID, 0, 111)
	b := d2.Markets[0].Instruction(d2.Group.State().ID, 0, 222)
	if a.InstructionID != b.InstructionID {
		t.Errorf("instruction ids differ: %s vs %s", a.InstructionID, b.InstructionID)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad group id":    `{group: {id: "nope", admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", account_capacity: 8}}`,
		"zero capacity":   `{group: {id: "3f2504e0-4f89-41d3-9a0c-0305e82c3301", admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", account_capacity: 0}}`,
		"bad weight":      `{group: {id: "3f2504e0-4f89-41d3-9a0c-0305e82c3301", admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", account_capacity: 8}, markets: [{token_index: 0, symbol: USDC, decimals: 6, vault: "11111111-1111-1111-1111-111111111111", oracle: "22222222-2222-2222-2222-222222222222", init_asset_weight: "eleven", init_liab_weight: "1", maint_asset_weight: "1", maint_liab_weight: "1", oracle_max_stale_us: 60000000}]}`,
		"missing symbol":  `{group: {id: "3f2504e0-4f89-41d3-9a0c-0305e82c3301", admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", account_capacity: 8}, markets: [{token_index: 0, decimals: 6, vault: "11111111-1111-1111-1111-111111111111", oracle: "22222222-2222-2222-2222-222222222222", init_asset_weight: "1", init_liab_weight: "1", maint_asset_weight: "1", maint_liab_weight: "1", oracle_max_stale_us: 60000000}]}`,
		"duplicate index": `{group: {id: "3f2504e0-4f89-41d3-9a0c-0305e82c3301", admin: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", account_capacity: 8}, markets: [{token_index: 0, symbol: A, decimals: 6, vault: "11111111-1111-1111-1111-111111111111", oracle: "22222222-2222-2222-2222-222222222222", init_asset_weight: "1", init_liab_weight: "1", maint_asset_weight: "1", maint_liab_weight: "1", oracle_max_stale_us: 60000000}, {token_index: 0, symbol: B, decimals: 6, vault: "33333333-3333-3333-3333-333333333333", oracle: "44444444-4444-4444-4444-444444444444", init_asset_weight: "1", init_liab_weight: "1", maint_asset_weight: "1", maint_liab_weight: "1", oracle_max_stale_us: 60000000}]}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
