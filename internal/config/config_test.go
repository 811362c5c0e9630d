package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestParseWad(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.05", "50000000000000000"},
		{"1.2", "1200000000000000000"},
		{"1", "1000000000000000000"},
		{"0", "0"},
		{".5", "500000000000000000"},
		{"2.000000000000000001", "2000000000000000001"},
	}
	for _, tc := range cases {
		got, err := ParseWad(tc.in)
		if err != nil {
			t.Errorf("ParseWad(%q): %v", tc.in, err)
			continue
		}
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Errorf("ParseWad(%q) = %s, want %s", tc.in, got, want)
		}
	}

	if got, err := ParseWad(""); err != nil || got != nil {
		t.Errorf("ParseWad(\"\") = %v, %v, want nil, nil", got, err)
	}
	if _, err := ParseWad("0.0000000000000000001"); err == nil {
		t.Error("expected error for 19 decimal places")
	}
	if _, err := ParseWad("abc"); err == nil {
		t.Error("expected error for non-decimal input")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
postgres:
  dsn: postgres://file-dsn
auction:
  mid_point: 300
  duration: 900
terms:
  - term: usdc-1
    max_debt_per_collateral: "2.0"
    interest_rate: "0.04"
    call_fee: "0.015"
    call_period: 500
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREDIT_POSTGRES_DSN", "postgres://env-dsn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env-dsn" {
		t.Errorf("dsn = %q, want env override", cfg.Postgres.DSN)
	}
	if cfg.Auction.MidPoint != 300 || cfg.Auction.Duration != 900 {
		t.Errorf("auction = %+v, want file values", cfg.Auction)
	}
	// Untouched sections keep defaults.
	if cfg.Server.GRPCAddr != ":9090" {
		t.Errorf("grpc addr = %q, want default", cfg.Server.GRPCAddr)
	}

	if len(cfg.Terms) != 1 {
		t.Fatalf("terms = %d, want 1", len(cfg.Terms))
	}
	params, err := cfg.Terms[0].BookParams()
	if err != nil {
		t.Fatalf("BookParams: %v", err)
	}
	if params.Term != "usdc-1" || params.CallPeriod != 500 {
		t.Errorf("params = %+v", params)
	}
	wantRate, _ := new(big.Int).SetString("40000000000000000", 10)
	if params.InterestRateWad.Cmp(wantRate) != 0 {
		t.Errorf("interest rate = %s, want %s", params.InterestRateWad, wantRate)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
terms:
  - term: usdc-1
    max_debt_per_collateral: "2.0"
  - term: usdc-1
    max_debt_per_collateral: "2.0"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected duplicate-term error")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected read error for missing file")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
