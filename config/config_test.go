package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.PaperTrading {
		t.Error("expected paper trading by default")
	}
	if cfg.Quantity != cfg.LotSize*cfg.NumLots {
		t.Errorf("expected quantity=%d, got %d", cfg.LotSize*cfg.NumLots, cfg.Quantity)
	}
	if cfg.StopLossPaise != 2000 {
		t.Errorf("expected default stop loss 2000 paise, got %d", cfg.StopLossPaise)
	}
	if cfg.TargetPaise != 4000 {
		t.Errorf("expected default target 4000 paise, got %d", cfg.TargetPaise)
	}
	if cfg.MaxOrdersPerSecond != 25 {
		t.Errorf("expected default order ceiling 25/s, got %d", cfg.MaxOrdersPerSecond)
	}
}

func TestLoad_InvalidNumeric(t *testing.T) {
	t.Setenv("LOT_SIZE", "banana")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric LOT_SIZE")
	}
}

func TestLoad_RejectsNonPositiveTimeframe(t *testing.T) {
	t.Setenv("CANDLE_TIMEFRAME_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero candle timeframe")
	}
}

func TestValidateLive_MissingCredentials(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateLive(); err == nil {
		t.Fatal("expected error without broker credentials")
	}

	t.Setenv("DHAN_CLIENT_ID", "C123")
	t.Setenv("DHAN_ACCESS_TOKEN", "tok")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateLive(); err != nil {
		t.Fatalf("expected live validation to pass, got %v", err)
	}
}
