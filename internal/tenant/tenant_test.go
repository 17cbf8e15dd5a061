package tenant

import (
	"errors"
	"testing"

	"github.com/atmx/clob-engine/internal/fee"
)

func TestNew_Valid(t *testing.T) {
	tn, err := New("acme", "acme-treasury", []string{"USDT", "USDC"}, fee.Schedule{PlacementBps: 10, TradeBps: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tn.AllowsAsset("USDT"); err != nil {
		t.Errorf("expected USDT allowed, got %v", err)
	}
	if err := tn.AllowsAsset("DAI"); !errors.Is(err, ErrAssetNotAllowed) {
		t.Errorf("expected ErrAssetNotAllowed, got %v", err)
	}
	got := tn.Assets()
	if len(got) != 2 || got[0] != "USDC" || got[1] != "USDT" {
		t.Errorf("expected sorted [USDC USDT], got %v", got)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		treasury string
		assets   []string
		fees     fee.Schedule
		want     error
	}{
		{"empty id", "", "t", []string{"USDT"}, fee.Schedule{}, ErrInvalidID},
		{"bad treasury", "acme", "has space", []string{"USDT"}, fee.Schedule{}, ErrInvalidID},
		{"no assets", "acme", "t", nil, fee.Schedule{}, ErrInvalidAsset},
		{"lowercase asset", "acme", "t", []string{"usdt"}, fee.Schedule{}, ErrInvalidAsset},
		{"fee rate too high", "acme", "t", []string{"USDT"}, fee.Schedule{TradeBps: 20000}, fee.ErrInvalidRate},
	}
	for _, tt := range tests {
		if _, err := New(tt.id, tt.treasury, tt.assets, tt.fees); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"alice", "0xAbC123", "us-election-2028", "bob@example.com", "a"}
	for _, id := range valid {
		if err := ValidateID("owner", id); err != nil {
			t.Errorf("expected %q valid, got %v", id, err)
		}
	}

	invalid := []string{
		"",
		"-leading-dash",
		"white space",
		"semi;colon",
		string(make([]byte, 200)),
	}
	for _, id := range invalid {
		if err := ValidateID("owner", id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID for %q, got %v", id, err)
		}
	}
}
