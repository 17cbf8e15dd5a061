// Package tenant holds the static configuration of one prediction-market
// tenant: which collateral assets it accepts, its fee schedule and the
// treasury owner that receives fees. It also validates the identifiers
// clients pass in.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/atmx/clob-engine/internal/fee"
)

// idRegex matches owner, event and order identifiers, e.g. "0xAbC123",
// "us-election-2028", "alice@example".
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

// assetRegex matches asset tickers, e.g. USDT, USDC, WETH.
var assetRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}$`)

var (
	ErrInvalidID       = errors.New("tenant: invalid identifier")
	ErrInvalidAsset    = errors.New("tenant: invalid asset symbol")
	ErrAssetNotAllowed = errors.New("tenant: asset not allowed")
)

// Tenant is one platform instance.
type Tenant struct {
	ID       string
	Treasury string
	Fees     fee.Schedule

	assets map[string]bool
}

// New validates and builds a tenant.
func New(id, treasury string, assets []string, fees fee.Schedule) (*Tenant, error) {
	if err := ValidateID("tenant", id); err != nil {
		return nil, err
	}
	if err := ValidateID("treasury", treasury); err != nil {
		return nil, err
	}
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: at least one asset required", ErrInvalidAsset)
	}

	allowed := make(map[string]bool, len(assets))
	for _, a := range assets {
		if !assetRegex.MatchString(a) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAsset, a)
		}
		allowed[a] = true
	}
	return &Tenant{ID: id, Treasury: treasury, Fees: fees, assets: allowed}, nil
}

// AllowsAsset returns nil if asset is on the allow-list.
func (t *Tenant) AllowsAsset(asset string) error {
	if !t.assets[asset] {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset)
	}
	return nil
}

// Assets returns the allow-list, sorted.
func (t *Tenant) Assets() []string {
	out := make([]string, 0, len(t.assets))
	for a := range t.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ValidateID checks an identifier; kind names it in the error.
func ValidateID(kind, id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, kind, id)
	}
	return nil
}
