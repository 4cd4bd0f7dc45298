// Package registry loads and validates the static deployment registry that
// names every monitored (source chain, target chain, deployment) unit.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"bridge-sentinel/internal/ratio"
)

// ErrInvalid tags a deployment entry that failed validation. The entry is
// skipped for the run and never retried.
var ErrInvalid = errors.New("registry: invalid deployment")

// Unit identifies one monitored deployment triple with its contract set.
// Units are immutable once loaded.
type Unit struct {
	Symbol        string
	SourceChainID int64
	TargetChainID int64
	SourceCore    common.Address
	TargetCore    common.Address
	SourceHelper  common.Address
	TargetHelper  common.Address
	Oracle        common.Address
	Mode          ratio.Mode
}

// ID returns the stable identifier used as the state-memory key.
func (u Unit) ID() string {
	return u.Symbol
}

// Deployment projects the unit into the ratio calculator's address set.
func (u Unit) Deployment() ratio.Deployment {
	return ratio.Deployment{
		SourceCore:   u.SourceCore,
		TargetCore:   u.TargetCore,
		SourceHelper: u.SourceHelper,
		TargetHelper: u.TargetHelper,
		Mode:         u.Mode,
	}
}

type rawDeployment struct {
	Symbol        string `json:"symbol"`
	SourceChainID int64  `json:"source_chain_id"`
	TargetChainID int64  `json:"target_chain_id"`
	SourceCore    string `json:"source_core"`
	TargetCore    string `json:"target_core"`
	SourceHelper  string `json:"source_helper"`
	TargetHelper  string `json:"target_helper"`
	Oracle        string `json:"oracle"`
	RatioMode     string `json:"ratio_mode"`
}

type registryFile struct {
	Deployments []rawDeployment `json:"deployments"`
}

// Load reads the registry file and validates every entry against the
// configured chain set. Invalid entries are returned as skipped errors (one
// per entry, tagged ErrInvalid) rather than failing the load; only an
// unreadable or unparsable file is fatal.
func Load(path string, chains map[int64]bool) ([]Unit, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data, chains)
}

// Parse validates raw registry JSON. See Load.
func Parse(data []byte, chains map[int64]bool) ([]Unit, []error, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse registry: %w", err)
	}

	units := make([]Unit, 0, len(file.Deployments))
	var skipped []error
	seen := make(map[string]bool)

	for _, raw := range file.Deployments {
		unit, err := validate(raw, chains)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if seen[unit.Symbol] {
			skipped = append(skipped, fmt.Errorf("%w: %s: duplicate symbol", ErrInvalid, unit.Symbol))
			continue
		}
		seen[unit.Symbol] = true
		units = append(units, unit)
	}

	return units, skipped, nil
}

func validate(raw rawDeployment, chains map[int64]bool) (Unit, error) {
	if raw.Symbol == "" {
		return Unit{}, fmt.Errorf("%w: missing symbol", ErrInvalid)
	}
	if !chains[raw.SourceChainID] {
		return Unit{}, fmt.Errorf("%w: %s: unknown source chain id %d", ErrInvalid, raw.Symbol, raw.SourceChainID)
	}
	if !chains[raw.TargetChainID] {
		return Unit{}, fmt.Errorf("%w: %s: unknown target chain id %d", ErrInvalid, raw.Symbol, raw.TargetChainID)
	}

	mode := ratio.Mode(raw.RatioMode)
	if mode == "" {
		mode = ratio.ModeGross
	}
	if !mode.Valid() {
		return Unit{}, fmt.Errorf("%w: %s: unknown ratio mode %q", ErrInvalid, raw.Symbol, raw.RatioMode)
	}

	unit := Unit{
		Symbol:        raw.Symbol,
		SourceChainID: raw.SourceChainID,
		TargetChainID: raw.TargetChainID,
		Mode:          mode,
	}

	addresses := []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"source_core", raw.SourceCore, &unit.SourceCore},
		{"target_core", raw.TargetCore, &unit.TargetCore},
		{"source_helper", raw.SourceHelper, &unit.SourceHelper},
		{"target_helper", raw.TargetHelper, &unit.TargetHelper},
		{"oracle", raw.Oracle, &unit.Oracle},
	}
	for _, field := range addresses {
		if !common.IsHexAddress(field.value) {
			return Unit{}, fmt.Errorf("%w: %s: malformed %s address %q", ErrInvalid, raw.Symbol, field.name, field.value)
		}
		*field.dst = common.HexToAddress(field.value)
	}

	return unit, nil
}

// Select filters units by symbol. Unknown symbols yield an error so an
// operator run cannot silently target nothing.
func Select(units []Unit, symbols []string) ([]Unit, error) {
	if len(symbols) == 0 {
		return units, nil
	}

	bySymbol := make(map[string]Unit, len(units))
	for _, unit := range units {
		bySymbol[unit.Symbol] = unit
	}

	selected := make([]Unit, 0, len(symbols))
	for _, symbol := range symbols {
		unit, ok := bySymbol[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalid, symbol)
		}
		selected = append(selected, unit)
	}
	return selected, nil
}
