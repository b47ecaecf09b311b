package substrate

import (
	"context"
	"fmt"
)

// Mechanism is the transfer call family the connected chain supports
type Mechanism int

const (
	MechanismNone Mechanism = iota
	MechanismMultiAsset
	MechanismNativeBalance
	MechanismCustomPallet
)

func (m Mechanism) String() string {
	switch m {
	case MechanismMultiAsset:
		return "multi-asset"
	case MechanismNativeBalance:
		return "native-balance"
	case MechanismCustomPallet:
		return "custom-pallet"
	default:
		return "none"
	}
}

// Capability is the probed transfer mechanism and the call that implements it
type Capability struct {
	Mechanism Mechanism
	Call      string // "Pallet.call_name"
}

// Call names probed in order
const (
	callTokensTransfer          = "Tokens.transfer"
	callBalancesTransferAllow   = "Balances.transfer_allow_death"
	callBalancesTransferClassic = "Balances.transfer"
)

// CallLookup reports whether the runtime exposes a call
type CallLookup interface {
	HasCall(ctx context.Context, call string) (bool, error)
}

// Probe picks the transfer mechanism:
// multi-asset tokens (unless forceNative), then native balances, then the
// chain-specific custom call.
func Probe(ctx context.Context, calls CallLookup, forceNative bool, customCall string) (Capability, error) {
	type candidate struct {
		mechanism Mechanism
		call      string
	}

	var candidates []candidate
	if !forceNative {
		candidates = append(candidates, candidate{MechanismMultiAsset, callTokensTransfer})
	}
	candidates = append(candidates,
		candidate{MechanismNativeBalance, callBalancesTransferAllow},
		candidate{MechanismNativeBalance, callBalancesTransferClassic},
	)
	if customCall != "" {
		candidates = append(candidates, candidate{MechanismCustomPallet, customCall})
	}

	for _, c := range candidates {
		ok, err := calls.HasCall(ctx, c.call)
		if err != nil {
			return Capability{}, fmt.Errorf("probe %s: %w", c.call, err)
		}
		if ok {
			return Capability{Mechanism: c.mechanism, Call: c.call}, nil
		}
	}
	return Capability{Mechanism: MechanismNone}, nil
}
