package strategy

import "errors"

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingQuantity     = errors.New("STEP_TRIGGER/SMA_CROSS requires quantity")
	ErrMissingBuyStep      = errors.New("STEP_TRIGGER requires buy_step")
	ErrMissingWindows      = errors.New("SMA_CROSS requires fast_window and slow_window")
	ErrInvalidWindows      = errors.New("SMA_CROSS requires fast_window < slow_window")
	ErrInvalidFraction     = errors.New("BUY_HOLD requires fraction in (0, 1]")
)

// Strategy type identifiers accepted by FromParams.
const (
	TypeStepTrigger = "STEP_TRIGGER"
	TypeSMACross    = "SMA_CROSS"
	TypeBuyHold     = "BUY_HOLD"
)

// FromParams creates a Strategy from a run config's strategy ID and
// parameter map. Validates required parameters per strategy type.
func FromParams(strategyType string, params map[string]float64) (Strategy, error) {
	switch strategyType {
	case TypeStepTrigger:
		return fromStepTriggerParams(params)
	case TypeSMACross:
		return fromSMACrossParams(params)
	case TypeBuyHold:
		return fromBuyHoldParams(params)
	default:
		return nil, ErrUnknownStrategyType
	}
}

func fromStepTriggerParams(params map[string]float64) (*StepTriggerStrategy, error) {
	buyStep, ok := params["buy_step"]
	if !ok {
		return nil, ErrMissingBuyStep
	}
	qty := params["quantity"]
	if qty <= 0 {
		return nil, ErrMissingQuantity
	}

	sellStep := int64(-1)
	if v, ok := params["sell_step"]; ok {
		sellStep = int64(v)
	}
	return NewStepTriggerStrategy(int64(buyStep), sellStep, qty), nil
}

func fromSMACrossParams(params map[string]float64) (*SMACrossStrategy, error) {
	fast, fastOK := params["fast_window"]
	slow, slowOK := params["slow_window"]
	if !fastOK || !slowOK || fast < 1 || slow < 1 {
		return nil, ErrMissingWindows
	}
	if int(fast) >= int(slow) {
		return nil, ErrInvalidWindows
	}
	qty := params["quantity"]
	if qty <= 0 {
		return nil, ErrMissingQuantity
	}
	return NewSMACrossStrategy(int(fast), int(slow), qty), nil
}

func fromBuyHoldParams(params map[string]float64) (*BuyHoldStrategy, error) {
	fraction := params["fraction"]
	if fraction <= 0 || fraction > 1 {
		return nil, ErrInvalidFraction
	}
	return NewBuyHoldStrategy(fraction), nil
}
