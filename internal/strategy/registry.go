package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownStrategy is returned for names the registry does not know.
var ErrUnknownStrategy = errors.New("unknown strategy")

var registry = map[string]func(raw json.RawMessage) (Strategy, error){
	"dual_ma": func(raw json.RawMessage) (Strategy, error) {
		p := DefaultDualMAParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return NewDualMA(p), nil
	},
	"rsi": func(raw json.RawMessage) (Strategy, error) {
		p := DefaultRSIParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return NewRSIReversal(p), nil
	},
	"macd": func(raw json.RawMessage) (Strategy, error) {
		p := DefaultMACDParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return NewMACDCross(p), nil
	},
	"bollinger": func(raw json.RawMessage) (Strategy, error) {
		p := DefaultBollingerParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return NewBollingerBounce(p), nil
	},
}

type validator interface {
	Validate() error
}

// decodeParams overlays raw JSON onto defaults already present in dst.
// Unknown keys are rejected so a typo fails loudly instead of silently
// running the defaults.
func decodeParams(raw json.RawMessage, dst validator) error {
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return err
		}
	}
	return dst.Validate()
}

// New builds a registered strategy with its default parameters.
func New(name string) (Strategy, error) {
	return NewWithParams(name, nil)
}

// NewWithParams builds a registered strategy with raw JSON parameter
// overrides on top of its defaults. Empty raw keeps the defaults.
func NewWithParams(name string, raw json.RawMessage) (Strategy, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	s, err := build(raw)
	if err != nil {
		return nil, fmt.Errorf("strategy %s params: %w", name, err)
	}
	return s, nil
}

// Names lists the registered strategies in stable order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
