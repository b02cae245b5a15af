package pipeline

import (
	"fmt"

	"github.com/tracefold/chipline/internal/chip"
	"github.com/tracefold/chipline/internal/nrf"
)

// Transformer is the metered transform applied to an allowed chip.
//
// Apply must be pure: output depends only on the envelope, never on
// clocks, randomness, or external state. The engine enforces this by
// evaluating the transform twice and comparing canonical outputs;
// divergence rejects the run.
type Transformer interface {
	Name() string
	Apply(env *chip.Envelope, meter *FuelMeter) (nrf.Value, error)
}

// TransformFunc adapts a function to the Transformer interface.
type TransformFunc struct {
	TransformName string
	Fn            func(env *chip.Envelope, meter *FuelMeter) (nrf.Value, error)
}

func (t TransformFunc) Name() string { return t.TransformName }

func (t TransformFunc) Apply(env *chip.Envelope, meter *FuelMeter) (nrf.Value, error) {
	return t.Fn(env, meter)
}

// NormalizeTransformer is the default transform: it charges fuel for
// every node in the body and emits the body itself. The output CID of
// a normalize run therefore equals the chip CID, which is the
// identity the evidence chain wants when no domain transform is
// registered.
type NormalizeTransformer struct{}

func (NormalizeTransformer) Name() string { return "normalize" }

func (NormalizeTransformer) Apply(env *chip.Envelope, meter *FuelMeter) (nrf.Value, error) {
	if err := chargeValue(env.Body, meter); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// chargeValue walks a value charging one fuel unit per node, plus one
// per 64 bytes of string payload so large blobs cost proportionally.
func chargeValue(v nrf.Value, meter *FuelMeter) error {
	if err := meter.Charge(1); err != nil {
		return err
	}
	switch val := v.(type) {
	case nrf.String:
		return meter.Charge(int64(len(val) / 64))
	case nrf.Array:
		for _, elem := range val {
			if err := chargeValue(elem, meter); err != nil {
				return err
			}
		}
	case nrf.Object:
		for _, key := range val.SortedKeys() {
			if err := meter.Charge(1); err != nil {
				return err
			}
			if err := chargeValue(val[key], meter); err != nil {
				return err
			}
		}
	}
	return nil
}

// runMetered evaluates the transform twice with independent meters
// and requires byte-identical canonical outputs. Returns the output's
// canonical bytes and the fuel used by the first evaluation.
func runMetered(t Transformer, env *chip.Envelope, budget int64) ([]byte, int64, error) {
	first := NewFuelMeter(budget)
	out1, err := t.Apply(env, first)
	if err != nil {
		return nil, first.Used(), err
	}
	b1, err := nrf.MarshalCanonical(out1)
	if err != nil {
		return nil, first.Used(), fmt.Errorf("transform output not canonicalizable: %w", err)
	}

	second := NewFuelMeter(budget)
	out2, err := t.Apply(env, second)
	if err != nil {
		return nil, first.Used(), &nondeterminismError{detail: "second evaluation failed where the first succeeded"}
	}
	b2, err := nrf.MarshalCanonical(out2)
	if err != nil {
		return nil, first.Used(), &nondeterminismError{detail: "second evaluation produced uncanonicalizable output"}
	}
	if string(b1) != string(b2) {
		return nil, first.Used(), &nondeterminismError{detail: "evaluations diverged"}
	}
	return b1, first.Used(), nil
}

type nondeterminismError struct {
	detail string
}

func (e *nondeterminismError) Error() string {
	return "transform is not deterministic: " + e.detail
}
