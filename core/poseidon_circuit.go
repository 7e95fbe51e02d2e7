package core

// In-circuit twin of the canonical Poseidon sponge. The gadget consumes the
// same Grain-LFSR constants as the native permutation, so a hash computed
// natively and one recomputed inside a Groth16 circuit agree bit for bit.

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark/frontend"
)

type poseidonCircuitParams struct {
	ark [][poseidonWidth]*big.Int
	mds [poseidonWidth][poseidonWidth]*big.Int
}

var (
	poseidonGadgetOnce sync.Once
	poseidonGadgetCfg  *poseidonCircuitParams
)

func poseidonGadgetConfig() *poseidonCircuitParams {
	poseidonGadgetOnce.Do(func() {
		native := poseidonConfig()
		cfg := &poseidonCircuitParams{ark: make([][poseidonWidth]*big.Int, len(native.ark))}
		for r := range native.ark {
			for i := 0; i < poseidonWidth; i++ {
				cfg.ark[r][i] = new(big.Int)
				native.ark[r][i].BigInt(cfg.ark[r][i])
			}
		}
		for i := 0; i < poseidonWidth; i++ {
			for j := 0; j < poseidonWidth; j++ {
				cfg.mds[i][j] = new(big.Int)
				native.mds[i][j].BigInt(cfg.mds[i][j])
			}
		}
		poseidonGadgetCfg = cfg
	})
	return poseidonGadgetCfg
}

func sboxGadget(api frontend.API, x frontend.Variable) frontend.Variable {
	x2 := api.Mul(x, x)
	x4 := api.Mul(x2, x2)
	return api.Mul(x4, x)
}

func poseidonPermuteGadget(api frontend.API, state [poseidonWidth]frontend.Variable) [poseidonWidth]frontend.Variable {
	cfg := poseidonGadgetConfig()
	half := poseidonFullRounds / 2
	round := 0

	ark := func() {
		for i := 0; i < poseidonWidth; i++ {
			state[i] = api.Add(state[i], cfg.ark[round][i])
		}
	}
	mix := func() {
		var next [poseidonWidth]frontend.Variable
		for i := 0; i < poseidonWidth; i++ {
			acc := frontend.Variable(0)
			for j := 0; j < poseidonWidth; j++ {
				acc = api.Add(acc, api.Mul(cfg.mds[i][j], state[j]))
			}
			next[i] = acc
		}
		state = next
	}

	for r := 0; r < half; r++ {
		ark()
		for i := 0; i < poseidonWidth; i++ {
			state[i] = sboxGadget(api, state[i])
		}
		mix()
		round++
	}
	for r := 0; r < poseidonPartialRound; r++ {
		ark()
		state[0] = sboxGadget(api, state[0])
		mix()
		round++
	}
	for r := 0; r < half; r++ {
		ark()
		for i := 0; i < poseidonWidth; i++ {
			state[i] = sboxGadget(api, state[i])
		}
		mix()
		round++
	}
	return state
}

// PoseidonHashGadget mirrors PoseidonHash inside a circuit.
func PoseidonHashGadget(api frontend.API, inputs ...frontend.Variable) frontend.Variable {
	state := [poseidonWidth]frontend.Variable{0, 0, 0}
	for start := 0; start < len(inputs); start += poseidonRate {
		end := start + poseidonRate
		if end > len(inputs) {
			end = len(inputs)
		}
		for i, in := range inputs[start:end] {
			state[1+i] = api.Add(state[1+i], in)
		}
		state = poseidonPermuteGadget(api, state)
	}
	if len(inputs) == 0 {
		state = poseidonPermuteGadget(api, state)
	}
	return state[1]
}
