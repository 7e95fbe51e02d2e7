package core

// Canonical Poseidon sponge for the NONOS node. Every commitment, nullifier,
// tree node and circuit hash in this repository goes through this exact
// configuration; replacing the constants invalidates all persisted state.
//
// Parameters (BN254 scalar field):
//   width 3 (rate 2, capacity 1), 8 full + 57 partial rounds, S-box x^5,
//   round constants and MDS matrix from the Grain-LFSR procedure of the
//   Poseidon reference implementation.
//
// Hash functions output the first rate element of the state after squeezing.

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	poseidonWidth        = 3
	poseidonRate         = 2
	poseidonFullRounds   = 8
	poseidonPartialRound = 57
	poseidonFieldBits    = 254
)

// PoseidonParamsVersion is bumped whenever the sponge configuration changes.
// It never changes silently; persisted state is keyed to it.
const PoseidonParamsVersion = 1

// poseidonParams holds the expanded round constants and MDS matrix.
type poseidonParams struct {
	// ark[r][i] is the round constant for state element i in round r.
	ark [][poseidonWidth]fr.Element
	// mds[i][j] multiplies state element j into new element i.
	mds [poseidonWidth][poseidonWidth]fr.Element
}

var (
	poseidonOnce sync.Once
	poseidonCfg  *poseidonParams
)

// poseidonConfig returns the process-wide sponge configuration, generating it
// on first use.
func poseidonConfig() *poseidonParams {
	poseidonOnce.Do(func() {
		poseidonCfg = generatePoseidonParams()
	})
	return poseidonCfg
}

// grainLFSR is the 80-bit shift register used to derive round constants.
type grainLFSR struct {
	state [80]bool
}

func newGrainLFSR(fieldBits, width, fullRounds, partialRounds uint) *grainLFSR {
	g := &grainLFSR{}
	pos := 0
	push := func(v uint64, bits int) {
		for i := bits - 1; i >= 0; i-- {
			g.state[pos] = (v>>uint(i))&1 == 1
			pos++
		}
	}
	push(1, 2)                     // prime field marker
	push(0, 4)                     // S-box x^alpha
	push(uint64(fieldBits), 12)    // field size
	push(uint64(width), 12)        // sponge width
	push(uint64(fullRounds), 10)   // R_F
	push(uint64(partialRounds), 10) // R_P
	for pos < 80 {
		g.state[pos] = true
		pos++
	}
	// Discard the first 160 bits.
	for i := 0; i < 160; i++ {
		g.nextBit()
	}
	return g
}

func (g *grainLFSR) nextBit() bool {
	next := g.state[62] != g.state[51]
	next = next != g.state[38]
	next = next != g.state[23]
	next = next != g.state[13]
	next = next != g.state[0]
	copy(g.state[:], g.state[1:])
	g.state[79] = next
	return next
}

// filteredBit implements the self-shrinking rule: a 1 selects the following
// bit for output, a 0 discards it.
func (g *grainLFSR) filteredBit() bool {
	for {
		if g.nextBit() {
			return g.nextBit()
		}
		g.nextBit()
	}
}

// nextFieldElement rejection-samples a canonical field element.
func (g *grainLFSR) nextFieldElement(modulus *big.Int) fr.Element {
	candidate := new(big.Int)
	for {
		candidate.SetInt64(0)
		for i := 0; i < poseidonFieldBits; i++ {
			candidate.Lsh(candidate, 1)
			if g.filteredBit() {
				candidate.SetBit(candidate, 0, 1)
			}
		}
		if candidate.Cmp(modulus) < 0 {
			var e fr.Element
			e.SetBigInt(candidate)
			return e
		}
	}
}

func generatePoseidonParams() *poseidonParams {
	modulus := fr.Modulus()
	g := newGrainLFSR(poseidonFieldBits, poseidonWidth, poseidonFullRounds, poseidonPartialRound)

	rounds := poseidonFullRounds + poseidonPartialRound
	p := &poseidonParams{ark: make([][poseidonWidth]fr.Element, rounds)}
	for r := 0; r < rounds; r++ {
		for i := 0; i < poseidonWidth; i++ {
			p.ark[r][i] = g.nextFieldElement(modulus)
		}
	}

	// Cauchy MDS matrix: m[i][j] = 1 / (x_i + y_j) with x_i = i, y_j = t + j.
	for i := 0; i < poseidonWidth; i++ {
		for j := 0; j < poseidonWidth; j++ {
			var sum fr.Element
			sum.SetUint64(uint64(i + poseidonWidth + j))
			p.mds[i][j].Inverse(&sum)
		}
	}
	return p
}

// sbox computes x^5 in place.
func sbox(x *fr.Element) {
	var x2, x4 fr.Element
	x2.Square(x)
	x4.Square(&x2)
	x.Mul(&x4, x)
}

// poseidonPermute applies the full permutation to a width-3 state.
func poseidonPermute(state *[poseidonWidth]fr.Element) {
	cfg := poseidonConfig()
	half := poseidonFullRounds / 2
	round := 0

	applyARK := func() {
		for i := 0; i < poseidonWidth; i++ {
			state[i].Add(&state[i], &cfg.ark[round][i])
		}
	}
	applyMDS := func() {
		var next [poseidonWidth]fr.Element
		for i := 0; i < poseidonWidth; i++ {
			var acc, term fr.Element
			for j := 0; j < poseidonWidth; j++ {
				term.Mul(&cfg.mds[i][j], &state[j])
				acc.Add(&acc, &term)
			}
			next[i] = acc
		}
		*state = next
	}

	for r := 0; r < half; r++ {
		applyARK()
		for i := 0; i < poseidonWidth; i++ {
			sbox(&state[i])
		}
		applyMDS()
		round++
	}
	for r := 0; r < poseidonPartialRound; r++ {
		applyARK()
		sbox(&state[0])
		applyMDS()
		round++
	}
	for r := 0; r < half; r++ {
		applyARK()
		for i := 0; i < poseidonWidth; i++ {
			sbox(&state[i])
		}
		applyMDS()
		round++
	}
}

// PoseidonHash absorbs all inputs and squeezes a single field element.
func PoseidonHash(inputs ...fr.Element) fr.Element {
	var state [poseidonWidth]fr.Element
	for start := 0; start < len(inputs); start += poseidonRate {
		end := start + poseidonRate
		if end > len(inputs) {
			end = len(inputs)
		}
		for i, in := range inputs[start:end] {
			state[1+i].Add(&state[1+i], &in)
		}
		poseidonPermute(&state)
	}
	if len(inputs) == 0 {
		poseidonPermute(&state)
	}
	return state[1]
}

// PoseidonHash1 hashes a single field element.
func PoseidonHash1(a fr.Element) fr.Element { return PoseidonHash(a) }

// PoseidonHash2 hashes two field elements; the primary Merkle node operation.
func PoseidonHash2(a, b fr.Element) fr.Element { return PoseidonHash(a, b) }

// PoseidonHash3 hashes three field elements; used for commitments.
func PoseidonHash3(a, b, c fr.Element) fr.Element { return PoseidonHash(a, b, c) }

// PoseidonHashBytes hashes raw byte strings after reduction into the field.
func PoseidonHashBytes(inputs ...[]byte) [32]byte {
	elems := make([]fr.Element, len(inputs))
	for i, in := range inputs {
		elems[i].SetBytes(in)
	}
	out := PoseidonHash(elems...)
	return FrToBytes(out)
}

// BytesToFr interprets b as a big-endian integer reduced into the field.
func BytesToFr(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}

// FrToBytes returns the canonical 32-byte big-endian encoding.
func FrToBytes(e fr.Element) [32]byte {
	return e.Bytes()
}
