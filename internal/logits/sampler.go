package logits

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Candidate is one vocabulary entry under consideration for the next token.
type Candidate struct {
	ID    int32
	Logit float32
	P     float32
}

// Candidates is the working set a sampler chain narrows down. Sorted means
// Data is ordered by descending logit and P holds a normalised softmax.
type Candidates struct {
	Data   []Candidate
	Sorted bool
}

// Load fills c from a logits vector, reusing c's backing array.
func (c *Candidates) Load(logits []float32) {
	if cap(c.Data) < len(logits) {
		c.Data = make([]Candidate, len(logits))
	}
	c.Data = c.Data[:len(logits)]
	for i, l := range logits {
		c.Data[i] = Candidate{ID: int32(i), Logit: l}
	}
	c.Sorted = false
}

// Softmax sorts the candidates by logit and computes probabilities. The max
// logit is subtracted for numerical stability.
func (c *Candidates) Softmax() {
	if len(c.Data) == 0 {
		return
	}
	if !c.Sorted {
		sort.SliceStable(c.Data, func(i, j int) bool { return c.Data[i].Logit > c.Data[j].Logit })
		c.Sorted = true
	}
	maxv := c.Data[0].Logit
	var sum float64
	for i := range c.Data {
		e := math.Exp(float64(c.Data[i].Logit - maxv))
		c.Data[i].P = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := 1 / sum
	for i := range c.Data {
		c.Data[i].P = float32(float64(c.Data[i].P) * inv)
	}
}

// TopP truncates to the smallest prefix whose cumulative probability reaches
// p, keeping at least minKeep candidates.
func TopP(c *Candidates, p float32, minKeep int) {
	if p >= 1 || len(c.Data) == 0 {
		return
	}
	c.Softmax()
	var cum float64
	cut := len(c.Data)
	for i := range c.Data {
		cum += float64(c.Data[i].P)
		if float32(cum) >= p && i+1 >= minKeep {
			cut = i + 1
			break
		}
	}
	c.Data = c.Data[:cut]
}

// Temperature scales logits by 1/t. A non-positive temperature collapses the
// set to its argmax.
func Temperature(c *Candidates, t float32) {
	if len(c.Data) == 0 {
		return
	}
	if t <= 0 {
		best := 0
		for i := 1; i < len(c.Data); i++ {
			if c.Data[i].Logit > c.Data[best].Logit {
				best = i
			}
		}
		c.Data[0] = c.Data[best]
		c.Data = c.Data[:1]
		c.Data[0].P = 1
		c.Sorted = true
		return
	}
	inv := 1 / t
	for i := range c.Data {
		c.Data[i].Logit *= inv
	}
}

// Mask removes every candidate for which keep returns false.
func Mask(c *Candidates, keep func(id int32) bool) {
	n := 0
	for _, cand := range c.Data {
		if keep(cand.ID) {
			c.Data[n] = cand
			n++
		}
	}
	c.Data = c.Data[:n]
}

// Penalizer applies repeat, frequency and presence penalties over the last
// LastN accepted tokens.
type Penalizer struct {
	LastN     int
	Repeat    float32
	Frequency float32
	Presence  float32

	recent []int32
	counts map[int32]int
}

func NewPenalizer(lastN int, repeat, frequency, presence float32) *Penalizer {
	if lastN < 0 {
		lastN = 0
	}
	if repeat <= 0 {
		repeat = 1
	}
	return &Penalizer{
		LastN:     lastN,
		Repeat:    repeat,
		Frequency: frequency,
		Presence:  presence,
		counts:    make(map[int32]int),
	}
}

func (p *Penalizer) Accept(id int32) {
	if p.LastN == 0 {
		return
	}
	if len(p.recent) == p.LastN {
		old := p.recent[0]
		p.recent = p.recent[1:]
		if p.counts[old]--; p.counts[old] <= 0 {
			delete(p.counts, old)
		}
	}
	p.recent = append(p.recent, id)
	p.counts[id]++
}

func (p *Penalizer) Apply(c *Candidates) {
	if len(p.counts) == 0 {
		return
	}
	for i := range c.Data {
		n, ok := p.counts[c.Data[i].ID]
		if !ok {
			continue
		}
		l := c.Data[i].Logit
		if l > 0 {
			l /= p.Repeat
		} else {
			l *= p.Repeat
		}
		l -= float32(n)*p.Frequency + p.Presence
		c.Data[i].Logit = l
	}
	c.Sorted = false
}

func (p *Penalizer) Reset() {
	p.recent = p.recent[:0]
	clear(p.counts)
}

// Distribution draws the final token from the softmax of the remaining
// candidates.
type Distribution struct {
	rng *rand.Rand
}

func NewDistribution(seed uint64) *Distribution {
	return &Distribution{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Draw returns the chosen id, or -1 when c is empty.
func (d *Distribution) Draw(c *Candidates) int32 {
	if len(c.Data) == 0 {
		return -1
	}
	c.Softmax()
	r := d.rng.Float64()
	var cum float64
	for i := range c.Data {
		cum += float64(c.Data[i].P)
		if r <= cum {
			return c.Data[i].ID
		}
	}
	return c.Data[len(c.Data)-1].ID
}

// Argmax returns the index of the maximum value in x. It panics on an empty
// slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
