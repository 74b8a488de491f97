package logits

import "testing"

// TestDistributionDeterminism ensures that two distributions seeded
// identically draw identical results from the same logits.
func TestDistributionDeterminism(t *testing.T) {
	logs := []float32{0, 1, 2, 3, 4, 5}
	var c1, c2 Candidates
	c1.Load(logs)
	c2.Load(logs)
	a := NewDistribution(42).Draw(&c1)
	b := NewDistribution(42).Draw(&c2)
	if a != b {
		t.Fatalf("expected deterministic sample, got %d vs %d", a, b)
	}
}

func TestTemperatureZeroIsGreedy(t *testing.T) {
	var c Candidates
	c.Load([]float32{-1, 5, 3, 7, 2})
	Temperature(&c, 0)
	if got := NewDistribution(99).Draw(&c); got != 3 {
		t.Fatalf("expected greedy index 3, got %d", got)
	}
}

func TestTopPKeepsSmallestPrefix(t *testing.T) {
	var c Candidates
	c.Load([]float32{0, 10, 0, 0})
	TopP(&c, 0.9, 1)
	if len(c.Data) != 1 || c.Data[0].ID != 1 {
		t.Fatalf("top-p kept %+v, want only id 1", c.Data)
	}

	c.Load([]float32{1, 1, 1, 1})
	TopP(&c, 0.9, 1)
	if len(c.Data) != 4 {
		t.Fatalf("top-p kept %d of 4 uniform candidates", len(c.Data))
	}
}

func TestPenalizerWindow(t *testing.T) {
	p := NewPenalizer(2, 2, 0, 0)
	p.Accept(0)
	p.Accept(1)
	p.Accept(2) // evicts 0

	var c Candidates
	c.Load([]float32{4, 4, -4})
	p.Apply(&c)
	want := []float32{4, 2, -8}
	for i, w := range want {
		if c.Data[i].Logit != w {
			t.Fatalf("logit[%d] = %v, want %v", i, c.Data[i].Logit, w)
		}
	}

	p.Reset()
	c.Load([]float32{4, 4, -4})
	p.Apply(&c)
	if c.Data[1].Logit != 4 {
		t.Fatalf("penalty applied after Reset")
	}
}

func TestPenalizerFrequencyPresence(t *testing.T) {
	p := NewPenalizer(8, 1, 0.5, 0.25)
	p.Accept(1)
	p.Accept(1)

	var c Candidates
	c.Load([]float32{1, 1})
	p.Apply(&c)
	if got, want := c.Data[1].Logit, float32(1-2*0.5-0.25); got != want {
		t.Fatalf("penalised logit = %v, want %v", got, want)
	}
}

func TestMaskAndEmptyDraw(t *testing.T) {
	var c Candidates
	c.Load([]float32{1, 2, 3})
	Mask(&c, func(id int32) bool { return id == 0 })
	if got := NewDistribution(1).Draw(&c); got != 0 {
		t.Fatalf("draw after mask = %d, want 0", got)
	}
	Mask(&c, func(int32) bool { return false })
	if got := NewDistribution(1).Draw(&c); got != -1 {
		t.Fatalf("draw on empty set = %d, want -1", got)
	}
}
