package metrics

import "testing"

func TestCounterAccumulates(t *testing.T) {
	c := NewAtomicCollector()
	c.IncCounter("ops", nil, 1)
	c.IncCounter("ops", nil, 2)
	if got := c.Counter("ops", nil); got != 3 {
		t.Fatalf("counter = %v, want 3", got)
	}
}

func TestLabelsSeparateSeries(t *testing.T) {
	c := NewAtomicCollector()
	c.IncCounter("ops", map[string]string{"cf": "a"}, 1)
	c.IncCounter("ops", map[string]string{"cf": "b"}, 5)

	if got := c.Counter("ops", map[string]string{"cf": "a"}); got != 1 {
		t.Fatalf("series a = %v, want 1", got)
	}
	if got := c.Counter("ops", map[string]string{"cf": "b"}); got != 5 {
		t.Fatalf("series b = %v, want 5", got)
	}
	if got := c.Counter("ops", nil); got != 0 {
		t.Fatalf("unlabeled series = %v, want 0", got)
	}
}

func TestGaugeOverwrites(t *testing.T) {
	c := NewAtomicCollector()
	c.SetGauge("usage", nil, 10)
	c.SetGauge("usage", nil, 7)
	if got := c.Gauge("usage", nil); got != 7 {
		t.Fatalf("gauge = %v, want 7", got)
	}
}

func TestNopDiscards(t *testing.T) {
	var n Nop
	n.IncCounter("x", nil, 1)
	n.SetGauge("x", nil, 1)
	n.ObserveHistogram("x", nil, 1)
}
