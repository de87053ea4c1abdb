package adapter

import "testing"

func TestProbe_DetectsAdvertisedCapabilities(t *testing.T) {
	c := Probe(struct{}{})
	if c.Loader || c.Saver || c.IncrementalAdder {
		t.Fatalf("expected a bare struct to advertise no capabilities, got %+v", c)
	}
}
