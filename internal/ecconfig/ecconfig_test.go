package ecconfig

import "testing"

func TestParse_LooksUpByAddress(t *testing.T) {
	data := []byte(`
ecs:
  - address: 171
    position: A1
    column: 0
  - address: 172
    position: A2
    column: -1
`)
	table, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := table.Position(171); got != "A1" {
		t.Fatalf("Position(171) = %q, want A1", got)
	}
	if col, ok := table.Column(171); !ok || col != 0 {
		t.Fatalf("Column(171) = (%d, %v), want (0, true)", col, ok)
	}
	if _, ok := table.Column(172); ok {
		t.Fatal("Column(172) should be unassigned")
	}
}

func TestParse_UnknownAddressFallsBack(t *testing.T) {
	table, err := Parse([]byte(`ecs: []`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := table.Position(99); got != "?" {
		t.Fatalf("Position(99) = %q, want ?", got)
	}
}

func TestEmpty(t *testing.T) {
	table := Empty()
	if got := table.Position(1); got != "?" {
		t.Fatalf("Position on empty table = %q, want ?", got)
	}
}
