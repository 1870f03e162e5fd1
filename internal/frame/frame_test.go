package frame

import (
	"testing"
)

func TestFrameID(t *testing.T) {
	tests := []struct {
		name string
		a    Frame
		b    Frame
		same bool
	}{
		{
			name: "identical descriptions",
			a:    Frame{Function: "f", File: "app.py", Line: 12},
			b:    Frame{Function: "f", File: "app.py", Line: 12},
			same: true,
		},
		{
			name: "different function",
			a:    Frame{Function: "f", File: "app.py", Line: 12},
			b:    Frame{Function: "g", File: "app.py", Line: 12},
			same: false,
		},
		{
			name: "different line",
			a:    Frame{Function: "f", File: "app.py", Line: 12},
			b:    Frame{Function: "f", File: "app.py", Line: 13},
			same: false,
		},
		{
			name: "entry flag",
			a:    Frame{Function: "f", File: "app.py", Line: 12},
			b:    Frame{Function: "f", File: "app.py", Line: 12, IsEntry: true},
			same: false,
		},
		{
			name: "field boundaries are not ambiguous",
			a:    Frame{Function: "fo", File: "o.py"},
			b:    Frame{Function: "f", File: "oo.py"},
			same: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if same := test.a.ID() == test.b.ID(); same != test.same {
				t.Fatalf("a=%d b=%d, wanted same=%v", test.a.ID(), test.b.ID(), test.same)
			}
		})
	}
}

func TestFrameIDStable(t *testing.T) {
	f := Frame{Function: "handler", File: "srv.py", Line: 42}
	id := f.ID()
	for i := 0; i < 10; i++ {
		if got := f.ID(); got != id {
			t.Fatalf("ID changed between calls: %d != %d", got, id)
		}
	}
}
