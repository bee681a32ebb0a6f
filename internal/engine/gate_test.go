package engine

import (
	"strings"
	"testing"
)

func TestEvaluator_Bool(t *testing.T) {
	ev := NewEvaluator()

	tests := []struct {
		name      string
		condition string
		env       map[string]any
		want      bool
		wantErr   bool
	}{
		{"true literal", "true", nil, true, false},
		{"false literal", "false", nil, false, false},
		{"comparison", "load > 5", map[string]any{"load": 10}, true, false},
		{"comparison false", "load > 5", map[string]any{"load": 2}, false, false},
		{"nonzero int truthy", "3", nil, true, false},
		{"zero int falsy", "0", nil, false, false},
		{"nonempty string truthy", `"x"`, nil, true, false},
		{"empty string falsy", `""`, nil, false, false},
		{"nil falsy", "nil", nil, false, false},
		{"syntax error", "(((", nil, false, true},
		{"unknown variable", "missing > 1", map[string]any{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Bool(tt.condition, tt.env)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Bool() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Bool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	ev := NewEvaluator()

	for i := 0; i < 3; i++ {
		ok, err := ev.Bool("n == 1", map[string]any{"n": 1})
		if err != nil {
			t.Fatalf("Bool failed: %v", err)
		}
		if !ok {
			t.Fatal("expected true")
		}
	}

	if len(ev.programs) != 1 {
		t.Errorf("expected 1 cached program, got %d", len(ev.programs))
	}
}

func TestEvaluator_RejectsOversizedCondition(t *testing.T) {
	ev := NewEvaluator()

	_, err := ev.Bool(strings.Repeat("true && ", 1024)+"true", nil)
	if err == nil {
		t.Fatal("expected length error")
	}
}
