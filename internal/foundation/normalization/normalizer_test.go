package normalization

import "testing"

type backend string

const (
	backendMemory backend = "memory"
	backendRedis  backend = "redis"
)

func newBackendNormalizer() *Normalizer[backend] {
	return NewNormalizer(map[string]backend{
		"memory": backendMemory,
		"redis":  backendRedis,
	}, backendMemory)
}

func TestNormalizer_Normalize(t *testing.T) {
	n := newBackendNormalizer()

	tests := []struct {
		name     string
		input    string
		expected backend
	}{
		{"exact match", "redis", backendRedis},
		{"case insensitive", "REDIS", backendRedis},
		{"with spaces", "  memory  ", backendMemory},
		{"unknown falls back", "kafka", backendMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizer_Parse(t *testing.T) {
	n := newBackendNormalizer()

	if v, err := n.Parse(""); err != nil || v != backendMemory {
		t.Errorf("Parse(\"\") = %v, %v; want default", v, err)
	}
	if v, err := n.Parse(" Redis "); err != nil || v != backendRedis {
		t.Errorf("Parse(Redis) = %v, %v", v, err)
	}
	if _, err := n.Parse("kafka"); err == nil {
		t.Error("expected error for unknown value")
	}
}

func TestNormalizer_ValidKeysSorted(t *testing.T) {
	keys := newBackendNormalizer().ValidKeys()
	if len(keys) != 2 || keys[0] != "memory" || keys[1] != "redis" {
		t.Errorf("ValidKeys() = %v", keys)
	}
}
