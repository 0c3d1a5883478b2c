package quota

import (
	"k8s.io/apimachinery/pkg/api/resource"
)

// ParseCPU parses a CPU quantity expressed either as a millicore string
// ("1500m") or a plain decimal ("1.5") and returns fractional cores.
func ParseCPU(s string) (float64, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, err
	}
	return float64(q.MilliValue()) / 1000.0, nil
}

// ParseMemory parses a memory quantity using the binary suffixes Ki, Mi,
// Gi, Ti (multiples of 1024) and returns bytes.
func ParseMemory(s string) (int64, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, err
	}
	return q.Value(), nil
}
