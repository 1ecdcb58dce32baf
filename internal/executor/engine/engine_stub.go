//go:build !linux

package engine

import "fmt"

// NewDirectEngine is only available on linux.
func NewDirectEngine(cfg Config) (Engine, error) {
	return nil, fmt.Errorf("direct engine is only supported on linux")
}
