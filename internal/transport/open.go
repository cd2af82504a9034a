package transport

import (
	"fmt"

	"github.com/atoms-stack/testflow/internal/config"
)

// Open builds the transport for kind. simFile is the resolved path of the
// simulator definition and may be empty.
func Open(kind config.TransportKind, simFile string, tc config.TransportConfig) (Transport, error) {
	switch kind {
	case config.TransportSim, "":
		return LoadSim(simFile)
	case config.TransportTCP:
		return NewTCP(tc.TCPPort, tc.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
