package auth

import (
	"errors"

	"github.com/controlface/deploy-console/internal/config"
	"github.com/controlface/deploy-console/pkg/crypto"
)

var (
	// ErrGateNotConfigured means no master PIN was set on the server
	ErrGateNotConfigured = errors.New("PIN not configured")
	// ErrInvalidPIN is returned for a wrong PIN
	ErrInvalidPIN = errors.New("invalid PIN")
)

// Gate checks the master PIN that unlocks the console
type Gate struct {
	pin     string
	pinHash string
}

// NewGate creates a gate from config. A pin that is itself a bcrypt hash
// is treated as one.
func NewGate(cfg *config.GateConfig) *Gate {
	g := &Gate{pin: cfg.PIN, pinHash: cfg.PINHash}
	if g.pinHash == "" && crypto.IsBcryptHash(g.pin) {
		g.pinHash, g.pin = g.pin, ""
	}
	return g
}

// Configured reports whether a PIN is set
func (g *Gate) Configured() bool {
	return g.pin != "" || g.pinHash != ""
}

// Check verifies pin
func (g *Gate) Check(pin string) error {
	if !g.Configured() {
		return ErrGateNotConfigured
	}

	if g.pinHash != "" {
		if crypto.VerifyPassword(pin, g.pinHash) {
			return nil
		}
		return ErrInvalidPIN
	}

	if crypto.ConstantTimeEqual(pin, g.pin) {
		return nil
	}
	return ErrInvalidPIN
}
