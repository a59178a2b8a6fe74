package lock

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks github.com/mattjoyce/pathwarden/internal/lock ProcessProber

// ProcessProber answers whether a pid belongs to a running process. The
// platform backend is fixed at build time; see prober_unix.go and
// prober_windows.go.
type ProcessProber interface {
	Alive(pid int) bool
}

// SystemProber returns the liveness probe for the current platform.
func SystemProber() ProcessProber { return systemProber{} }

type systemProber struct{}
