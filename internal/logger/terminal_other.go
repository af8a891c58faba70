//go:build !linux && !darwin

package logger

// isTerminal reports false on platforms without a termios probe; output
// falls back to uncolored text.
func isTerminal(fd uintptr) bool {
	return false
}
