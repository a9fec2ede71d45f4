package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable a minimal weak-pattern rejection on top of length checks.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a baseline suitable for interactive logins.
// Parallelism is clamped to [1..4] to keep resource usage predictable in containers.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads),
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - PARLEY_PASSWORD_MIN_LEN
//   - PARLEY_PASSWORD_MAX_LEN
//   - PARLEY_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - PARLEY_ARGON2_MEMORY_KIB
//   - PARLEY_ARGON2_ITERATIONS
//   - PARLEY_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("PARLEY_PASSWORD_MIN_LEN"); ok {
		n, err := atoiBounded(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("PARLEY_PASSWORD_MAX_LEN"); ok {
		n, err := atoiBounded(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("PARLEY_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_MEMORY_KIB"); ok {
		n, err := atoiBounded(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = uint32(n)
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_ITERATIONS"); ok {
		n, err := atoiBounded(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = uint32(n)
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_PARALLELISM"); ok {
		n, err := atoiBounded(v, 1, 255)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n)
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min length %d exceeds max length %d", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}

	return cfg, nil
}

func atoiBounded(v string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("value %d out of range [%d..%d]", n, min, max)
	}
	return n, nil
}
