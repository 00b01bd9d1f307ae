// Package credential hashes and verifies passwords. Hashes are self-describing
// strings, so a store can hold several hash generations at once: Verify picks
// the algorithm from the hash's own prefix, never from the caller.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

// Scheme names a hashing algorithm.
type Scheme string

// Supported schemes. Argon2id is the default; bcrypt is kept for hashes
// issued by earlier installations.
const (
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"

	DefaultScheme = SchemeArgon2id
)

const (
	argon2Prefix = "$argon2id$"
	saltLen      = 16
	keyLen       = 32
)

// Bounds accepted when decoding a stored argon2id hash.
const (
	minSaltLen    = 8
	maxSaltLen    = 64
	minKeyLen     = 16
	maxKeyLen     = 64
	maxMemoryKiB  = 1 << 20
	maxIterations = 64
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// Hasher implements password hashing under the supported schemes.
// It is safe for concurrent use.
type Hasher struct {
	argon      Argon2Params
	bcryptCost int
	rand       io.Reader
}

// New returns a Hasher using the given parameters. Zero values fall back to
// the package defaults.
func New(cfg types.HashConfig) *Hasher {
	h := &Hasher{
		argon: Argon2Params{
			MemoryKiB:   cfg.Argon2.MemoryKiB,
			Iterations:  cfg.Argon2.Iterations,
			Parallelism: cfg.Argon2.Parallelism,
		},
		bcryptCost: cfg.BcryptCost,
		rand:       rand.Reader,
	}
	if h.argon.MemoryKiB == 0 {
		h.argon.MemoryKiB = types.DefaultArgon2Memory
	}
	if h.argon.Iterations == 0 {
		h.argon.Iterations = types.DefaultArgon2Time
	}
	if h.argon.Parallelism == 0 {
		h.argon.Parallelism = types.DefaultArgon2Threads
	}
	if h.bcryptCost == 0 {
		h.bcryptCost = types.DefaultBcryptCost
	}
	return h
}

// Hash hashes password under scheme. Returns ErrInvalidInput for an empty
// password and ErrUnsupportedScheme for an unknown scheme.
func (h *Hasher) Hash(password string, scheme Scheme) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password must not be empty", types.ErrInvalidInput)
	}

	switch scheme {
	case SchemeArgon2id:
		return h.hashArgon2(password)
	case SchemeBcrypt:
		out, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				return "", fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
			}
			return "", fmt.Errorf("bcrypt hash: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("%w: %q", types.ErrUnsupportedScheme, scheme)
	}
}

// Verify reports whether password matches hash. A mismatch is (false, nil).
// Returns ErrUnknownHashFormat when the hash prefix is not recognized or the
// hash body cannot be decoded.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	scheme, err := SchemeOf(hash)
	if err != nil {
		return false, err
	}

	switch scheme {
	case SchemeArgon2id:
		p, salt, key, err := decodeArgon2(hash)
		if err != nil {
			return false, err
		}
		other := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(key)))
		return subtle.ConstantTimeCompare(key, other) == 1, nil
	default:
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %w", types.ErrUnknownHashFormat, err)
		}
	}
}

// NeedsRehash reports whether hash should be replaced by a fresh hash under
// the default scheme: legacy schemes, and argon2id hashes with weaker
// parameters than this Hasher's.
func (h *Hasher) NeedsRehash(hash string) bool {
	scheme, err := SchemeOf(hash)
	if err != nil || scheme != DefaultScheme {
		return true
	}
	p, _, _, err := decodeArgon2(hash)
	if err != nil {
		return true
	}
	return p.MemoryKiB < h.argon.MemoryKiB || p.Iterations < h.argon.Iterations
}

// SchemeOf returns the scheme encoded in hash's prefix.
func SchemeOf(hash string) (Scheme, error) {
	if strings.HasPrefix(hash, argon2Prefix) {
		return SchemeArgon2id, nil
	}
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(hash, p) {
			return SchemeBcrypt, nil
		}
	}
	return "", types.ErrUnknownHashFormat
}

// ParseScheme converts s into a Scheme. Returns ErrUnsupportedScheme for
// unknown names.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeArgon2id, SchemeBcrypt:
		return Scheme(s), nil
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnsupportedScheme, s)
}

func (h *Hasher) hashArgon2(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.argon.Iterations, h.argon.MemoryKiB, h.argon.Parallelism, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon.MemoryKiB, h.argon.Iterations, h.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decodeArgon2 parses $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>.
func decodeArgon2(hash string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return p, nil, nil, fmt.Errorf("%w: malformed argon2id hash", types.ErrUnknownHashFormat)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: argon2id version: %w", types.ErrUnknownHashFormat, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: argon2id version %d", types.ErrUnknownHashFormat, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("%w: argon2id params: %w", types.ErrUnknownHashFormat, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: argon2id salt: %w", types.ErrUnknownHashFormat, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: argon2id key", types.ErrUnknownHashFormat)
	}
	if err := checkArgon2(p, salt, key); err != nil {
		return p, nil, nil, err
	}
	return p, salt, key, nil
}

// checkArgon2 rejects decoded values argon2.IDKey would panic on or that
// would force an oversized allocation.
func checkArgon2(p Argon2Params, salt, key []byte) error {
	switch {
	case p.Iterations < 1 || p.Iterations > maxIterations:
		return fmt.Errorf("%w: argon2id iterations %d", types.ErrUnknownHashFormat, p.Iterations)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: argon2id parallelism %d", types.ErrUnknownHashFormat, p.Parallelism)
	case p.MemoryKiB < 8*uint32(p.Parallelism) || p.MemoryKiB > maxMemoryKiB:
		return fmt.Errorf("%w: argon2id memory %d KiB", types.ErrUnknownHashFormat, p.MemoryKiB)
	case len(salt) < minSaltLen || len(salt) > maxSaltLen:
		return fmt.Errorf("%w: argon2id salt length %d", types.ErrUnknownHashFormat, len(salt))
	case len(key) < minKeyLen || len(key) > maxKeyLen:
		return fmt.Errorf("%w: argon2id key length %d", types.ErrUnknownHashFormat, len(key))
	}
	return nil
}
