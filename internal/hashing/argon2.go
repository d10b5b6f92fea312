// Package hashing derives and verifies password digests using Argon2id
// combined with a deployment-wide secret pepper and a per-account salt.
//
// The KDF parameters are fixed constants of the design, not configuration:
// every verification must cost the same. The parameters are still embedded
// in the encoded digest, so verification of stored digests does not depend
// on constant drift across releases.
package hashing

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"credstore/internal/common"
)

// Fixed Argon2id parameters. 32 MiB / 2 passes keeps a single verification
// in the tens of milliseconds on commodity hardware.
const (
	timeCost    uint32 = 2
	memoryKiB   uint32 = 32 * 1024
	parallelism uint8  = 1
	keyLength   uint32 = 32
	kdfSaltLen         = 16

	algorithmID = "argon2id"
)

// Config carries the secret pepper. It is loaded once by the process entry
// point and passed here explicitly; the hasher never reads the environment
// itself.
type Config struct {
	Pepper string
}

// Hasher turns plaintext passwords into verifiable PHC-encoded digests.
// A Hasher is immutable and safe for concurrent use.
type Hasher struct {
	pepper string
}

// New returns a Hasher for the given config. An empty pepper is a fatal
// configuration error: the store must refuse to hash rather than fall back
// to an unpeppered scheme.
func New(cfg Config) (*Hasher, error) {
	if cfg.Pepper == "" {
		return nil, common.ErrMissingPepper
	}
	return &Hasher{pepper: cfg.Pepper}, nil
}

// preimage combines the password with the pepper and the per-account salt.
func (h *Hasher) preimage(password, salt string) []byte {
	return []byte(password + h.pepper + salt)
}

// Hash derives a PHC-encoded Argon2id digest for the password. The salt
// argument is the per-account salt stored alongside the account; a fresh
// random KDF salt is additionally generated and embedded in the digest.
func (h *Hasher) Hash(password, salt string) (string, error) {
	kdfSalt := common.GenerateRandByteArray(kdfSaltLen)

	digest := argon2.IDKey(h.preimage(password, salt), kdfSalt, timeCost, memoryKiB, parallelism, keyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		memoryKiB,
		timeCost,
		parallelism,
		base64.RawStdEncoding.EncodeToString(kdfSalt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify recomputes the digest for the password using the parameters and KDF
// salt embedded in encoded, and compares in constant time. A mismatch is
// (false, nil); only a malformed digest is an error.
func (h *Hasher) Verify(password, encoded, salt string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(h.preimage(password, salt), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// DummyVerify burns one KDF evaluation with the fixed parameters and
// discards the result. The store calls this on the unknown-username path so
// its latency matches a real failed verification.
func (h *Hasher) DummyVerify(password string) {
	kdfSalt := common.GenerateRandByteArray(kdfSaltLen)
	_ = argon2.IDKey(h.preimage(password, ""), kdfSalt, timeCost, memoryKiB, parallelism, keyLength)
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: invalid PHC format", common.ErrHashing)
	}

	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", common.ErrHashing, parts[1])
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: missing argon2 version", common.ErrHashing)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version", common.ErrHashing)
	}

	p := &parsedPHC{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: invalid parameter entry", common.ErrHashing)
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, fmt.Errorf("%w: invalid memory parameter", common.ErrHashing)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, fmt.Errorf("%w: invalid time parameter", common.ErrHashing)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v == 0 {
				return nil, fmt.Errorf("%w: invalid parallelism parameter", common.ErrHashing)
			}
			p.parallelism = uint8(v)
		default:
			return nil, fmt.Errorf("%w: unsupported parameter %q", common.ErrHashing, kv[0])
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, fmt.Errorf("%w: missing parameters", common.ErrHashing)
	}

	p.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(p.salt) < kdfSaltLen {
		return nil, fmt.Errorf("%w: invalid salt encoding", common.ErrHashing)
	}

	p.hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(p.hash) == 0 {
		return nil, fmt.Errorf("%w: invalid hash encoding", common.ErrHashing)
	}

	return p, nil
}
