package application

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Configured api_clients entries carry argon2id digests of the client keys
// in the PHC string layout, e.g.
//
//	$argon2id$v=19$m=19456,t=2,p=1$<salt>$<digest>
const keyHashScheme = "argon2id"

var (
	ErrInvalidKeyHash         = errors.New("api client key hash is not an argon2id digest")
	ErrIncompatibleKeyVersion = errors.New("api client key hash uses an unsupported argon2 version")
	errKeyMismatch            = errors.New("api key does not match")
)

// Argon2idParams tunes the argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams is used by the hash-api-key command.
var DefaultArgon2idParams = Argon2idParams{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type keyHash struct {
	params Argon2idParams
	salt   []byte
	digest []byte
}

func (h keyHash) derive(key string) []byte {
	return argon2.IDKey([]byte(key), h.salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
}

func (h keyHash) matches(key string) bool {
	return subtle.ConstantTimeCompare(h.digest, h.derive(key)) == 1
}

func (h keyHash) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s", keyHashScheme, argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.digest))
}

func parseKeyHash(encoded string) (keyHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != keyHashScheme {
		return keyHash{}, ErrInvalidKeyHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return keyHash{}, fmt.Errorf("%w: version: %v", ErrInvalidKeyHash, err)
	}
	if version != argon2.Version {
		return keyHash{}, fmt.Errorf("%w: v=%d", ErrIncompatibleKeyVersion, version)
	}

	var h keyHash
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.params.Memory, &h.params.Iterations, &h.params.Parallelism); err != nil {
		return keyHash{}, fmt.Errorf("%w: parameters: %v", ErrInvalidKeyHash, err)
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return keyHash{}, fmt.Errorf("%w: salt: %v", ErrInvalidKeyHash, err)
	}
	if h.digest, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return keyHash{}, fmt.Errorf("%w: digest: %v", ErrInvalidKeyHash, err)
	}
	if len(h.salt) == 0 || len(h.digest) == 0 {
		return keyHash{}, ErrInvalidKeyHash
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.digest))
	return h, nil
}

// HashAPIKey returns the api_clients entry for key. Surrounding whitespace
// is ignored, matching how presented keys are read from requests.
func HashAPIKey(key string, params Argon2idParams) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("api key is empty")
	}
	if params.SaltLength == 0 || params.KeyLength == 0 {
		return "", errors.New("argon2id salt and key lengths must be positive")
	}

	h := keyHash{params: params, salt: make([]byte, params.SaltLength)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	h.digest = h.derive(key)
	return h.String(), nil
}

// VerifyAPIKey reports whether key matches an api_clients entry. Malformed
// entries yield ErrInvalidKeyHash or ErrIncompatibleKeyVersion.
func VerifyAPIKey(encodedHash, key string) error {
	h, err := parseKeyHash(encodedHash)
	if err != nil {
		return err
	}
	if !h.matches(key) {
		return errKeyMismatch
	}
	return nil
}
