package access

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashParams are the argon2id cost settings.
type HashParams struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultHashParams follow the argon2id recommendation for interactive logins.
var DefaultHashParams = HashParams{Memory: 64 * 1024, Time: 3, Threads: 2, SaltLen: 16, KeyLen: 32}

// Hasher produces argon2id hashes with a random per-user salt and verifies
// legacy bcrypt and unsalted SHA-256 hashes so old accounts keep working.
type Hasher struct {
	params HashParams
}

func NewHasher(p HashParams) *Hasher {
	return &Hasher{params: p}
}

// Hash encodes password as $argon2id$v=19$m=..,t=..,p=..$salt$key
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify checks password against encoded. needsRehash is true when the stored
// hash is a legacy format or was produced with weaker parameters.
func (h *Hasher) Verify(password, encoded string) (ok bool, needsRehash bool, err error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return h.verifyArgon(password, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		return true, true, nil
	case isLegacySHA256(encoded):
		sum := sha256.Sum256([]byte(password))
		match := subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(encoded))) == 1
		return match, match, nil
	}
	return false, false, errors.New("unrecognised password hash format")
}

// maxArgonMemory bounds the memory cost (KiB) accepted from a stored hash.
const maxArgonMemory = 1 << 21

func (h *Hasher) verifyArgon(password, encoded string) (bool, bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 {
		return false, false, errors.New("malformed argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, false, errors.Wrap(err, "malformed argon2id version")
	}
	var p HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return false, false, errors.Wrap(err, "malformed argon2id params")
	}
	if p.Time == 0 || p.Threads == 0 || p.Memory == 0 || p.Memory > maxArgonMemory {
		return false, false, errors.Errorf("malformed argon2id params %q", parts[3])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, false, errors.Wrap(err, "malformed argon2id salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, false, errors.Wrap(err, "malformed argon2id key")
	}

	if len(want) == 0 {
		return false, false, errors.New("malformed argon2id hash: empty key")
	}

	got := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return false, false, nil
	}
	weaker := version != argon2.Version || p.Memory < h.params.Memory || p.Time < h.params.Time || p.Threads < h.params.Threads
	return true, weaker, nil
}

func isLegacySHA256(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
