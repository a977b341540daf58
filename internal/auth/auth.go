package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is used for interactive logins; seeding uses a configurable
// (usually lower) cost through Hasher.
const DefaultCost = 12

// HashPassword generates a bcrypt hash of the password at DefaultCost.
func HashPassword(password string) (string, error) {
	return Hasher{Cost: DefaultCost}.Hash(password)
}

// CheckPasswordHash compares a plaintext password with a stored bcrypt hash.
// It returns true if the password matches the hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Hasher hashes passwords with a fixed bcrypt cost.
type Hasher struct {
	Cost int
}

func (h Hasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func (h Hasher) Matches(password, hash string) bool {
	return CheckPasswordHash(password, hash)
}

// SeedPassword derives the initial password for a seeded account that has
// none in its source record. It is stable for a given email so re-seeding
// never rotates it.
func SeedPassword(email string) string {
	sum := sha256.Sum256([]byte("comicvault-seed:" + strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:16]
}
