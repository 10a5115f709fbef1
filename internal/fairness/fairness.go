// Package fairness generates seed material, publishes commitments and
// derives the hidden hazard second. DeriveHazardSecond is pure: the same
// seeds and nonce always reproduce the same second, which is what lets a
// player replay a finished game after the server seed is revealed.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"hazard-wager/internal/model"
)

const (
	serverSeedBytes = 32
	clientSeedBytes = 16

	// drawBits is how many leading bits of each chain link form the uniform draw.
	drawBits = 52
)

// Errors for malformed derivation input.
var (
	ErrEmptyServerSeed = errors.New("server seed is required")
	ErrEmptyClientSeed = errors.New("client seed is required")
	ErrNegativeNonce   = errors.New("nonce must not be negative")
	ErrInvalidTable    = errors.New("hazard table must cover at least one second")
)

// drawScale is 2^52, the exclusive upper bound of a draw.
var drawScale = decimal.NewFromInt(1 << drawBits)

// HazardTable is the per-second risk schedule the derivation compares against.
// *payout.Curve satisfies it.
type HazardTable interface {
	MaxDuration() int
	HazardProbability(second int) decimal.Decimal
}

// GenerateServerSeed returns a hex-encoded 32-byte secret.
func GenerateServerSeed() (string, error) {
	return randomHex(serverSeedBytes)
}

// GenerateClientSeed returns a hex-encoded 16-byte public seed.
func GenerateClientSeed() (string, error) {
	return randomHex(clientSeedBytes)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CommitmentHash returns the SHA-256 hex digest of the server seed.
func CommitmentHash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// DeriveHazardSecond walks an HMAC-SHA256 chain keyed by the server seed.
// Link 0 is HMAC(clientSeed ":" nonce); link i is HMAC(link[i-1] || i) with i
// as a 4-byte big-endian integer. The top 52 bits of link i are a uniform
// draw in [0, 2^52); second i is the hazard second when the draw is below
// HazardProbability(i) * 2^52. Returns model.NoHazard when no second trips.
func DeriveHazardSecond(table HazardTable, serverSeed, clientSeed string, nonce int64) (int, error) {
	if serverSeed == "" {
		return 0, ErrEmptyServerSeed
	}
	if clientSeed == "" {
		return 0, ErrEmptyClientSeed
	}
	if nonce < 0 {
		return 0, ErrNegativeNonce
	}
	if table == nil || table.MaxDuration() < 1 {
		return 0, ErrInvalidTable
	}

	key := []byte(serverSeed)
	link := sign(key, []byte(clientSeed+":"+strconv.FormatInt(nonce, 10)))

	var idx [4]byte
	for second := 1; second <= table.MaxDuration(); second++ {
		binary.BigEndian.PutUint32(idx[:], uint32(second))
		link = sign(key, append(link, idx[:]...))

		draw := binary.BigEndian.Uint64(link[:8]) >> (64 - drawBits)
		threshold := table.HazardProbability(second).Mul(drawScale).Floor().IntPart()
		if int64(draw) < threshold {
			return second, nil
		}
	}

	return model.NoHazard, nil
}

func sign(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Verify replays a finished game: the server seed must match the published
// commitment and must reproduce the recorded hazard second.
func Verify(table HazardTable, serverSeed, clientSeed string, nonce int64, commitment string, hazardSecond int) bool {
	if serverSeed == "" || !hmac.Equal([]byte(CommitmentHash(serverSeed)), []byte(commitment)) {
		return false
	}
	derived, err := DeriveHazardSecond(table, serverSeed, clientSeed, nonce)
	if err != nil {
		return false
	}
	return derived == hazardSecond
}
