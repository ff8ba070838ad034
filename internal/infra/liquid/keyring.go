package liquid

import (
	"errors"
	"sync/atomic"
	"time"

	"wick_go/internal/infra"

	"github.com/golang-jwt/jwt/v5"
)

// KeyRing rotates API keys round-robin. Liquid rejects requests whose nonce does not
// increase per token, so spreading concurrent requests over several tokens avoids
// nonce collisions.
type KeyRing struct {
	keys []infra.APIKey
	next atomic.Uint64
	now  func() time.Time
}

// NewKeyRing creates a ring over keys; at least one key is required.
func NewKeyRing(keys []infra.APIKey) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("liquid: no api keys")
	}
	return &KeyRing{keys: keys, now: time.Now}, nil
}

// Sign builds the X-Quoine-Auth token for path (including any query string)
// with the next key of the ring.
func (r *KeyRing) Sign(path string) (string, error) {
	key := r.keys[(r.next.Add(1)-1)%uint64(len(r.keys))]

	claims := jwt.MapClaims{
		"path":     path,
		"nonce":    r.now().UnixNano(),
		"token_id": key.TokenID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key.Secret))
}
