package httpserver

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/slot-auction/pkg/cache"
)

// SignatureHeader carries the hex EIP-191 signature of the raw request body.
const SignatureHeader = "X-Signature"

// Authentication errors.
var (
	ErrMissingSignature = errors.New("missing " + SignatureHeader + " header")
	ErrBadSignature     = errors.New("invalid signature")
	ErrStaleRequest     = errors.New("request timestamp outside allowed window")
	ErrReplayedRequest  = errors.New("request already processed")
)

// Authenticator recovers the caller of a signed request.
type Authenticator struct {
	maxSkew time.Duration
	seen    cache.Cache // optional replay guard keyed by signature
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator. seen may be nil.
func NewAuthenticator(maxSkew time.Duration, seen cache.Cache) (*Authenticator, error) {
	if maxSkew <= 0 {
		return nil, fmt.Errorf("max skew must be positive, got %s", maxSkew)
	}
	return &Authenticator{maxSkew: maxSkew, seen: seen, now: time.Now}, nil
}

// Verify checks that signature is an EIP-191 signature of body, that
// timestamp (unix seconds) is within the allowed skew, and that the
// signature has not been used before. It returns the signer.
func (a *Authenticator) Verify(body []byte, signature string, timestamp int64) (common.Address, error) {
	if signature == "" {
		return common.Address{}, ErrMissingSignature
	}

	signer, err := RecoverSigner(body, signature)
	if err != nil {
		return common.Address{}, err
	}

	skew := a.now().Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return common.Address{}, ErrStaleRequest
	}

	if a.seen != nil {
		key := "sig:" + strings.ToLower(strings.TrimPrefix(signature, "0x"))
		if _, dup := a.seen.Get(key); dup {
			return common.Address{}, ErrReplayedRequest
		}
		a.seen.Set(key, struct{}{}, 2*a.maxSkew)
		if w, ok := a.seen.(interface{ Wait() }); ok {
			w.Wait()
		}
	}

	return signer, nil
}

// RecoverSigner returns the address that produced an EIP-191 signature of body.
func RecoverSigner(body []byte, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}

	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// SignBody produces the X-Signature value for body.
func SignBody(key *ecdsa.PrivateKey, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(body), key)
	if err != nil {
		return "", fmt.Errorf("sign body: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
