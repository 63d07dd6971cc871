// Package auth checks login credentials against a single configured account.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

// Verifier decides whether a username/password pair is valid. Implementations
// must be safe for concurrent use and must not log the password.
type Verifier interface {
	Verify(ctx context.Context, username, password string) bool
}

// StaticVerifier accepts one fixed username/password pair.
type StaticVerifier struct {
	user [sha256.Size]byte
	pass [sha256.Size]byte
}

// NewStaticVerifier stores digests of the pair so comparisons run over equal
// length inputs and take the same time whatever the caller sends.
func NewStaticVerifier(username, password string) *StaticVerifier {
	return &StaticVerifier{
		user: sha256.Sum256([]byte(username)),
		pass: sha256.Sum256([]byte(password)),
	}
}

func (v *StaticVerifier) Verify(_ context.Context, username, password string) bool {
	u := sha256.Sum256([]byte(username))
	p := sha256.Sum256([]byte(password))
	// both comparisons always run
	userOK := subtle.ConstantTimeCompare(u[:], v.user[:])
	passOK := subtle.ConstantTimeCompare(p[:], v.pass[:])
	return userOK&passOK == 1
}

// BcryptVerifier accepts one username whose password is stored as a bcrypt hash.
type BcryptVerifier struct {
	user [sha256.Size]byte
	hash []byte
}

// NewBcryptVerifier rejects hashes bcrypt cannot parse, so a typo in
// configuration fails at startup rather than on every login.
func NewBcryptVerifier(username, hash string) (*BcryptVerifier, error) {
	if username == "" {
		return nil, xerrors.New("bcrypt verifier: username is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, xerrors.Wrap(err, "bcrypt verifier: invalid hash")
	}
	return &BcryptVerifier{
		user: sha256.Sum256([]byte(username)),
		hash: []byte(hash),
	}, nil
}

func (v *BcryptVerifier) Verify(_ context.Context, username, password string) bool {
	u := sha256.Sum256([]byte(username))
	userOK := subtle.ConstantTimeCompare(u[:], v.user[:]) == 1
	// hash even for unknown users so a wrong username costs the same
	passOK := bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	return userOK && passOK
}
