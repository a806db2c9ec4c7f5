// Package identity derives pseudonymous voter tokens. The token stands in
// for a member's identity on the vote ledger so single-voting can be
// enforced without storing who voted for what.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinSecretLength 部署密钥最小长度
	MinSecretLength = 32

	// pbkdf2Iterations balances derivation cost against per-vote latency.
	pbkdf2Iterations = 10000
	sessionKeyLength = 32

	// voterIDLength is the hex length of the truncated token.
	voterIDLength = 32
)

// ErrWeakSecret 密钥缺失或长度不足时返回的配置错误
var ErrWeakSecret = errors.New("voting secret missing or shorter than 32 characters")

// VoterIdentity is the derivation output: the pseudonymous ledger key and a
// one-way hash of it safe to keep in audit logs.
type VoterIdentity struct {
	VoterID   string `json:"voter_id"`
	VoterHash string `json:"voter_hash"`
}

// Deriver turns (sessionID, memberID) into a pseudonymous voter identity.
// The derivation is a pure function of its inputs and the configured secret:
// no timestamp or nonce enters the token, so re-deriving for the same member
// in the same session always yields the same voter ID and the ledger's
// uniqueness check holds across retries.
type Deriver struct {
	secret []byte
}

// NewDeriver 校验部署密钥并构造派生器。密钥不足32字符时立即失败，
// 绝不降级为弱派生。
func NewDeriver(secret string) (*Deriver, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("identity deriver: %w", ErrWeakSecret)
	}
	return &Deriver{secret: []byte(secret)}, nil
}

// Derive computes the pseudonymous identity for a member in a session.
// A per-session key is stretched from the deployment secret with PBKDF2
// (salted by the session ID), then an HMAC-SHA-256 over the member and
// session IDs is truncated into the voter token. The voter hash is a plain
// SHA-256 of the token for audit storage without exposing the token itself.
func (d *Deriver) Derive(sessionID, memberID string) (*VoterIdentity, error) {
	if sessionID == "" {
		return nil, errors.New("identity deriver: empty session id")
	}
	if memberID == "" {
		return nil, errors.New("identity deriver: empty member id")
	}

	salt := []byte("ballot-session:" + sessionID)
	sessionKey := pbkdf2.Key(d.secret, salt, pbkdf2Iterations, sessionKeyLength, sha256.New)

	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(memberID + "|" + sessionID))
	voterID := hex.EncodeToString(mac.Sum(nil))[:voterIDLength]

	digest := sha256.Sum256([]byte(voterID))

	return &VoterIdentity{
		VoterID:   voterID,
		VoterHash: hex.EncodeToString(digest[:]),
	}, nil
}
