package wompi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSignatureInvalid    = errors.New("wompi: invalid event signature")
	ErrMissingEventsSecret = errors.New("wompi: events secret is required in production")
)

// Verifier checks event checksums against the shared events secret.
type Verifier struct {
	secret string
}

// NewVerifier builds a verifier. Without a secret the verifier accepts every event, which is
// only allowed when requireSecret is false.
func NewVerifier(secret string, requireSecret bool) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" && requireSecret {
		return nil, ErrMissingEventsSecret
	}
	return &Verifier{secret: secret}, nil
}

func (v *Verifier) Permissive() bool {
	return v == nil || v.secret == ""
}

func (v *Verifier) Verify(event *Event) error {
	if v.Permissive() {
		return nil
	}
	if event == nil || event.Signature.Checksum == "" {
		return ErrSignatureInvalid
	}

	expected, err := Checksum(event, v.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	got := strings.ToLower(strings.TrimSpace(event.Signature.Checksum))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// Checksum computes the hex SHA-256 over the listed data properties, the timestamp and the secret.
func Checksum(event *Event, secret string) (string, error) {
	if event == nil {
		return "", fmt.Errorf("event is required")
	}
	tree, err := event.dataTree()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, property := range event.Signature.Properties {
		b.WriteString(resolvePath(tree, property))
	}
	b.WriteString(event.TimestampText())
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
