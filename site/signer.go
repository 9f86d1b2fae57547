package site

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Signer makes detached OpenPGP signatures for published snapshots.
type Signer struct {
	entity      *openpgp.Entity
	publicKey   []byte
	fingerprint string
}

// NewSigner loads the first private key of an armored keyring. Encrypted
// keys are unlocked with passphrase.
func NewSigner(armoredKey, passphrase string) (*Signer, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}

	var entity *openpgp.Entity
	for _, e := range keyring {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, errors.New("keyring holds no private key")
	}
	if err := unlock(entity, []byte(passphrase)); err != nil {
		return nil, err
	}

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("armoring public key: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("serializing public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("armoring public key: %w", err)
	}

	return &Signer{
		entity:      entity,
		publicKey:   pub.Bytes(),
		fingerprint: fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
	}, nil
}

func unlock(e *openpgp.Entity, passphrase []byte) error {
	keys := []*packet.PrivateKey{e.PrivateKey}
	for _, sub := range e.Subkeys {
		if sub.PrivateKey != nil {
			keys = append(keys, sub.PrivateKey)
		}
	}
	for _, k := range keys {
		if !k.Encrypted {
			continue
		}
		if len(passphrase) == 0 {
			return errors.New("signing key is encrypted and no passphrase is set")
		}
		if err := k.Decrypt(passphrase); err != nil {
			return fmt.Errorf("unlocking signing key: %w", err)
		}
	}
	return nil
}

// PublicKey returns the armored public key.
func (s *Signer) PublicKey() []byte {
	return s.publicKey
}

// Fingerprint returns the primary key fingerprint in upper-case hex.
func (s *Signer) Fingerprint() string {
	return s.fingerprint
}

// Sign returns an armored detached signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), &packet.Config{DefaultHash: crypto.SHA256})
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return buf.Bytes(), nil
}
