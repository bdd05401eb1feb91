package common

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"webssh/secrets"
)

// EffectiveCredentials is the resolved plaintext tuple actually used
// to open a connection.
type EffectiveCredentials struct {
	Username      string
	Password      string
	PrivateKey    string
	KeyPassphrase string
}

// storedSecrets is the storage-ready counterpart: encrypted inline
// fields plus the shared iv they were produced under.
type storedSecrets struct {
	Username      string
	Password      string
	PrivateKey    string
	KeyPassphrase string
	IV            string
	CredentialID  *uint
}

// resolveCredentials computes the effective credentials for a session.
// A credential reference wins when it resolves; a dangling reference
// degrades to the session's own cached fields so that deleting a
// credential does not make its sessions unusable.
func (api *API) resolveCredentials(tx *gorm.DB, s *Session) (*EffectiveCredentials, error) {
	if s.CredentialID != nil {
		cred, err := api.getCredentialByID(tx, *s.CredentialID, s.UserID)
		switch {
		case err == nil:
			eff := &EffectiveCredentials{Username: cred.Username}
			switch cred.Type {
			case CredentialTypePassword:
				eff.Password = cred.Password
			case CredentialTypePrivateKey:
				eff.PrivateKey = cred.PrivateKey
				eff.KeyPassphrase = cred.Passphrase
			}
			return eff, nil
		case errors.Is(err, ErrNotFound) || errors.Is(err, secrets.ErrDecryptFailed):
			log.Warnf("session %d references credential %d which no longer resolves, falling back to cached fields", s.ID, *s.CredentialID)
		default:
			return nil, err
		}
	}

	eff := &EffectiveCredentials{Username: s.Username, KeyPassphrase: s.KeyPassphrase}
	if s.Password != "" && s.IV != "" {
		plaintext, err := api.engine.Decrypt(s.Password, s.IV)
		if err != nil {
			return nil, err
		}
		eff.Password = plaintext
	}
	if s.PrivateKey != "" && s.IV != "" {
		plaintext, err := api.engine.Decrypt(s.PrivateKey, s.IV)
		if err != nil {
			return nil, err
		}
		eff.PrivateKey = plaintext
	}
	return eff, nil
}

// deriveFromCredential re-encrypts the referenced credential's secret
// into a session's inline cache so that deleting the credential later
// does not orphan the session. The slot the credential type does not
// use stays empty.
func (api *API) deriveFromCredential(tx *gorm.DB, credentialID, userID uint) (*storedSecrets, error) {
	cred, err := api.getCredentialByID(tx, credentialID, userID)
	if err != nil {
		return nil, err
	}
	out := &storedSecrets{Username: cred.Username, CredentialID: &cred.ID}
	switch cred.Type {
	case CredentialTypePassword:
		ciphertext, iv, err := api.engine.Encrypt(cred.Password)
		if err != nil {
			return nil, err
		}
		out.Password = ciphertext
		out.IV = iv
	case CredentialTypePrivateKey:
		ciphertext, iv, err := api.engine.Encrypt(cred.PrivateKey)
		if err != nil {
			return nil, err
		}
		out.PrivateKey = ciphertext
		out.IV = iv
		out.KeyPassphrase = cred.Passphrase
	}
	return out, nil
}

// encryptInline encrypts directly supplied secrets. When both are
// present in one write the second shares the first's iv; the row
// stores a single iv.
func (api *API) encryptInline(password, privateKey string) (string, string, string, error) {
	var encPassword, encKey, iv string
	if password != "" {
		ciphertext, freshIV, err := api.engine.Encrypt(password)
		if err != nil {
			return "", "", "", err
		}
		encPassword, iv = ciphertext, freshIV
	}
	if privateKey != "" {
		if iv == "" {
			ciphertext, freshIV, err := api.engine.Encrypt(privateKey)
			if err != nil {
				return "", "", "", err
			}
			encKey, iv = ciphertext, freshIV
		} else {
			ciphertext, err := api.engine.EncryptWithIV(privateKey, iv)
			if err != nil {
				return "", "", "", err
			}
			encKey = ciphertext
		}
	}
	return encPassword, encKey, iv, nil
}
