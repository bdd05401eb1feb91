package common

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type CredentialRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase"`
}

type CredentialView struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Username      string    `json:"username"`
	HasPassword   bool      `json:"hasPassword"`
	HasPrivateKey bool      `json:"hasPrivateKey"`
	HasPassphrase bool      `json:"hasPassphrase"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func credentialView(c *Credential) *CredentialView {
	return &CredentialView{
		ID:            c.ID,
		Name:          c.Name,
		Type:          c.Type,
		Username:      c.Username,
		HasPassword:   c.Password != "",
		HasPrivateKey: c.PrivateKey != "",
		HasPassphrase: c.Passphrase != "",
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func validateCredential(req CredentialRequest, requireSecret bool) error {
	var violations []string
	if strings.TrimSpace(req.Name) == "" {
		violations = append(violations, "credential name is required")
	}
	if strings.TrimSpace(req.Username) == "" {
		violations = append(violations, "username is required")
	}
	switch req.Type {
	case CredentialTypePassword:
		if requireSecret && req.Password == "" {
			violations = append(violations, "password is required for password credentials")
		}
	case CredentialTypePrivateKey:
		if requireSecret && req.PrivateKey == "" {
			violations = append(violations, "private key is required for private key credentials")
		}
	default:
		violations = append(violations, "credential type must be password or private_key")
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (api *API) CreateCredential(userID uint, req CredentialRequest) (*CredentialView, error) {
	if err := validateCredential(req, true); err != nil {
		return nil, err
	}
	cred := Credential{
		UserID:   userID,
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Username: req.Username,
	}
	switch req.Type {
	case CredentialTypePassword:
		ciphertext, iv, err := api.engine.Encrypt(req.Password)
		if err != nil {
			return nil, err
		}
		cred.Password = ciphertext
		cred.IV = iv
	case CredentialTypePrivateKey:
		ciphertext, iv, err := api.engine.Encrypt(req.PrivateKey)
		if err != nil {
			return nil, err
		}
		cred.PrivateKey = ciphertext
		cred.IV = iv
		cred.Passphrase = req.Passphrase
	}
	if err := api.db.Create(&cred).Error; err != nil {
		return nil, err
	}
	return credentialView(&cred), nil
}

// UpdateCredential overwrites name, username and passphrase, and
// re-encrypts the type's secret when a new one is supplied. The
// credential type is fixed at creation.
func (api *API) UpdateCredential(credentialID, userID uint, req CredentialRequest) (*CredentialView, error) {
	var view *CredentialView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		var cred Credential
		if err := tx.Where("id = ? AND user_id = ?", credentialID, userID).First(&cred).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		req.Type = cred.Type
		if err := validateCredential(req, false); err != nil {
			return err
		}
		cred.Name = strings.TrimSpace(req.Name)
		cred.Username = req.Username
		switch cred.Type {
		case CredentialTypePassword:
			if req.Password != "" {
				ciphertext, iv, err := api.engine.Encrypt(req.Password)
				if err != nil {
					return err
				}
				cred.Password = ciphertext
				cred.IV = iv
			}
		case CredentialTypePrivateKey:
			if req.PrivateKey != "" {
				ciphertext, iv, err := api.engine.Encrypt(req.PrivateKey)
				if err != nil {
					return err
				}
				cred.PrivateKey = ciphertext
				cred.IV = iv
			}
			cred.Passphrase = req.Passphrase
		}
		if err := tx.Save(&cred).Error; err != nil {
			return err
		}
		view = credentialView(&cred)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteCredential removes the credential only. Sessions referencing
// it keep their encrypted cache and degrade to it on resolution.
func (api *API) DeleteCredential(credentialID, userID uint) error {
	result := api.db.Unscoped().Where("id = ? AND user_id = ?", credentialID, userID).Delete(&Credential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (api *API) ListCredentials(userID uint) ([]CredentialView, error) {
	var creds []Credential
	if err := api.db.Where("user_id = ?", userID).Order("LOWER(name)").Find(&creds).Error; err != nil {
		return nil, err
	}
	views := make([]CredentialView, 0, len(creds))
	for i := range creds {
		views = append(views, *credentialView(&creds[i]))
	}
	return views, nil
}

// GetCredentialByID returns the credential with its secret fields
// already decrypted; this is the read contract the resolver trusts.
func (api *API) GetCredentialByID(credentialID, userID uint) (*Credential, error) {
	return api.getCredentialByID(api.db, credentialID, userID)
}

func (api *API) getCredentialByID(tx *gorm.DB, credentialID, userID uint) (*Credential, error) {
	var cred Credential
	if err := tx.Where("id = ? AND user_id = ?", credentialID, userID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if cred.Password != "" && cred.IV != "" {
		plaintext, err := api.engine.Decrypt(cred.Password, cred.IV)
		if err != nil {
			return nil, err
		}
		cred.Password = plaintext
	}
	if cred.PrivateKey != "" && cred.IV != "" {
		plaintext, err := api.engine.Decrypt(cred.PrivateKey, cred.IV)
		if err != nil {
			return nil, err
		}
		cred.PrivateKey = plaintext
	}
	return &cred, nil
}
