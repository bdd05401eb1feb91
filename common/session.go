package common

import (
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SessionRequest struct {
	Name          string        `json:"name"`
	Hostname      string        `json:"hostname"`
	Port          int           `json:"port"`
	Username      string        `json:"username"`
	Password      string        `json:"password"`
	PrivateKey    string        `json:"privateKey"`
	KeyPassphrase string        `json:"keyPassphrase"`
	CredentialID  *uint         `json:"credentialId"`
	Tags          Field[[]uint] `json:"tags"`
}

// SessionUpdate is a partial update: omitted fields leave stored
// values unchanged, explicit nulls clear them.
type SessionUpdate struct {
	Name            Field[string] `json:"name"`
	Hostname        Field[string] `json:"hostname"`
	Port            Field[int]    `json:"port"`
	Username        Field[string] `json:"username"`
	Password        Field[string] `json:"password"`
	PrivateKey      Field[string] `json:"privateKey"`
	KeyPassphrase   Field[string] `json:"keyPassphrase"`
	ConsoleSnapshot Field[string] `json:"consoleSnapshot"`
	CredentialID    Field[uint]   `json:"credentialId"`
	Tags            Field[[]uint] `json:"tags"`
}

// SessionView is the sanitized read model: secret presence only, never
// ciphertext.
type SessionView struct {
	ID              uint      `json:"id"`
	Name            string    `json:"name"`
	Hostname        string    `json:"hostname"`
	Port            int       `json:"port"`
	Username        string    `json:"username"`
	HasPassword     bool      `json:"hasPassword"`
	HasPrivateKey   bool      `json:"hasPrivateKey"`
	CredentialID    *uint     `json:"credentialId"`
	ConsoleSnapshot string    `json:"consoleSnapshot"`
	Tags            []TagView `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ConnectionCredentials carries resolved plaintext secrets. Only the
// connection and duplication paths ever see one.
type ConnectionCredentials struct {
	SessionID     uint
	Name          string
	Hostname      string
	Port          int
	Username      string
	Password      string
	PrivateKey    string
	KeyPassphrase string
}

func validateSessionFields(name, hostname, username string, port int, tags Field[[]uint]) error {
	var violations []string
	if strings.TrimSpace(name) == "" {
		violations = append(violations, "session name is required")
	}
	if strings.TrimSpace(hostname) == "" {
		violations = append(violations, "hostname is required")
	}
	if strings.TrimSpace(username) == "" {
		violations = append(violations, "username is required")
	}
	if port < 1 || port > 65535 {
		violations = append(violations, "port must be a valid number between 1 and 65535")
	}
	if tags.Set && tags.Valid {
		for _, id := range tags.Value {
			if id == 0 {
				violations = append(violations, "tags must be valid numeric identifiers")
				break
			}
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func loadSession(tx *gorm.DB, sessionID, userID uint) (*Session, error) {
	var s Session
	if err := tx.Where("id = ? AND user_id = ?", sessionID, userID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (api *API) CreateSession(userID uint, req SessionRequest) (*SessionView, error) {
	var view *SessionView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		v, err := api.createSession(tx, userID, req)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (api *API) createSession(tx *gorm.DB, userID uint, req SessionRequest) (*SessionView, error) {
	port := req.Port
	if port == 0 {
		port = 22
	}
	if err := validateSessionFields(req.Name, req.Hostname, req.Username, port, req.Tags); err != nil {
		return nil, err
	}

	var sec *storedSecrets
	if req.CredentialID != nil {
		derived, err := api.deriveFromCredential(tx, *req.CredentialID, userID)
		if err != nil {
			return nil, err
		}
		sec = derived
	} else {
		encPassword, encKey, iv, err := api.encryptInline(req.Password, req.PrivateKey)
		if err != nil {
			return nil, err
		}
		sec = &storedSecrets{
			Username:      req.Username,
			Password:      encPassword,
			PrivateKey:    encKey,
			KeyPassphrase: req.KeyPassphrase,
			IV:            iv,
		}
	}

	session := Session{
		UserID:        userID,
		Name:          strings.TrimSpace(req.Name),
		Hostname:      strings.TrimSpace(req.Hostname),
		Port:          port,
		Username:      sec.Username,
		Password:      sec.Password,
		PrivateKey:    sec.PrivateKey,
		KeyPassphrase: sec.KeyPassphrase,
		IV:            sec.IV,
		CredentialID:  sec.CredentialID,
	}
	if err := tx.Create(&session).Error; err != nil {
		return nil, err
	}
	if req.Tags.Set {
		if err := api.setSessionTags(tx, session.ID, userID, req.Tags.Value); err != nil {
			return nil, err
		}
	}
	return api.sessionView(tx, session.ID, userID)
}

func (api *API) UpdateSession(sessionID, userID uint, req SessionUpdate) (*SessionView, error) {
	var view *SessionView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		existing, err := loadSession(tx, sessionID, userID)
		if err != nil {
			return err
		}
		s := *existing

		if req.Name.Set {
			s.Name = strings.TrimSpace(req.Name.Value)
		}
		if req.Hostname.Set {
			s.Hostname = strings.TrimSpace(req.Hostname.Value)
		}
		if req.Port.Set {
			if req.Port.Valid {
				s.Port = req.Port.Value
			} else {
				s.Port = 22
			}
		}
		if req.Username.Set {
			s.Username = req.Username.Value
		}
		if req.KeyPassphrase.Set {
			s.KeyPassphrase = req.KeyPassphrase.Value
		}
		if req.ConsoleSnapshot.Set {
			s.ConsoleSnapshot = req.ConsoleSnapshot.Value
		}

		if err := validateSessionFields(s.Name, s.Hostname, s.Username, s.Port, req.Tags); err != nil {
			return err
		}

		switch {
		case req.CredentialID.Set:
			if err := api.applyCredentialSwitch(tx, existing, &s, req.CredentialID); err != nil {
				return err
			}
		case req.Password.Set || req.PrivateKey.Set:
			// Raw secrets detach the session from any credential it
			// referenced before. The cached slots derived from that
			// credential are no longer authoritative, so they go too.
			if s.CredentialID != nil {
				s.CredentialID = nil
				s.Password = ""
				s.PrivateKey = ""
				s.IV = ""
				if !req.KeyPassphrase.Set {
					s.KeyPassphrase = ""
				}
			}
			if err := api.applyInlineSecrets(existing, &s, req); err != nil {
				return err
			}
		}

		if err := tx.Save(&s).Error; err != nil {
			return err
		}
		if req.Tags.Set {
			if err := api.setSessionTags(tx, s.ID, userID, req.Tags.Value); err != nil {
				return err
			}
		}
		v, err := api.sessionView(tx, s.ID, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// applyCredentialSwitch handles an explicitly supplied credentialId:
// null detaches and clears the cache, a changed id re-derives the
// cache from scratch, the same id is left alone.
func (api *API) applyCredentialSwitch(tx *gorm.DB, existing, s *Session, credentialID Field[uint]) error {
	if !credentialID.Valid {
		s.CredentialID = nil
		s.Password = ""
		s.PrivateKey = ""
		s.KeyPassphrase = ""
		s.IV = ""
		return nil
	}
	if existing.CredentialID != nil && *existing.CredentialID == credentialID.Value {
		return nil
	}
	sec, err := api.deriveFromCredential(tx, credentialID.Value, s.UserID)
	if err != nil {
		return err
	}
	s.CredentialID = sec.CredentialID
	s.Username = sec.Username
	s.Password = sec.Password
	s.PrivateKey = sec.PrivateKey
	s.KeyPassphrase = sec.KeyPassphrase
	s.IV = sec.IV
	return nil
}

// applyInlineSecrets encrypts directly supplied secrets. Each present
// field is encrypted independently; both slots written in one update
// share one iv. A slot that survives untouched while the row gains a
// fresh iv is re-encrypted under it so the single stored iv stays
// valid for everything in the row.
func (api *API) applyInlineSecrets(existing, s *Session, req SessionUpdate) error {
	newIV := ""
	encrypt := func(plaintext string) (string, error) {
		if newIV == "" {
			ciphertext, iv, err := api.engine.Encrypt(plaintext)
			if err != nil {
				return "", err
			}
			newIV = iv
			return ciphertext, nil
		}
		return api.engine.EncryptWithIV(plaintext, newIV)
	}

	if req.Password.Set {
		if req.Password.Valid && req.Password.Value != "" {
			ciphertext, err := encrypt(req.Password.Value)
			if err != nil {
				return err
			}
			s.Password = ciphertext
		} else {
			s.Password = ""
		}
	}
	if req.PrivateKey.Set {
		if req.PrivateKey.Valid && req.PrivateKey.Value != "" {
			ciphertext, err := encrypt(req.PrivateKey.Value)
			if err != nil {
				return err
			}
			s.PrivateKey = ciphertext
		} else {
			s.PrivateKey = ""
		}
	}

	if newIV != "" {
		if !req.Password.Set && s.Password != "" && existing.IV != "" {
			if err := api.carrySlot(&s.Password, existing.Password, existing.IV, newIV, s.ID, "password"); err != nil {
				return err
			}
		}
		if !req.PrivateKey.Set && s.PrivateKey != "" && existing.IV != "" {
			if err := api.carrySlot(&s.PrivateKey, existing.PrivateKey, existing.IV, newIV, s.ID, "private key"); err != nil {
				return err
			}
		}
		s.IV = newIV
	} else if s.Password == "" && s.PrivateKey == "" {
		s.IV = ""
	}
	return nil
}

// carrySlot re-encrypts an untouched secret under the row's new iv. A
// slot that can no longer be decrypted (rotated key) is dropped rather
// than left behind as garbage under an iv it was never encrypted with.
func (api *API) carrySlot(slot *string, ciphertext, oldIV, newIV string, sessionID uint, label string) error {
	plaintext, err := api.engine.Decrypt(ciphertext, oldIV)
	if err != nil {
		log.Warnf("session %d: dropping stored %s that cannot be decrypted with the current key", sessionID, label)
		*slot = ""
		return nil
	}
	reencrypted, err := api.engine.EncryptWithIV(plaintext, newIV)
	if err != nil {
		return err
	}
	*slot = reencrypted
	return nil
}

// DuplicateSession copies a session under a fresh iv: the source's
// credentials are resolved to plaintext and run back through the
// normal create path rather than copying ciphertext byte for byte.
func (api *API) DuplicateSession(sessionID, userID uint, newName string) (*SessionView, error) {
	var view *SessionView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		s, err := loadSession(tx, sessionID, userID)
		if err != nil {
			return err
		}
		eff, err := api.resolveCredentials(tx, s)
		if err != nil {
			return err
		}
		tagIDs, err := tagIDsForSession(tx, sessionID)
		if err != nil {
			return err
		}

		name := strings.TrimSpace(newName)
		if name == "" {
			name = s.Name + " (Copy)"
		}
		req := SessionRequest{
			Name:          name,
			Hostname:      s.Hostname,
			Port:          s.Port,
			Username:      eff.Username,
			Password:      eff.Password,
			PrivateKey:    eff.PrivateKey,
			KeyPassphrase: eff.KeyPassphrase,
			Tags:          SetField(tagIDs),
		}
		// Carry the reference over only when it still resolves; a
		// dangling one would fail the create while the plaintext copy
		// above already preserves the usable secrets.
		if s.CredentialID != nil {
			if _, err := api.getCredentialByID(tx, *s.CredentialID, userID); err == nil {
				req.CredentialID = s.CredentialID
			}
		}

		v, err := api.createSession(tx, userID, req)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (api *API) DeleteSession(sessionID, userID uint) error {
	return api.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Where("id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", sessionID).Delete(&SessionTag{}).Error
	})
}

func (api *API) GetSessionByID(sessionID, userID uint) (*SessionView, error) {
	return api.sessionView(api.db, sessionID, userID)
}

// ListSessions returns sanitized views for the user's sessions, most
// recently updated first, optionally narrowed to one tag.
func (api *API) ListSessions(userID, tagID uint) ([]SessionView, error) {
	query := api.db.Where("sessions.user_id = ?", userID).Order("sessions.updated_at DESC")
	if tagID > 0 {
		query = query.Joins("JOIN session_tags st ON st.session_id = sessions.id").Where("st.tag_id = ?", tagID)
	}
	var rows []Session
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
	}
	tagsBySession, err := tagsForSessions(api.db, ids, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(rows))
	for i := range rows {
		view := newSessionView(&rows[i], tagsBySession[rows[i].ID])
		views = append(views, *view)
	}
	return views, nil
}

// SaveConsoleSnapshot updates only the console snapshot blob.
func (api *API) SaveConsoleSnapshot(sessionID, userID uint, snapshot string) error {
	return api.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadSession(tx, sessionID, userID); err != nil {
			return err
		}
		return tx.Model(&Session{}).Where("id = ? AND user_id = ?", sessionID, userID).
			Update("console_snapshot", snapshot).Error
	})
}

// SessionWithCredentials is the only entry point that returns
// plaintext secrets; it exists for the connection and test paths.
func (api *API) SessionWithCredentials(sessionID, userID uint) (*ConnectionCredentials, error) {
	var creds *ConnectionCredentials
	err := api.db.Transaction(func(tx *gorm.DB) error {
		s, err := loadSession(tx, sessionID, userID)
		if err != nil {
			return err
		}
		eff, err := api.resolveCredentials(tx, s)
		if err != nil {
			return err
		}
		creds = &ConnectionCredentials{
			SessionID:     s.ID,
			Name:          s.Name,
			Hostname:      s.Hostname,
			Port:          s.Port,
			Username:      eff.Username,
			Password:      eff.Password,
			PrivateKey:    eff.PrivateKey,
			KeyPassphrase: eff.KeyPassphrase,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func newSessionView(s *Session, tags []TagView) *SessionView {
	if tags == nil {
		tags = []TagView{}
	}
	return &SessionView{
		ID:              s.ID,
		Name:            s.Name,
		Hostname:        s.Hostname,
		Port:            s.Port,
		Username:        s.Username,
		HasPassword:     s.Password != "",
		HasPrivateKey:   s.PrivateKey != "",
		CredentialID:    s.CredentialID,
		ConsoleSnapshot: s.ConsoleSnapshot,
		Tags:            tags,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (api *API) sessionView(tx *gorm.DB, sessionID, userID uint) (*SessionView, error) {
	s, err := loadSession(tx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	tags, err := tagViewsForSession(tx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return newSessionView(s, tags), nil
}
