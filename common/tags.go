package common

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type TagView struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TagSummary adds the number of sessions carrying the tag.
type TagSummary struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SessionCount int64     `json:"sessionCount"`
}

func tagView(t *Tag) *TagView {
	return &TagView{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// CreateTag creates a user-scoped tag. Names are unique per user,
// compared case-insensitively.
func (api *API) CreateTag(userID uint, name string) (*TagView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("tag name is required")
	}
	var view *TagView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		var existing Tag
		err := tx.Where("user_id = ? AND LOWER(name) = LOWER(?)", userID, name).First(&existing).Error
		if err == nil {
			return validationError("tag with this name already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		tag := Tag{UserID: userID, Name: name}
		if err := tx.Create(&tag).Error; err != nil {
			return err
		}
		view = tagView(&tag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (api *API) GetTagByID(tagID, userID uint) (*TagView, error) {
	var tag Tag
	if err := api.db.Where("id = ? AND user_id = ?", tagID, userID).First(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tagView(&tag), nil
}

// ListTags returns the user's tags with session counts, ordered by
// lowercased name.
func (api *API) ListTags(userID uint) ([]TagSummary, error) {
	var summaries []TagSummary
	err := api.db.Model(&Tag{}).
		Select("tags.id, tags.name, tags.created_at, tags.updated_at, COUNT(session_tags.session_id) AS session_count").
		Joins("LEFT JOIN session_tags ON session_tags.tag_id = tags.id").
		Where("tags.user_id = ?", userID).
		Group("tags.id").
		Order("LOWER(tags.name)").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []TagSummary{}
	}
	return summaries, nil
}

func (api *API) UpdateTag(tagID, userID uint, name string) (*TagView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("tag name is required")
	}
	var view *TagView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		var tag Tag
		if err := tx.Where("id = ? AND user_id = ?", tagID, userID).First(&tag).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var duplicate Tag
		err := tx.Where("user_id = ? AND LOWER(name) = LOWER(?) AND id != ?", userID, name, tagID).First(&duplicate).Error
		if err == nil {
			return validationError("tag with this name already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		tag.Name = name
		if err := tx.Save(&tag).Error; err != nil {
			return err
		}
		view = tagView(&tag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteTag removes the tag and its session memberships; the sessions
// themselves are untouched.
func (api *API) DeleteTag(tagID, userID uint) error {
	return api.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Where("id = ? AND user_id = ?", tagID, userID).Delete(&Tag{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("tag_id = ?", tagID).Delete(&SessionTag{}).Error
	})
}

// SetSessionTags replaces the session's tag membership with the given
// set, all or nothing.
func (api *API) SetSessionTags(sessionID, userID uint, tagIDs []uint) ([]TagView, error) {
	var tags []TagView
	err := api.db.Transaction(func(tx *gorm.DB) error {
		if err := api.setSessionTags(tx, sessionID, userID, tagIDs); err != nil {
			return err
		}
		t, err := tagViewsForSession(tx, sessionID, userID)
		if err != nil {
			return err
		}
		tags = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// setSessionTags is the transactional core of SetSessionTags: verify
// session ownership, verify every tag resolves within the same owner,
// then swap the whole membership set. Runs inside the caller's
// transaction so readers never observe the emptied intermediate state.
func (api *API) setSessionTags(tx *gorm.DB, sessionID, userID uint, tagIDs []uint) error {
	if _, err := loadSession(tx, sessionID, userID); err != nil {
		return err
	}

	unique := make([]uint, 0, len(tagIDs))
	seen := make(map[uint]bool, len(tagIDs))
	for _, id := range tagIDs {
		if id == 0 {
			return validationError("tags must be valid numeric identifiers")
		}
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	if len(unique) > 0 {
		var count int64
		if err := tx.Model(&Tag{}).Where("user_id = ? AND id IN ?", userID, unique).Count(&count).Error; err != nil {
			return err
		}
		if count != int64(len(unique)) {
			return validationError("one or more tags were not found")
		}
	}

	if err := tx.Where("session_id = ?", sessionID).Delete(&SessionTag{}).Error; err != nil {
		return err
	}
	for _, id := range unique {
		if err := tx.Create(&SessionTag{SessionID: sessionID, TagID: id}).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetTagsForSession returns the session's tags ordered by lowercased
// name.
func (api *API) GetTagsForSession(sessionID, userID uint) ([]TagView, error) {
	return tagViewsForSession(api.db, sessionID, userID)
}

func tagViewsForSession(tx *gorm.DB, sessionID, userID uint) ([]TagView, error) {
	var tags []Tag
	err := tx.
		Joins("JOIN session_tags ON session_tags.tag_id = tags.id").
		Joins("JOIN sessions ON sessions.id = session_tags.session_id").
		Where("session_tags.session_id = ? AND sessions.user_id = ?", sessionID, userID).
		Order("LOWER(tags.name)").
		Find(&tags).Error
	if err != nil {
		return nil, err
	}
	views := make([]TagView, 0, len(tags))
	for i := range tags {
		views = append(views, *tagView(&tags[i]))
	}
	return views, nil
}

func tagsForSessions(tx *gorm.DB, sessionIDs []uint, userID uint) (map[uint][]TagView, error) {
	result := make(map[uint][]TagView)
	if len(sessionIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		SessionID uint
		TagID     uint
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
	err := tx.Model(&SessionTag{}).
		Select("session_tags.session_id, tags.id AS tag_id, tags.name, tags.created_at, tags.updated_at").
		Joins("JOIN tags ON tags.id = session_tags.tag_id").
		Joins("JOIN sessions ON sessions.id = session_tags.session_id").
		Where("sessions.user_id = ? AND session_tags.session_id IN ?", userID, sessionIDs).
		Order("session_tags.session_id, LOWER(tags.name)").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].SessionID] = append(result[rows[i].SessionID], TagView{
			ID:        rows[i].TagID,
			Name:      rows[i].Name,
			CreatedAt: rows[i].CreatedAt,
			UpdatedAt: rows[i].UpdatedAt,
		})
	}
	return result, nil
}

func tagIDsForSession(tx *gorm.DB, sessionID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&SessionTag{}).Where("session_id = ?", sessionID).Pluck("tag_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
