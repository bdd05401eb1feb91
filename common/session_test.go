package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawSession(t *testing.T, api *API, id uint) *Session {
	t.Helper()
	var s Session
	require.NoError(t, api.db.First(&s, id).Error)
	return &s
}

func createInlineSession(t *testing.T, api *API, userID uint, name string) *SessionView {
	t.Helper()
	view, err := api.CreateSession(userID, SessionRequest{
		Name:     name,
		Hostname: "example.com",
		Port:     22,
		Username: "root",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return view
}

func TestCreateSessionEncryptsInlinePassword(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	view := createInlineSession(t, api, userID, "prod-db")
	assert.True(t, view.HasPassword)
	assert.False(t, view.HasPrivateKey)
	assert.Nil(t, view.CredentialID)

	raw := rawSession(t, api, view.ID)
	assert.NotEqual(t, "hunter2", raw.Password)
	assert.NotEmpty(t, raw.IV)

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, "root", creds.Username)
}

func TestCreateSessionDefaultsPort(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:     "no-port",
		Hostname: "example.com",
		Username: "root",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, view.Port)
}

func TestCreateSessionAggregatesViolations(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	_, err := api.CreateSession(userID, SessionRequest{Port: 70000})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 4)
	assert.Contains(t, verr.Violations, "port must be a valid number between 1 and 65535")

	var count int64
	require.NoError(t, api.db.Model(&Session{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateSessionFromCredential(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	cred := createPasswordCredential(t, api, userID, "shared admin", "admin", "s3cret")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:         "app-server",
		Hostname:     "app.internal",
		Port:         2222,
		Username:     "ignored",
		CredentialID: &cred.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, view.CredentialID)
	assert.Equal(t, cred.ID, *view.CredentialID)
	assert.Equal(t, "admin", view.Username)
	assert.True(t, view.HasPassword)

	// The cache is a re-encryption under the session's own iv, not a
	// byte copy of the credential row.
	raw := rawSession(t, api, view.ID)
	var rawCred Credential
	require.NoError(t, api.db.First(&rawCred, cred.ID).Error)
	assert.NotEqual(t, rawCred.IV, raw.IV)
	assert.NotEqual(t, rawCred.Password, raw.Password)

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", creds.Password)
}

func TestUpdateSessionPartial(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	updated, err := api.UpdateSession(view.ID, userID, SessionUpdate{
		Hostname: SetField("db.internal"),
	})
	require.NoError(t, err)
	assert.Equal(t, "db.internal", updated.Hostname)
	assert.Equal(t, "prod-db", updated.Name)
	assert.True(t, updated.HasPassword)

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds.Password)
}

func TestUpdateSessionSwitchCredentialToInline(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	cred := createKeyCredential(t, api, userID, "deploy key", "deploy", "fake key material")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:         "worker",
		Hostname:     "worker.internal",
		Username:     "ignored",
		CredentialID: &cred.ID,
	})
	require.NoError(t, err)
	assert.True(t, view.HasPrivateKey)

	updated, err := api.UpdateSession(view.ID, userID, SessionUpdate{
		Username: SetField("root"),
		Password: SetField("newpass"),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.CredentialID)
	assert.True(t, updated.HasPassword)
	assert.False(t, updated.HasPrivateKey)

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "newpass", creds.Password)
	assert.Empty(t, creds.PrivateKey)
}

func TestUpdateSessionNullCredentialClearsCache(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	cred := createPasswordCredential(t, api, userID, "shared admin", "admin", "s3cret")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:         "app-server",
		Hostname:     "app.internal",
		Username:     "ignored",
		CredentialID: &cred.ID,
	})
	require.NoError(t, err)

	updated, err := api.UpdateSession(view.ID, userID, SessionUpdate{
		CredentialID: NullField[uint](),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.CredentialID)
	assert.False(t, updated.HasPassword)
	assert.False(t, updated.HasPrivateKey)

	raw := rawSession(t, api, view.ID)
	assert.Empty(t, raw.Password)
	assert.Empty(t, raw.IV)
}

func TestUpdateSessionSameCredentialIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	cred := createPasswordCredential(t, api, userID, "shared admin", "admin", "s3cret")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:         "app-server",
		Hostname:     "app.internal",
		Username:     "ignored",
		CredentialID: &cred.ID,
	})
	require.NoError(t, err)
	before := rawSession(t, api, view.ID)

	_, err = api.UpdateSession(view.ID, userID, SessionUpdate{
		CredentialID: SetField(cred.ID),
	})
	require.NoError(t, err)

	after := rawSession(t, api, view.ID)
	assert.Equal(t, before.Password, after.Password)
	assert.Equal(t, before.IV, after.IV)
}

func TestUpdateSessionSharedIVForBothSlots(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	_, err := api.UpdateSession(view.ID, userID, SessionUpdate{
		Password:   SetField("newpass"),
		PrivateKey: SetField("new key material"),
	})
	require.NoError(t, err)

	raw := rawSession(t, api, view.ID)
	password, err := api.engine.Decrypt(raw.Password, raw.IV)
	require.NoError(t, err)
	privateKey, err := api.engine.Decrypt(raw.PrivateKey, raw.IV)
	require.NoError(t, err)
	assert.Equal(t, "newpass", password)
	assert.Equal(t, "new key material", privateKey)
}

func TestUpdateSessionCarriesUntouchedSlot(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	updated, err := api.UpdateSession(view.ID, userID, SessionUpdate{
		PrivateKey: SetField("key material"),
	})
	require.NoError(t, err)
	assert.True(t, updated.HasPassword)
	assert.True(t, updated.HasPrivateKey)

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, "key material", creds.PrivateKey)
}

func TestUpdateSessionForeignTagRollsBack(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	otherID := createTestUser(t, api, "bob")

	own, err := api.CreateTag(userID, "prod")
	require.NoError(t, err)
	foreign, err := api.CreateTag(otherID, "theirs")
	require.NoError(t, err)

	view := createInlineSession(t, api, userID, "prod-db")

	_, err = api.UpdateSession(view.ID, userID, SessionUpdate{
		Name: SetField("renamed"),
		Tags: SetField([]uint{own.ID, foreign.ID}),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// The whole transaction rolls back, name change included.
	raw := rawSession(t, api, view.ID)
	assert.Equal(t, "prod-db", raw.Name)
	tags, err := api.GetTagsForSession(view.ID, userID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestDanglingCredentialFallsBackToCache(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	cred := createPasswordCredential(t, api, userID, "shared admin", "admin", "s3cret")

	view, err := api.CreateSession(userID, SessionRequest{
		Name:         "app-server",
		Hostname:     "app.internal",
		Username:     "ignored",
		CredentialID: &cred.ID,
	})
	require.NoError(t, err)

	require.NoError(t, api.DeleteCredential(cred.ID, userID))

	creds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "admin", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)
}

func TestDuplicateSession(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	prod, err := api.CreateTag(userID, "prod")
	require.NoError(t, err)
	db, err := api.CreateTag(userID, "db")
	require.NoError(t, err)

	view, err := api.CreateSession(userID, SessionRequest{
		Name:     "prod-db",
		Hostname: "db.internal",
		Port:     2222,
		Username: "root",
		Password: "hunter2",
		Tags:     SetField([]uint{prod.ID, db.ID}),
	})
	require.NoError(t, err)

	copied, err := api.DuplicateSession(view.ID, userID, "")
	require.NoError(t, err)
	assert.Equal(t, "prod-db (Copy)", copied.Name)
	assert.NotEqual(t, view.ID, copied.ID)
	assert.Equal(t, view.Hostname, copied.Hostname)
	assert.Equal(t, view.Port, copied.Port)
	assert.Len(t, copied.Tags, 2)

	srcCreds, err := api.SessionWithCredentials(view.ID, userID)
	require.NoError(t, err)
	copyCreds, err := api.SessionWithCredentials(copied.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, srcCreds.Password, copyCreds.Password)

	// Same plaintext, independent iv.
	assert.NotEqual(t, rawSession(t, api, view.ID).IV, rawSession(t, api, copied.ID).IV)
}

func TestDuplicateSessionCustomName(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	copied, err := api.DuplicateSession(view.ID, userID, "staging-db")
	require.NoError(t, err)
	assert.Equal(t, "staging-db", copied.Name)
}

func TestDeleteSessionCleansMemberships(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	tag, err := api.CreateTag(userID, "prod")
	require.NoError(t, err)
	view, err := api.CreateSession(userID, SessionRequest{
		Name:     "prod-db",
		Hostname: "db.internal",
		Username: "root",
		Tags:     SetField([]uint{tag.ID}),
	})
	require.NoError(t, err)

	require.NoError(t, api.DeleteSession(view.ID, userID))

	_, err = api.GetSessionByID(view.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	var memberships int64
	require.NoError(t, api.db.Model(&SessionTag{}).Where("session_id = ?", view.ID).Count(&memberships).Error)
	assert.Zero(t, memberships)

	// The tag itself survives.
	_, err = api.GetTagByID(tag.ID, userID)
	assert.NoError(t, err)

	assert.ErrorIs(t, api.DeleteSession(view.ID, userID), ErrNotFound)
}

func TestSessionOwnershipScoping(t *testing.T) {
	api := newTestAPI(t)
	aliceID := createTestUser(t, api, "alice")
	bobID := createTestUser(t, api, "bob")
	view := createInlineSession(t, api, aliceID, "prod-db")

	_, err := api.GetSessionByID(view.ID, bobID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = api.SessionWithCredentials(view.ID, bobID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, api.DeleteSession(view.ID, bobID), ErrNotFound)
	_, err = api.UpdateSession(view.ID, bobID, SessionUpdate{Name: SetField("stolen")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsFiltersByTag(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")

	tag, err := api.CreateTag(userID, "prod")
	require.NoError(t, err)
	first := createInlineSession(t, api, userID, "first")
	second, err := api.CreateSession(userID, SessionRequest{
		Name:     "second",
		Hostname: "example.com",
		Username: "root",
		Tags:     SetField([]uint{tag.ID}),
	})
	require.NoError(t, err)

	all, err := api.ListSessions(userID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tagged, err := api.ListSessions(userID, tag.ID)
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, second.ID, tagged[0].ID)

	// Touching a session moves it to the front of the list.
	require.NoError(t, api.SaveConsoleSnapshot(first.ID, userID, "snapshot"))
	all, err = api.ListSessions(userID, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
}

func TestSaveConsoleSnapshot(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	require.NoError(t, api.SaveConsoleSnapshot(view.ID, userID, "last output"))

	got, err := api.GetSessionByID(view.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "last output", got.ConsoleSnapshot)

	assert.ErrorIs(t, api.SaveConsoleSnapshot(9999, userID, "x"), ErrNotFound)
}

func TestSessionViewNeverExposesSecrets(t *testing.T) {
	api := newTestAPI(t)
	userID := createTestUser(t, api, "alice")
	view := createInlineSession(t, api, userID, "prod-db")

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, string(data), rawSession(t, api, view.ID).Password)
	assert.Contains(t, string(data), `"hasPassword":true`)
}
