package http

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"webssh/common"
	"webssh/ssh"
)

type UserView struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func userView(u common.User) UserView {
	return UserView{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

func Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := api.Login(req.Username, req.Password)
	if err != nil {
		ReturnError(c, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	session := sessions.Default(c)
	session.Set("user", *user)
	if err := session.Save(); err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(*user)})
}

func Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": userView(currentUser(c))})
}

func ListSessions(c *gin.Context) {
	user := currentUser(c)

	var tagID uint
	if raw := c.Query("tagId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || parsed == 0 {
			ReturnError(c, http.StatusBadRequest, "Invalid tag ID")
			return
		}
		if _, err := api.GetTagByID(uint(parsed), user.ID); err != nil {
			ReturnAPIError(c, err)
			return
		}
		tagID = uint(parsed)
	}

	views, err := api.ListSessions(user.ID, tagID)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func GetSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := api.GetSessionByID(id, currentUser(c).ID)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

func CreateSession(c *gin.Context) {
	var req common.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := api.CreateSession(currentUser(c).ID, req)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": view})
}

func UpdateSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req common.SessionUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := api.UpdateSession(id, currentUser(c).ID, req)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

func DeleteSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := api.DeleteSession(id, currentUser(c).ID); err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func DuplicateSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ReturnError(c, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	view, err := api.DuplicateSession(id, currentUser(c).ID, req.Name)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": view})
}

func SaveConsoleSnapshot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Snapshot string `json:"snapshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := api.SaveConsoleSnapshot(id, currentUser(c).ID, req.Snapshot); err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TestSession resolves the session's credentials and attempts a real
// SSH handshake against the target host.
func TestSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	creds, err := api.SessionWithCredentials(id, currentUser(c).ID)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	if err := ssh.TestConnection(creds); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func SetSessionTags(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Tags []uint `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Tags must be provided as an array")
		return
	}
	tags, err := api.SetSessionTags(id, currentUser(c).ID, req.Tags)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func ListTags(c *gin.Context) {
	tags, err := api.ListTags(currentUser(c).ID)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func CreateTag(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	tag, err := api.CreateTag(currentUser(c).ID, req.Name)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tag": tag})
}

func UpdateTag(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	tag, err := api.UpdateTag(id, currentUser(c).ID, req.Name)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tag": tag})
}

func DeleteTag(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := api.DeleteTag(id, currentUser(c).ID); err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func ListCredentials(c *gin.Context) {
	creds, err := api.ListCredentials(currentUser(c).ID)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

func CreateCredential(c *gin.Context) {
	var req common.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := api.CreateCredential(currentUser(c).ID, req)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"credential": view})
}

func UpdateCredential(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req common.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ReturnError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := api.UpdateCredential(id, currentUser(c).ID, req)
	if err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": view})
}

func DeleteCredential(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := api.DeleteCredential(id, currentUser(c).ID); err != nil {
		ReturnAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func HandleNotFound(c *gin.Context) {
	ReturnError(c, http.StatusNotFound, "Not found")
}
