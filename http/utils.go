package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"webssh/common"
	"webssh/secrets"
)

func ReturnError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// ReturnAPIError maps core errors onto HTTP statuses. Cross-user rows
// surface as plain not-found, never forbidden.
func ReturnAPIError(c *gin.Context, err error) {
	var verr *common.ValidationError
	switch {
	case errors.Is(err, common.ErrNotFound):
		ReturnError(c, http.StatusNotFound, "Not found")
	case errors.As(err, &verr):
		ReturnError(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, secrets.ErrNotReady):
		ReturnError(c, http.StatusInternalServerError, "Encryption engine not initialized")
	case errors.Is(err, secrets.ErrDecryptFailed):
		ReturnError(c, http.StatusInternalServerError, "Stored secret cannot be decrypted with the current key")
	default:
		log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		ReturnError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		ReturnError(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func currentUser(c *gin.Context) common.User {
	return c.MustGet("user").(common.User)
}
