package http

import (
	"encoding/gob"
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"webssh/common"
	"webssh/secrets"
)

func RunServer(cCtx *cli.Context) error {
	configPath := cCtx.String("config")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}

	engine, err := secrets.NewEngine(config.EncryptionKey)
	if err != nil {
		return err
	}

	api, err = common.NewAPI(config.DB, engine)
	if err != nil {
		return err
	}

	app := gin.Default()
	gob.Register(common.User{})
	sessionStore := memstore.NewStore([]byte(config.SessionSecret))
	sessionStore.Options(sessions.Options{
		MaxAge:   1800, // 30 minutes
		Path:     "/",
		HttpOnly: true,
	})
	app.Use(sessions.Sessions("webssh", sessionStore))
	app.Use(Auth())

	auth := app.Group("/api/auth")
	auth.POST("/login", Login)
	auth.POST("/logout", Logout)
	auth.GET("/me", RequireLogin(), Me)

	private := app.Group("/api", RequireLogin())

	private.GET("/sessions", ListSessions)
	private.POST("/sessions", CreateSession)
	private.GET("/sessions/:id", GetSession)
	private.PUT("/sessions/:id", UpdateSession)
	private.DELETE("/sessions/:id", DeleteSession)
	private.POST("/sessions/:id/duplicate", DuplicateSession)
	private.PUT("/sessions/:id/snapshot", SaveConsoleSnapshot)
	private.POST("/sessions/:id/test", TestSession)
	private.PUT("/sessions/:id/tags", SetSessionTags)

	private.GET("/tags", ListTags)
	private.POST("/tags", CreateTag)
	private.PUT("/tags/:id", UpdateTag)
	private.DELETE("/tags/:id", DeleteTag)

	private.GET("/credentials", ListCredentials)
	private.POST("/credentials", CreateCredential)
	private.PUT("/credentials/:id", UpdateCredential)
	private.DELETE("/credentials/:id", DeleteCredential)

	app.NoRoute(HandleNotFound)

	return app.Run(fmt.Sprintf("0.0.0.0:%d", config.Port))
}
