package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"webssh/cmd"
	"webssh/http"
)

func main() {
	app := &cli.App{
		Name:      "webssh",
		Usage:     "webssh",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "toml config file",
				DefaultText: "/etc/webssh.toml",
				Required:    true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the web server",
				Action: http.RunServer,
			},
			{
				Name:      "useradd",
				Usage:     "create a user",
				Args:      true,
				ArgsUsage: "<username> <password>",
				Action:    cmd.UserAdd,
			},
			{
				Name:      "passwd",
				Usage:     "change user password",
				Args:      true,
				ArgsUsage: "<username> <password>",
				Action:    cmd.Passwd,
			},
			{
				Name:      "admin",
				Usage:     "set user as admin",
				Args:      true,
				ArgsUsage: "<username> <true|false>",
				Action:    cmd.SetAdmin,
			},
			{
				Name:   "keygen",
				Usage:  "generate a data encryption key",
				Action: cmd.Keygen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
	}
}
