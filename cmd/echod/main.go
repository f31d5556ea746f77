// The echod command runs the echo server and provides a small client for
// talking to it.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dcrodman/echod/cmd/echod/client"
	"github.com/dcrodman/echod/cmd/echod/server"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "echod error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	app := cli.NewApp()
	app.Name = "echod"
	app.Usage = "one request, one response TCP echo server"
	app.Commands = []*cli.Command{
		server.Command(),
		client.SendCommand(),
		client.AddCommand(),
	}
	return app
}
