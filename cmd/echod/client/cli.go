package client

import (
	"fmt"
	"math"
	"time"

	"github.com/urfave/cli/v2"

	echoclient "github.com/dcrodman/echod/internal/client"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "Address of the echo server",
			EnvVars: []string{"ECHOD_ADDRESS"},
			Value:   "127.0.0.1:8080",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait on the network before giving up",
			Value: time.Second,
		},
	}
}

func SendCommand() *cli.Command {
	return &cli.Command{
		Name:        "send",
		Usage:       "echod send --message TEXT",
		Description: "Sends one echo request and prints what the server sent back.",
		Action:      send,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Text to send",
				Required: true,
			},
		}, commonFlags()...),
	}
}

func AddCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "echod add -x 1 -y 2",
		Description: "Asks the server to add two numbers and prints the result.",
		Action:      add,
		Flags: append([]cli.Flag{
			&cli.Int64Flag{Name: "x", Usage: "First operand", Required: true},
			&cli.Int64Flag{Name: "y", Usage: "Second operand", Required: true},
		}, commonFlags()...),
	}
}

func send(c *cli.Context) error {
	content, err := echoclient.Echo(c.String("address"), c.String("message"), c.Duration("timeout"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, content)
	return nil
}

func add(c *cli.Context) error {
	x, err := int32Arg(c, "x")
	if err != nil {
		return err
	}
	y, err := int32Arg(c, "y")
	if err != nil {
		return err
	}

	result, err := echoclient.Add(c.String("address"), x, y, c.Duration("timeout"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, result)
	return nil
}

func int32Arg(c *cli.Context, name string) (int32, error) {
	v := c.Int64(name)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("-%s must fit in 32 bits, got %d", name, v)
	}
	return int32(v), nil
}
