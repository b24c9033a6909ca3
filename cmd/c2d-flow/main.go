package main

import (
	"os"

	"github.com/lagrangedao/go-c2d-flow/build"
	"github.com/urfave/cli/v2"
)

const (
	FlagRepo = "repo"
)

func main() {
	app := &cli.App{
		Name:                 "c2d-flow",
		Usage:                "Runs the compute-to-data flow: datatokens, asset publication, trust, payment, the compute job and the result artifact.",
		EnableBashCompletion: true,
		Version:              build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagRepo,
				EnvVars: []string{"C2D_PATH"},
				Usage:   "c2d-flow repo path",
				Value:   "~/.c2d-flow",
			},
		},
		Commands: []*cli.Command{
			runCmd,
			walletCmd,
			flowCmd,
		},
	}
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
