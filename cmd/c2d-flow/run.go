package main

import (
	"context"
	"os"
	"strconv"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-c2d-flow/artifact"
	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/internal/api"
	"github.com/lagrangedao/go-c2d-flow/internal/initializer"
	"github.com/lagrangedao/go-c2d-flow/util"
	"github.com/urfave/cli/v2"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the flow api server",
	Action: func(cctx *cli.Context) error {
		logs.GetLogger().Info("Start in compute-to-data flow mode.")

		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		os.Setenv("C2D_PATH", repo)

		node, err := initializer.ProjectInit(cctx.Context, repo)
		if err != nil {
			return err
		}
		defer node.Close()

		if err := node.SetupRuns(repo); err != nil {
			return err
		}
		node.Manager.Start()

		var options []api.Option
		if node.Artifacts != nil {
			options = append(options, api.WithArtifacts(node.Artifacts))
		}
		server := api.NewServer(node.Settings.Publisher, node.RunFlow, node.Manager, options...)
		r := api.NewRouter(server)

		cfg := conf.GetConfig().API
		shutdownChan := make(chan struct{})
		httpStopper, err := util.ServeHttp(r, "c2d-api", ":"+strconv.Itoa(cfg.Port), cfg.CrtFile, cfg.KeyFile)
		if err != nil {
			logs.GetLogger().Fatalf("failed to start c2d-api endpoint: %s", err)
		}

		finishCh := util.MonitorShutdown(shutdownChan,
			util.ShutdownHandler{Component: "c2d-api", StopFunc: httpStopper},
			util.ShutdownHandler{Component: "flow-runs", StopFunc: node.Manager.Stop},
		)
		<-finishCh

		return nil
	},
}

func repoPath(cctx *cli.Context) (string, error) {
	return artifact.ExpandPath(cctx.String(FlagRepo))
}

func reqContext(cctx *cli.Context) context.Context {
	return util.ReqContext(cctx.Context)
}
