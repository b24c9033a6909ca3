package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/internal/initializer"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/util"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var apiFlag = &cli.StringFlag{
	Name:  "api",
	Usage: "url of a running c2d-flow server, defaults to localhost on [API] Port",
}

var flowCmd = &cli.Command{
	Name:  "flow",
	Usage: "Run and inspect flows",
	Subcommands: []*cli.Command{
		flowRun,
		flowList,
		flowGet,
	},
}

var flowRun = &cli.Command{
	Name:  "run",
	Usage: "Run one full flow in this process and print the result",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		node, err := initializer.ProjectInit(ctx, repo)
		if err != nil {
			return err
		}
		defer node.Close()

		result, err := node.RunFlow(ctx)
		if result != nil {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
		}
		if err != nil {
			color.Red("flow failed: %v", err)
			return err
		}
		color.Green("%s", result.Summary())
		return nil
	},
}

var flowList = &cli.Command{
	Name:  "list",
	Usage: "List the runs of a server",
	Flags: []cli.Flag{apiFlag},
	Action: func(cctx *cli.Context) error {
		var list []models.FlowRun
		if err := getApi(cctx, "/api/v1/flows", &list); err != nil {
			return err
		}

		var data [][]string
		var rowColors []RowColor
		for i, run := range list {
			data = append(data, []string{run.Uuid, string(run.Status), string(run.Step), run.CreatedAt.Format(time.RFC3339), resultUrl(&run)})
			rowColors = append(rowColors, RowColor{row: i, column: []int{1}, color: []tablewriter.Colors{statusColor(string(run.Status))}})
		}
		NewVisualTable([]string{"Uuid", "Status", "Step", "Created", "Result"}, data, rowColors).Generate()
		return nil
	},
}

var flowGet = &cli.Command{
	Name:      "get",
	Usage:     "Show one run of a server",
	ArgsUsage: "<run uuid>",
	Flags:     []cli.Flag{apiFlag},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify the run uuid")
		}
		var run models.FlowRun
		if err := getApi(cctx, "/api/v1/flows/"+cctx.Args().First(), &run); err != nil {
			return err
		}
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func resultUrl(run *models.FlowRun) string {
	if run.Result == nil {
		return run.Error
	}
	return run.Result.Url
}

func apiUrl(cctx *cli.Context) (string, error) {
	if url := cctx.String("api"); url != "" {
		return strings.TrimRight(url, "/"), nil
	}
	repo, err := repoPath(cctx)
	if err != nil {
		return "", err
	}
	cfg, err := conf.LoadConfig(filepath.Join(repo, "config.toml"))
	if err != nil {
		return "", fmt.Errorf("pass --api or provide a repo config, error: %+v", err)
	}
	return "http://localhost:" + strconv.Itoa(cfg.API.Port), nil
}

func getApi(cctx *cli.Context, path string, data interface{}) error {
	base, err := apiUrl(cctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(reqContext(cctx), http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed request %s, error: %+v", base+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	result := util.BasicResponse{Data: data}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed decode response of %s, error: %+v", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, result.Message)
	}
	return nil
}
