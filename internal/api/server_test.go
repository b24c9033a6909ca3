package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/internal/runs"
	"github.com/lagrangedao/go-c2d-flow/storage"
	"github.com/lagrangedao/go-c2d-flow/util"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

const publisher = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

type funcRunner func(ctx context.Context) (*models.FlowResult, error)

func (f funcRunner) Run(ctx context.Context) (*models.FlowResult, error) {
	return f(ctx)
}

func succeeded(ctx context.Context) (*models.FlowResult, error) {
	return &models.FlowResult{
		JobStatus: models.JobStatus{State: models.JobSucceeded, StatusText: "Job finished"},
		Url:       "http://localhost:8085/artifacts/alpha/Result_x.png",
	}, nil
}

type fixture struct {
	router  *gin.Engine
	manager *runs.Manager
	release chan struct{}
}

func newFixture(t *testing.T, runFlow FlowFunc, options ...Option) *fixture {
	gin.SetMode(gin.TestMode)
	store, err := runs.OpenLevelDBStore(t.TempDir())
	require.NoError(t, err)

	release := make(chan struct{})
	manager := runs.NewManager(store, runs.NewInProcessDispatcher(1), func(progress func(models.FlowEvent)) (runs.Runner, error) {
		return funcRunner(func(ctx context.Context) (*models.FlowResult, error) {
			<-release
			progress(models.FlowEvent{Step: models.StepMint, Message: "minted", Time: time.Now()})
			return succeeded(ctx)
		}), nil
	})
	manager.Start()
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		manager.Stop(context.Background())
	})

	router := gin.New()
	NewServer(publisher, runFlow, manager, options...).Register(router)
	return &fixture{router: router, manager: manager, release: release}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) util.BasicResponse {
	resp := util.BasicResponse{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t, succeeded)

	w := f.do(http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/hello/Chris")

	w = f.do(http.MethodGet, "/hello/Chris")
	require.Equal(t, "hello Chris", w.Body.String())

	w = f.do(http.MethodGet, "/api")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/api/openapi.json")

	w = f.do(http.MethodGet, "/api/openapi.json")
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Contains(t, doc["paths"], "/alpha/fullflow")

	w = f.do(http.MethodGet, "/alpha/createwallet")
	var address string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &address))
	require.Equal(t, "publisher_wallet.address = '"+publisher+"'", address)
}

func TestFullFlow(t *testing.T) {
	f := newFixture(t, succeeded)
	w := f.do(http.MethodGet, "/alpha/fullflow")
	require.Equal(t, http.StatusOK, w.Code)

	var summary string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, "Job Status: succeeded (Job finished) Result: http://localhost:8085/artifacts/alpha/Result_x.png", summary)

	failing := newFixture(t, func(ctx context.Context) (*models.FlowResult, error) {
		return &models.FlowResult{}, xerrors.New("insufficient balance")
	})
	w = failing.do(http.MethodGet, "/alpha/fullflow")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "insufficient balance", decode(t, w, nil).Message)
}

func TestFlowRuns(t *testing.T) {
	f := newFixture(t, succeeded)

	w := f.do(http.MethodPost, "/api/v1/flows")
	require.Equal(t, http.StatusAccepted, w.Code)
	var run models.FlowRun
	decode(t, w, &run)
	require.Equal(t, models.RunQueued, run.Status)

	w = f.do(http.MethodGet, "/api/v1/flows/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/api/v1/flows/00000000-0000-0000-0000-000000000000")
	require.Equal(t, http.StatusNotFound, w.Code)

	close(f.release)
	require.Eventually(t, func() bool {
		var got models.FlowRun
		w := f.do(http.MethodGet, "/api/v1/flows/"+run.Uuid)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &util.BasicResponse{Data: &got}); err != nil {
			return false
		}
		return got.Status == models.RunSucceeded
	}, 5*time.Second, 5*time.Millisecond)

	w = f.do(http.MethodGet, "/api/v1/flows")
	var list []models.FlowRun
	decode(t, w, &list)
	require.Len(t, list, 1)
	require.Equal(t, run.Uuid, list[0].Uuid)
}

func TestFlowEvents(t *testing.T) {
	f := newFixture(t, succeeded)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	run, err := f.manager.Submit(context.Background())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/flows/" + run.Uuid + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	close(f.release)

	var events []models.FlowEvent
	for {
		var event models.FlowEvent
		if err := conn.ReadJSON(&event); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		events = append(events, event)
	}
	require.Len(t, events, 2)
	require.Equal(t, models.StepMint, events[0].Step)
	require.Equal(t, string(models.RunSucceeded), events[1].Message)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/flows/00000000-0000-0000-0000-000000000000/events", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArtifacts(t *testing.T) {
	store := storage.NewLocalStore("http://localhost:8085/artifacts/alpha")
	require.NoError(t, store.Upload(context.Background(), "alpha", "Result_x.png", []byte("\x89PNG")))

	f := newFixture(t, succeeded, WithArtifacts(store.Handler()))
	w := f.do(http.MethodGet, "/artifacts/alpha/Result_x.png")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "\x89PNG", w.Body.String())
}
