package initializer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/joho/godotenv"
	"github.com/lagrangedao/go-c2d-flow/compute"
	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/internal/flow"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/internal/runs"
	"github.com/lagrangedao/go-c2d-flow/ledger"
	"github.com/lagrangedao/go-c2d-flow/provider"
	"github.com/lagrangedao/go-c2d-flow/storage"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"github.com/lagrangedao/go-c2d-flow/yaml"
)

const (
	RunsRepo = "runs"

	// status polls until a sandbox job succeeds
	sandboxFinishAfter = 3
)

// Node holds everything a flow run needs, built once at startup.
type Node struct {
	Config     *conf.FlowNode
	Settings   flow.Settings
	Definition *yaml.FlowDefinition
	Ledger     ledger.Client
	Backend    compute.Backend
	Store      storage.ArtifactStore
	Identities flow.IdentitySource
	Endpoints  flow.EndpointResolver
	Locks      *flow.IdentityLocks
	Manager    *runs.Manager
	Artifacts  http.Handler

	closers []func() error
}

// ProjectInit loads <repo>/.env and <repo>/config.toml and builds the node.
func ProjectInit(ctx context.Context, repoPath string) (*Node, error) {
	LoadEnv(repoPath)
	if err := conf.InitConfig(repoPath); err != nil {
		return nil, err
	}
	return NewNode(ctx, repoPath, conf.GetConfig())
}

func LoadEnv(repoPath string) {
	envFile := filepath.Join(repoPath, ".env")
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		logs.GetLogger().Errorf("failed load %s, error: %+v", envFile, err)
	}
}

func NewNode(ctx context.Context, repoPath string, cfg *conf.FlowNode) (*Node, error) {
	settings, err := flow.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	definition, err := yaml.HandlerYaml(cfg.FLOW.Definition)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Config:     cfg,
		Settings:   settings,
		Definition: definition,
		Locks:      flow.NewIdentityLocks(),
	}
	if err := n.setupLedger(ctx); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.setupStore(); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.setupIdentities(repoPath); err != nil {
		n.Close()
		return nil, err
	}
	logs.GetLogger().Infof("flow node ready, ledger: %s, storage: %s", cfg.LEDGER.Mode, cfg.STORAGE.Backend)
	return n, nil
}

func (n *Node) setupLedger(ctx context.Context) error {
	cfg := n.Config
	if cfg.LEDGER.Mode == conf.LedgerSandbox {
		sandbox := ledger.NewSandbox(cfg.LEDGER.MetadataCacheUri)
		n.Ledger = sandbox
		n.Backend = compute.NewSandboxBackend(sandbox, sandboxFinishAfter)
		endpoint := cfg.PROVIDER.Url
		if endpoint == "" {
			endpoint = "http://localhost:" + strconv.Itoa(cfg.API.Port)
		}
		n.Endpoints = flow.StaticEndpoints(endpoint)
		return nil
	}

	providerClient := provider.NewClient(cfg.PROVIDER.Url)
	logs.GetLogger().Infof("using provider %s", providerClient.Url())
	chain, err := ledger.NewChainClient(ctx, cfg.LEDGER.NetworkUrl, cfg.LEDGER.FactoryAddress, cfg.LEDGER.MetadataContract,
		ledger.NewMetadataCache(cfg.LEDGER.MetadataCacheUri), providerClient)
	if err != nil {
		return err
	}
	n.closers = append(n.closers, func() error {
		chain.Close()
		return nil
	})
	n.Ledger = chain
	n.Backend = compute.NewProviderBackend(providerClient)
	n.Endpoints = providerClient
	return nil
}

func (n *Node) setupStore() error {
	store, err := storage.NewArtifactStore(n.Config.STORAGE)
	if err != nil {
		return err
	}
	n.Store = store
	if local, ok := store.(*storage.LocalStore); ok {
		n.Artifacts = local.Handler()
	}
	return nil
}

func (n *Node) setupIdentities(repoPath string) error {
	cfg := n.Config
	confirmations, timeout := cfg.LEDGER.BlockConfirmations, cfg.LEDGER.TransactionTimeout.Duration

	var sources flow.ChainIdentities
	envIdentities, err := flow.EnvIdentities(confirmations, timeout)
	if err != nil {
		return fmt.Errorf("invalid private key in environment, error: %+v", err)
	}
	if envIdentities.Len() > 0 {
		sources = append(sources, envIdentities)
	}

	localWallet, err := wallet.SetupWallet(repoPath)
	if err != nil {
		return fmt.Errorf("failed open keystore, error: %+v", err)
	}
	n.closers = append(n.closers, localWallet.Close)
	sources = append(sources, &flow.KeystoreIdentities{Wallet: localWallet, Confirmations: confirmations, Timeout: timeout})

	n.Identities = sources
	return nil
}

// SetupRuns opens the run store and builds the run manager. Only the server calls it.
func (n *Node) SetupRuns(repoPath string) error {
	var (
		store      runs.Store
		dispatcher runs.Dispatcher
	)
	if url := n.Config.API.RedisUrl; url != "" {
		pool := runs.NewRedisPool(url, n.Config.API.RedisPassword)
		celery, err := runs.NewCeleryDispatcher(pool, n.Config.FLOW.Workers)
		if err != nil {
			pool.Close()
			return err
		}
		store, dispatcher = runs.NewRedisStore(pool), celery
	} else {
		levelStore, err := runs.OpenLevelDBStore(filepath.Join(repoPath, RunsRepo))
		if err != nil {
			return err
		}
		store, dispatcher = levelStore, runs.NewInProcessDispatcher(n.Config.FLOW.Workers)
	}

	n.Manager = runs.NewManager(store, dispatcher, func(progress func(models.FlowEvent)) (runs.Runner, error) {
		return n.NewOrchestrator(progress)
	})
	return nil
}

// NewOrchestrator builds a run sharing the node's identity locks.
func (n *Node) NewOrchestrator(progress func(models.FlowEvent)) (*flow.Orchestrator, error) {
	options := []flow.Option{flow.WithIdentityLocks(n.Locks), flow.WithDefinition(n.Definition)}
	if progress != nil {
		options = append(options, flow.WithProgress(progress))
	}
	return flow.NewOrchestrator(n.Settings, n.Ledger, n.Backend, n.Store, n.Identities, n.Endpoints, options...)
}

// RunFlow executes one flow synchronously.
func (n *Node) RunFlow(ctx context.Context) (*models.FlowResult, error) {
	o, err := n.NewOrchestrator(nil)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// Close releases the connections opened by NewNode. The run manager is stopped
// separately since only the server starts it.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			logs.GetLogger().Errorf("failed close node resource, error: %+v", err)
		}
	}
	n.closers = nil
}
