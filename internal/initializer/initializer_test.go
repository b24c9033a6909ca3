package initializer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/ledger"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"github.com/stretchr/testify/require"
)

const (
	publisherKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	consumerKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

const sandboxConfig = `
[API]
Port = 8085

[LEDGER]
Mode = "sandbox"

[PROVIDER]

[STORAGE]
Backend = "local"
BaseUrl = "http://localhost:8085/artifacts/alpha"
Container = "alpha"
ScratchDir = "%s"

[IDENTITY]
Publisher = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
Consumer = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

[FLOW]
PollInterval = "1ms"
PollMaxInterval = "2ms"
PollAttempts = 10
PollTimeout = "10s"
`

func writeRepo(t *testing.T) string {
	repo := t.TempDir()
	scratch := filepath.Join(repo, "scratch")
	cfg := []byte(fmt.Sprintf(sandboxConfig, scratch))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "config.toml"), cfg, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".env"), []byte("PUBLISHER_PRIVATE_KEY="+publisherKey+"\n"), 0600))
	return repo
}

func TestProjectInitSandbox(t *testing.T) {
	repo := writeRepo(t)
	require.NoError(t, os.Unsetenv("PUBLISHER_PRIVATE_KEY"))
	t.Cleanup(func() { os.Unsetenv("PUBLISHER_PRIVATE_KEY") })

	// the consumer key comes from the keystore, the publisher key from .env
	localWallet, err := wallet.SetupWallet(repo)
	require.NoError(t, err)
	_, err = localWallet.WalletImport(context.Background(), &wallet.KeyInfo{PrivateKey: consumerKey})
	require.NoError(t, err)
	require.NoError(t, localWallet.Close())

	node, err := ProjectInit(context.Background(), repo)
	require.NoError(t, err)
	defer node.Close()

	require.Equal(t, conf.LedgerSandbox, conf.GetConfig().LEDGER.Mode)
	require.IsType(t, &ledger.Sandbox{}, node.Ledger)
	require.NotNil(t, node.Artifacts)
	require.Nil(t, node.Manager)

	result, err := node.RunFlow(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.JobSucceeded, result.JobStatus.State)

	_, err = os.Stat(filepath.Join(repo, "scratch", result.ArtifactName))
	require.NoError(t, err)
}

func TestSetupRuns(t *testing.T) {
	repo := writeRepo(t)
	cfg, err := conf.LoadConfig(filepath.Join(repo, "config.toml"))
	require.NoError(t, err)
	t.Setenv("PUBLISHER_PRIVATE_KEY", publisherKey)
	t.Setenv("CONSUMER_PRIVATE_KEY", consumerKey)

	node, err := NewNode(context.Background(), repo, cfg)
	require.NoError(t, err)
	defer node.Close()

	require.NoError(t, node.SetupRuns(repo))
	node.Manager.Start()
	defer node.Manager.Stop(context.Background())

	run, err := node.Manager.Submit(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := node.Manager.Get(run.Uuid)
		return err == nil && got.Status == models.RunSucceeded
	}, 10*time.Second, 5*time.Millisecond)
}
