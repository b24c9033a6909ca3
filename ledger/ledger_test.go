package ledger

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// well-known development keys, never funded on a public network
const (
	publisherKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	consumerKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func testIdentities(t *testing.T) (*wallet.Identity, *wallet.Identity) {
	publisher, err := wallet.NewIdentity(publisherKey, 0, time.Minute)
	require.NoError(t, err)
	consumer, err := wallet.NewIdentity(consumerKey, 0, time.Minute)
	require.NoError(t, err)
	return publisher, consumer
}

func tokens(t *testing.T, amount string) *big.Int {
	v, err := wallet.ConvertToWei(amount)
	require.NoError(t, err)
	return v
}

func requireTokens(t *testing.T, expected string, actual *big.Int) {
	require.Zero(t, tokens(t, expected).Cmp(actual), "expected %s, got %s", expected, wallet.FormatEther(actual))
}

func datasetMetadata() models.Metadata {
	return models.Metadata{Main: models.MainMetadata{
		Type:  models.DatasetAsset,
		Name:  "branin",
		Files: []models.FileRef{{Url: "https://example.org/branin.arff", ContentType: "text/text"}},
	}}
}

func computeService(cost float64) models.Service {
	return models.Service{
		Type:            models.ComputeService,
		ServiceEndpoint: "http://provider/api/v1/services/compute",
		Attributes: models.ServiceAttributes{
			Main: models.ServiceMain{Name: "dataAssetComputingService", Cost: cost, Timeout: 3600},
		},
	}
}

func TestSandboxMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	publisher, consumer := testIdentities(t)
	sb := NewSandbox("")

	token, err := sb.CreateDataToken(ctx, "DataToken1", "DT1", publisher)
	require.NoError(t, err)
	require.NoError(t, sb.Mint(ctx, token, publisher.Hex(), tokens(t, "100"), publisher))

	err = sb.Mint(ctx, token, consumer.Hex(), tokens(t, "1"), consumer)
	require.True(t, xerrors.Is(err, ErrNotMinter))

	require.NoError(t, sb.Transfer(ctx, token, consumer.Hex(), tokens(t, "5"), publisher))

	balance, err := sb.BalanceOf(ctx, token, publisher.Hex())
	require.NoError(t, err)
	requireTokens(t, "95", balance)
	balance, err = sb.BalanceOf(ctx, token, consumer.Hex())
	require.NoError(t, err)
	requireTokens(t, "5", balance)

	err = sb.Transfer(ctx, token, consumer.Hex(), tokens(t, "200"), publisher)
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))

	_, err = sb.BalanceOf(ctx, "0x0000000000000000000000000000000000000001", publisher.Hex())
	require.True(t, xerrors.Is(err, ErrTokenNotFound))
}

func TestSandboxPublish(t *testing.T) {
	ctx := context.Background()
	publisher, _ := testIdentities(t)
	sb := NewSandbox("http://aquarius")

	token, err := sb.CreateDataToken(ctx, "DataToken1", "DT1", publisher)
	require.NoError(t, err)

	_, err = sb.CreateAsset(ctx, datasetMetadata(), nil, token, publisher)
	require.True(t, xerrors.Is(err, ErrNoServices))

	first, err := sb.CreateAsset(ctx, datasetMetadata(), []models.Service{computeService(1)}, token, publisher)
	require.NoError(t, err)
	second, err := sb.CreateAsset(ctx, datasetMetadata(), []models.Service{computeService(1)}, token, publisher)
	require.NoError(t, err)
	require.NotEqual(t, first.Did, second.Did)
	require.True(t, strings.HasPrefix(first.Did, DidPrefix))

	require.Len(t, first.Services, 2)
	require.Equal(t, models.MetadataService, first.Services[0].Type)
	require.Equal(t, "http://aquarius"+ddoPath+first.Did, first.Services[0].ServiceEndpoint)
	require.Equal(t, 4, first.Services[1].Index)
	require.NotNil(t, first.Proof)
	require.Equal(t, publisher.Hex(), first.Proof.Creator)

	require.NoError(t, first.AddTrustedAlgorithm("did:op:algo"))
	resolved, err := sb.ResolveAsset(ctx, first.Did)
	require.NoError(t, err)
	require.False(t, resolved.TrustsAlgorithm("did:op:algo"))

	require.NoError(t, sb.UpdateAsset(ctx, first, publisher))
	resolved, err = sb.ResolveAsset(ctx, first.Did)
	require.NoError(t, err)
	require.True(t, resolved.TrustsAlgorithm("did:op:algo"))
	require.NotEmpty(t, resolved.Updated)

	_, err = sb.ResolveAsset(ctx, "did:op:missing")
	require.True(t, xerrors.Is(err, ErrAssetNotFound))
}

func TestSandboxOrderAndPay(t *testing.T) {
	ctx := context.Background()
	publisher, consumer := testIdentities(t)
	sb := NewSandbox("")

	token, err := sb.CreateDataToken(ctx, "DataToken1", "DT1", publisher)
	require.NoError(t, err)
	require.NoError(t, sb.Mint(ctx, token, publisher.Hex(), tokens(t, "100"), publisher))
	require.NoError(t, sb.Transfer(ctx, token, consumer.Hex(), tokens(t, "5"), publisher))

	ddo, err := sb.CreateAsset(ctx, datasetMetadata(), []models.Service{computeService(1)}, token, publisher)
	require.NoError(t, err)

	_, err = sb.Order(ctx, ddo.Did, consumer.Hex(), models.AccessService)
	require.True(t, xerrors.Is(err, ErrServiceNotFound))

	req, err := sb.Order(ctx, ddo.Did, consumer.Hex(), models.ComputeService)
	require.NoError(t, err)
	require.Equal(t, 4, req.ServiceIndex)
	requireTokens(t, "1", req.Amount)

	_, err = sb.PayForService(ctx, req, ddo.Did, 3, consumer)
	require.True(t, xerrors.Is(err, ErrServiceNotFound))

	receipt, err := sb.PayForService(ctx, req, ddo.Did, req.ServiceIndex, consumer)
	require.NoError(t, err)
	require.Equal(t, consumer.Hex(), receipt.Consumer)

	stored, ok := sb.Receipt(receipt.TxId)
	require.True(t, ok)
	require.Equal(t, ddo.Did, stored.Did)
	require.Equal(t, 4, stored.ServiceIndex)

	balance, err := sb.BalanceOf(ctx, token, consumer.Hex())
	require.NoError(t, err)
	requireTokens(t, "4", balance)

	req.Amount = tokens(t, "50")
	_, err = sb.PayForService(ctx, req, ddo.Did, req.ServiceIndex, consumer)
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
}

// newMetadataMux serves an in-memory metadata cache.
func newMetadataMux(t *testing.T) *http.ServeMux {
	var lock sync.Mutex
	stored := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc(strings.TrimSuffix(ddoPath, "/"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var ddo models.DDO
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ddo))
		data, _ := json.Marshal(ddo)
		lock.Lock()
		stored[ddo.Did] = data
		lock.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc(ddoPath, func(w http.ResponseWriter, r *http.Request) {
		did := strings.TrimPrefix(r.URL.Path, ddoPath)
		lock.Lock()
		defer lock.Unlock()
		data, ok := stored[did]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Write(data)
		case http.MethodPut:
			var ddo models.DDO
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&ddo))
			stored[did], _ = json.Marshal(ddo)
		}
	})
	return mux
}

func TestMetadataCache(t *testing.T) {
	mux := newMetadataMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	publisher, _ := testIdentities(t)
	cache := NewMetadataCache(srv.URL + "/")
	require.Equal(t, srv.URL, cache.Uri())

	ddo, err := BuildDDO(datasetMetadata(), []models.Service{computeService(1)}, "0xtoken", SandboxChainId, cache.Uri(), publisher)
	require.NoError(t, err)
	require.NoError(t, cache.Publish(ctx, ddo))

	resolved, err := cache.Resolve(ctx, ddo.Did)
	require.NoError(t, err)
	require.Equal(t, ddo.Did, resolved.Did)
	require.Len(t, resolved.Services, 2)

	require.NoError(t, resolved.AddTrustedAlgorithm("did:op:algo"))
	require.NoError(t, cache.Update(ctx, resolved))
	resolved, err = cache.Resolve(ctx, ddo.Did)
	require.NoError(t, err)
	require.True(t, resolved.TrustsAlgorithm("did:op:algo"))

	_, err = cache.Resolve(ctx, "did:op:missing")
	require.True(t, xerrors.Is(err, ErrAssetNotFound))
}

func TestBuildDDODuplicateIndex(t *testing.T) {
	publisher, _ := testIdentities(t)
	_, err := BuildDDO(datasetMetadata(), []models.Service{computeService(1), computeService(2)}, "0xtoken", SandboxChainId, "", publisher)
	require.Error(t, err)
}
