// Package ledger mints and moves entitlement tokens, publishes asset descriptors and
// settles service payments.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

const DidPrefix = "did:op:"

var (
	ErrInsufficientBalance = xerrors.New("insufficient token balance")
	ErrNotMinter           = xerrors.New("identity is not the token minter")
	ErrTokenNotFound       = xerrors.New("token not found")
	ErrNoServices          = xerrors.New("asset must have at least one service")
	ErrServiceNotFound     = xerrors.New("service not attached to asset")
	ErrAssetNotFound       = xerrors.New("asset not found")
)

// Client is the ledger side of a flow. Every mutation is irreversible.
type Client interface {
	CreateDataToken(ctx context.Context, name, symbol string, publisher *wallet.Identity) (string, error)
	Mint(ctx context.Context, token, to string, amount *big.Int, minter *wallet.Identity) error
	Transfer(ctx context.Context, token, to string, amount *big.Int, from *wallet.Identity) error
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)

	CreateAsset(ctx context.Context, metadata models.Metadata, services []models.Service, dataToken string, publisher *wallet.Identity) (*models.DDO, error)
	UpdateAsset(ctx context.Context, ddo *models.DDO, publisher *wallet.Identity) error
	ResolveAsset(ctx context.Context, did string) (*models.DDO, error)

	Order(ctx context.Context, did, consumer string, serviceType models.ServiceType) (*models.OrderRequirements, error)
	PayForService(ctx context.Context, requirements *models.OrderRequirements, did string, serviceIndex int, consumer *wallet.Identity) (*models.OrderReceipt, error)
}

// NewDid derives a fresh identifier for one publication; publishing the same metadata
// twice yields two identifiers.
func NewDid(dataToken, publisher string) string {
	seed := strings.ToLower(dataToken) + strings.ToLower(publisher) + uuid.NewString()
	return DidPrefix + hexutil.Encode(crypto.Keccak256([]byte(seed)))[2:]
}

// BuildDDO assembles and signs the descriptor of a new asset. A metadata service is
// placed at index 0 in front of the offered services.
func BuildDDO(metadata models.Metadata, services []models.Service, dataToken string, chainId int64,
	metadataCacheUri string, publisher *wallet.Identity) (*models.DDO, error) {
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	did := NewDid(dataToken, publisher.Hex())
	now := time.Now().UTC().Format(time.RFC3339)
	ddo := &models.DDO{
		Did:       did,
		Created:   now,
		Publisher: publisher.Hex(),
		DataToken: dataToken,
		ChainId:   chainId,
		Metadata:  metadata,
	}
	ddo.Services = append(ddo.Services, models.Service{
		Index:           models.DefaultServiceIndex(models.MetadataService),
		Type:            models.MetadataService,
		ServiceEndpoint: strings.TrimRight(metadataCacheUri, "/") + ddoPath + did,
		Attributes: models.ServiceAttributes{
			Main: models.ServiceMain{Name: metadata.Main.Name, Creator: publisher.Hex(), DatePublished: now},
		},
	})

	seen := map[int]bool{0: true}
	for _, service := range services {
		if service.Type == models.MetadataService {
			continue
		}
		if service.Index <= 0 {
			service.Index = models.DefaultServiceIndex(service.Type)
		}
		if seen[service.Index] {
			return nil, fmt.Errorf("duplicate service index %d", service.Index)
		}
		seen[service.Index] = true
		ddo.Services = append(ddo.Services, service)
	}
	if len(ddo.Services) == 1 {
		return nil, ErrNoServices
	}

	if err := signDDO(ddo, publisher); err != nil {
		return nil, err
	}
	return ddo, nil
}

func signDDO(ddo *models.DDO, publisher *wallet.Identity) error {
	payload, err := json.Marshal(struct {
		Did      string           `json:"id"`
		Metadata models.Metadata  `json:"metadata"`
		Services []models.Service `json:"service"`
	}{ddo.Did, ddo.Metadata, ddo.Services})
	if err != nil {
		return err
	}
	signature, err := publisher.Sign(payload)
	if err != nil {
		return xerrors.Errorf("sign ddo %s: %w", ddo.Did, err)
	}
	ddo.Proof = &models.Proof{
		Type:           "DDOIntegritySignature",
		Created:        time.Now().UTC().Format(time.RFC3339),
		Creator:        publisher.Hex(),
		SignatureValue: signature,
	}
	return nil
}

// checkService verifies that serviceIndex names a service of serviceType on the asset.
func checkService(ddo *models.DDO, serviceIndex int, serviceType models.ServiceType) (*models.Service, error) {
	service, err := ddo.ServiceByIndex(serviceIndex)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), ErrServiceNotFound)
	}
	if service.Type != serviceType {
		return nil, xerrors.Errorf("asset %s service %d is %s, not %s: %w",
			ddo.Did, serviceIndex, service.Type, serviceType, ErrServiceNotFound)
	}
	return service, nil
}

func costToWei(cost float64) (*big.Int, error) {
	return wallet.ConvertToWei(strconv.FormatFloat(cost, 'f', -1, 64))
}
