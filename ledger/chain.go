package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/provider"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

// ChainClient is the ledger backed by an EVM network, a metadata cache and the
// provider that quotes service orders.
type ChainClient struct {
	client   chainBackend
	chainId  *big.Int
	factory  *tokenFactory
	metadata *contractStub
	cache    *MetadataCache
	provider *provider.Client
}

func NewChainClient(ctx context.Context, rpcUrl, factoryAddress, metadataContract string,
	cache *MetadataCache, providerClient *provider.Client) (*ChainClient, error) {
	if !common.IsHexAddress(factoryAddress) {
		return nil, fmt.Errorf("invalid factory address: %s", factoryAddress)
	}
	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("dial rpc connect failed, error: %+v", err)
	}
	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id, error: %+v", err)
	}
	c, err := newChainClient(client, chainId, factoryAddress, metadataContract, cache, providerClient)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

func newChainClient(client chainBackend, chainId *big.Int, factoryAddress, metadataContract string,
	cache *MetadataCache, providerClient *provider.Client) (*ChainClient, error) {
	if !common.IsHexAddress(factoryAddress) {
		return nil, fmt.Errorf("invalid factory address: %s", factoryAddress)
	}
	c := &ChainClient{
		client:   client,
		chainId:  chainId,
		factory:  &tokenFactory{newContractStub(client, chainId, common.HexToAddress(factoryAddress), parsedFactoryABI)},
		cache:    cache,
		provider: providerClient,
	}
	if metadataContract != "" {
		if !common.IsHexAddress(metadataContract) {
			return nil, fmt.Errorf("invalid metadata contract address: %s", metadataContract)
		}
		c.metadata = newContractStub(client, chainId, common.HexToAddress(metadataContract), parsedMetadataABI)
	}
	return c, nil
}

func (c *ChainClient) Close() {
	if closer, ok := c.client.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *ChainClient) token(address string) (*dataToken, error) {
	if !common.IsHexAddress(address) {
		return nil, xerrors.Errorf("%s: %w", address, ErrTokenNotFound)
	}
	return &dataToken{newContractStub(c.client, c.chainId, common.HexToAddress(address), parsedDataTokenABI)}, nil
}

func (c *ChainClient) CreateDataToken(ctx context.Context, name, symbol string, publisher *wallet.Identity) (string, error) {
	address, err := c.factory.createToken(ctx, publisher, c.cache.Uri(), name, symbol)
	if err != nil {
		return "", xerrors.Errorf("create datatoken %s: %w", symbol, err)
	}
	logs.GetLogger().Infof("created datatoken %s (%s) at %s", name, symbol, address)
	return address.Hex(), nil
}

func (c *ChainClient) Mint(ctx context.Context, token, to string, amount *big.Int, minter *wallet.Identity) error {
	dt, err := c.token(token)
	if err != nil {
		return err
	}
	if err := dt.mint(ctx, minter, common.HexToAddress(to), amount); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "minter") {
			return xerrors.Errorf("%s on %s: %w", minter, token, ErrNotMinter)
		}
		return err
	}
	return nil
}

func (c *ChainClient) Transfer(ctx context.Context, token, to string, amount *big.Int, from *wallet.Identity) error {
	dt, err := c.token(token)
	if err != nil {
		return err
	}
	if err := c.ensureBalance(ctx, dt, from.Address, amount); err != nil {
		return err
	}
	_, err = dt.transfer(ctx, from, common.HexToAddress(to), amount)
	return err
}

func (c *ChainClient) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	dt, err := c.token(token)
	if err != nil {
		return nil, err
	}
	return dt.balanceOf(ctx, common.HexToAddress(owner))
}

func (c *ChainClient) ensureBalance(ctx context.Context, dt *dataToken, owner common.Address, amount *big.Int) error {
	balance, err := dt.balanceOf(ctx, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return xerrors.Errorf("%s holds %s of %s, needs %s: %w", owner, wallet.FormatEther(balance),
			dt.address, wallet.FormatEther(amount), ErrInsufficientBalance)
	}
	return nil
}

func (c *ChainClient) CreateAsset(ctx context.Context, metadata models.Metadata, services []models.Service,
	dataToken string, publisher *wallet.Identity) (*models.DDO, error) {
	ddo, err := BuildDDO(metadata, services, dataToken, c.chainId.Int64(), c.cache.Uri(), publisher)
	if err != nil {
		return nil, err
	}
	if err := c.anchor(ctx, "create", ddo, publisher); err != nil {
		return nil, err
	}
	if err := c.cache.Publish(ctx, ddo); err != nil {
		return nil, fmt.Errorf("publish ddo %s, error: %+v", ddo.Did, err)
	}
	logs.GetLogger().Infof("published %s asset %s", metadata.Main.Type, ddo.Did)
	return ddo, nil
}

func (c *ChainClient) UpdateAsset(ctx context.Context, ddo *models.DDO, publisher *wallet.Identity) error {
	ddo.Updated = time.Now().UTC().Format(time.RFC3339)
	if err := signDDO(ddo, publisher); err != nil {
		return err
	}
	if err := c.anchor(ctx, "update", ddo, publisher); err != nil {
		return err
	}
	return c.cache.Update(ctx, ddo)
}

// anchor records the descriptor on the metadata contract when one is configured.
func (c *ChainClient) anchor(ctx context.Context, method string, ddo *models.DDO, publisher *wallet.Identity) error {
	if c.metadata == nil {
		return nil
	}
	data, err := json.Marshal(ddo)
	if err != nil {
		return err
	}
	didHash := common.HexToHash(strings.TrimPrefix(ddo.Did, DidPrefix))
	if _, err := c.metadata.transact(ctx, publisher, method, didHash, []byte{0}, data); err != nil {
		return xerrors.Errorf("%s ddo %s on chain: %w", method, ddo.Did, err)
	}
	return nil
}

func (c *ChainClient) ResolveAsset(ctx context.Context, did string) (*models.DDO, error) {
	return c.cache.Resolve(ctx, did)
}

func (c *ChainClient) Order(ctx context.Context, did, consumer string, serviceType models.ServiceType) (*models.OrderRequirements, error) {
	ddo, err := c.ResolveAsset(ctx, did)
	if err != nil {
		return nil, err
	}
	service, err := ddo.GetService(serviceType)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), ErrServiceNotFound)
	}

	quote, err := c.provider.Initialize(ctx, did, service.Index, serviceType, ddo.DataToken, consumer)
	if err != nil {
		return nil, fmt.Errorf("initialize order for %s, error: %+v", did, err)
	}
	amount, err := wallet.ConvertToWei(quote.NumTokens)
	if err != nil {
		return nil, fmt.Errorf("provider quoted invalid amount %q, error: %+v", quote.NumTokens, err)
	}
	receiver := quote.To
	if receiver == "" {
		receiver = quote.ComputeAddress
	}
	if !common.IsHexAddress(receiver) {
		return nil, fmt.Errorf("provider quoted invalid receiver address %q for %s", receiver, did)
	}
	return &models.OrderRequirements{
		Did:             did,
		ServiceType:     serviceType,
		ServiceIndex:    service.Index,
		Amount:          amount,
		DataToken:       ddo.DataToken,
		ReceiverAddress: receiver,
	}, nil
}

func (c *ChainClient) PayForService(ctx context.Context, requirements *models.OrderRequirements, did string,
	serviceIndex int, consumer *wallet.Identity) (*models.OrderReceipt, error) {
	ddo, err := c.ResolveAsset(ctx, did)
	if err != nil {
		return nil, err
	}
	if _, err := checkService(ddo, serviceIndex, requirements.ServiceType); err != nil {
		return nil, err
	}

	if ddo.DataToken != requirements.DataToken {
		return nil, xerrors.Errorf("order token %s does not belong to %s", requirements.DataToken, did)
	}
	if !common.IsHexAddress(requirements.ReceiverAddress) {
		return nil, fmt.Errorf("order of %s has invalid receiver address %q", did, requirements.ReceiverAddress)
	}

	dt, err := c.token(requirements.DataToken)
	if err != nil {
		return nil, err
	}
	if err := c.ensureBalance(ctx, dt, consumer.Address, requirements.Amount); err != nil {
		return nil, err
	}
	txHash, err := dt.startOrder(ctx, consumer, common.HexToAddress(requirements.ReceiverAddress), requirements.Amount,
		serviceIndex, common.Address{})
	if err != nil {
		return nil, xerrors.Errorf("order %s service %d: %w", did, serviceIndex, err)
	}
	logs.GetLogger().Infof("paid for %s service %d of %s, tx: %s", requirements.ServiceType, serviceIndex, did, txHash)

	return &models.OrderReceipt{
		TxId:         txHash.Hex(),
		Did:          did,
		ServiceType:  requirements.ServiceType,
		ServiceIndex: serviceIndex,
		Amount:       requirements.Amount,
		DataToken:    requirements.DataToken,
		Consumer:     consumer.Hex(),
	}, nil
}

var _ Client = (*ChainClient)(nil)
