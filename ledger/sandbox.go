package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

const SandboxChainId = 8996

// SandboxProviderAddress receives the payments settled in the sandbox.
var SandboxProviderAddress = common.HexToAddress("0x00000000000000000000000000000000000c2d00")

type sandboxToken struct {
	name     string
	symbol   string
	minter   common.Address
	balances map[common.Address]*big.Int
}

// Sandbox is an in-memory ledger. It enforces minter rights, balances and service
// indexes the way a network would, without any chain.
type Sandbox struct {
	metadataCacheUri string

	lock     sync.Mutex
	tokens   map[common.Address]*sandboxToken
	assets   map[string]*models.DDO
	receipts map[string]*models.OrderReceipt
}

func NewSandbox(metadataCacheUri string) *Sandbox {
	if metadataCacheUri == "" {
		metadataCacheUri = "sandbox://metadata"
	}
	return &Sandbox{
		metadataCacheUri: metadataCacheUri,
		tokens:           make(map[common.Address]*sandboxToken),
		assets:           make(map[string]*models.DDO),
		receipts:         make(map[string]*models.OrderReceipt),
	}
}

func newSandboxHash() common.Hash {
	return crypto.Keccak256Hash([]byte(uuid.NewString()))
}

func (s *Sandbox) CreateDataToken(ctx context.Context, name, symbol string, publisher *wallet.Identity) (string, error) {
	address := common.BytesToAddress(newSandboxHash().Bytes())

	s.lock.Lock()
	defer s.lock.Unlock()
	s.tokens[address] = &sandboxToken{
		name:     name,
		symbol:   symbol,
		minter:   publisher.Address,
		balances: make(map[common.Address]*big.Int),
	}
	logs.GetLogger().Infof("sandbox: created datatoken %s (%s) at %s", name, symbol, address)
	return address.Hex(), nil
}

func (s *Sandbox) lookup(token string) (*sandboxToken, error) {
	t, ok := s.tokens[common.HexToAddress(token)]
	if !ok {
		return nil, xerrors.Errorf("%s: %w", token, ErrTokenNotFound)
	}
	return t, nil
}

func (t *sandboxToken) balance(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *sandboxToken) move(from, to common.Address, amount *big.Int) error {
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return xerrors.Errorf("%s holds %s %s, needs %s: %w", from, wallet.FormatEther(balance), t.symbol,
			wallet.FormatEther(amount), ErrInsufficientBalance)
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func (s *Sandbox) Mint(ctx context.Context, token, to string, amount *big.Int, minter *wallet.Identity) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, err := s.lookup(token)
	if err != nil {
		return err
	}
	if t.minter != minter.Address {
		return xerrors.Errorf("%s on %s: %w", minter, token, ErrNotMinter)
	}
	recipient := common.HexToAddress(to)
	t.balances[recipient] = new(big.Int).Add(t.balance(recipient), amount)
	return nil
}

func (s *Sandbox) Transfer(ctx context.Context, token, to string, amount *big.Int, from *wallet.Identity) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, err := s.lookup(token)
	if err != nil {
		return err
	}
	return t.move(from.Address, common.HexToAddress(to), amount)
}

func (s *Sandbox) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.balance(common.HexToAddress(owner))), nil
}

func (s *Sandbox) CreateAsset(ctx context.Context, metadata models.Metadata, services []models.Service,
	dataToken string, publisher *wallet.Identity) (*models.DDO, error) {
	s.lock.Lock()
	_, err := s.lookup(dataToken)
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}

	ddo, err := BuildDDO(metadata, services, dataToken, SandboxChainId, s.metadataCacheUri, publisher)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	s.assets[ddo.Did] = ddo.Clone()
	s.lock.Unlock()
	logs.GetLogger().Infof("sandbox: published %s asset %s", metadata.Main.Type, ddo.Did)
	return ddo, nil
}

func (s *Sandbox) UpdateAsset(ctx context.Context, ddo *models.DDO, publisher *wallet.Identity) error {
	s.lock.Lock()
	stored, ok := s.assets[ddo.Did]
	s.lock.Unlock()
	if !ok {
		return xerrors.Errorf("%s: %w", ddo.Did, ErrAssetNotFound)
	}
	if stored.Publisher != publisher.Hex() {
		return xerrors.Errorf("%s is not the publisher of %s", publisher, ddo.Did)
	}

	ddo.Updated = time.Now().UTC().Format(time.RFC3339)
	if err := signDDO(ddo, publisher); err != nil {
		return err
	}
	s.lock.Lock()
	s.assets[ddo.Did] = ddo.Clone()
	s.lock.Unlock()
	return nil
}

func (s *Sandbox) ResolveAsset(ctx context.Context, did string) (*models.DDO, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	ddo, ok := s.assets[did]
	if !ok {
		return nil, xerrors.Errorf("%s: %w", did, ErrAssetNotFound)
	}
	return ddo.Clone(), nil
}

func (s *Sandbox) Order(ctx context.Context, did, consumer string, serviceType models.ServiceType) (*models.OrderRequirements, error) {
	ddo, err := s.ResolveAsset(ctx, did)
	if err != nil {
		return nil, err
	}
	service, err := ddo.GetService(serviceType)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), ErrServiceNotFound)
	}
	amount, err := costToWei(service.Attributes.Main.Cost)
	if err != nil {
		return nil, err
	}
	return &models.OrderRequirements{
		Did:             did,
		ServiceType:     serviceType,
		ServiceIndex:    service.Index,
		Amount:          amount,
		DataToken:       ddo.DataToken,
		ReceiverAddress: SandboxProviderAddress.Hex(),
	}, nil
}

func (s *Sandbox) PayForService(ctx context.Context, requirements *models.OrderRequirements, did string,
	serviceIndex int, consumer *wallet.Identity) (*models.OrderReceipt, error) {
	ddo, err := s.ResolveAsset(ctx, did)
	if err != nil {
		return nil, err
	}
	if _, err := checkService(ddo, serviceIndex, requirements.ServiceType); err != nil {
		return nil, err
	}
	if ddo.DataToken != requirements.DataToken {
		return nil, xerrors.Errorf("order token %s does not belong to %s", requirements.DataToken, did)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	t, err := s.lookup(requirements.DataToken)
	if err != nil {
		return nil, err
	}
	receiver := common.HexToAddress(requirements.ReceiverAddress)
	if err := t.move(consumer.Address, receiver, requirements.Amount); err != nil {
		return nil, err
	}

	receipt := &models.OrderReceipt{
		TxId:         newSandboxHash().Hex(),
		Did:          did,
		ServiceType:  requirements.ServiceType,
		ServiceIndex: serviceIndex,
		Amount:       new(big.Int).Set(requirements.Amount),
		DataToken:    requirements.DataToken,
		Consumer:     consumer.Hex(),
	}
	stored := *receipt
	s.receipts[receipt.TxId] = &stored
	return receipt, nil
}

// Receipt returns the payment recorded under txId.
func (s *Sandbox) Receipt(txId string) (*models.OrderReceipt, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	r, ok := s.receipts[txId]
	if !ok {
		return nil, false
	}
	out := *r
	return &out, true
}

var _ Client = (*Sandbox)(nil)
