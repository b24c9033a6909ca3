package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-c2d-flow/wallet"
)

const factoryABI = `[
	{"type":"function","name":"createToken","stateMutability":"nonpayable",
	 "inputs":[{"name":"blob","type":"string"},{"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"cap","type":"uint256"}],
	 "outputs":[{"name":"token","type":"address"}]},
	{"type":"event","name":"TokenCreated","anonymous":false,
	 "inputs":[{"name":"newTokenAddress","type":"address","indexed":true},{"name":"templateAddress","type":"address","indexed":true},{"name":"tokenName","type":"string","indexed":true}]}
]`

const dataTokenABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"account","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"startOrder","stateMutability":"nonpayable",
	 "inputs":[{"name":"consumer","type":"address"},{"name":"amount","type":"uint256"},{"name":"serviceId","type":"uint256"},{"name":"mrktFeeCollector","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const metadataABI = `[
	{"type":"function","name":"create","stateMutability":"nonpayable",
	 "inputs":[{"name":"did","type":"bytes32"},{"name":"flags","type":"bytes"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"update","stateMutability":"nonpayable",
	 "inputs":[{"name":"did","type":"bytes32"},{"name":"flags","type":"bytes"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

var (
	parsedFactoryABI   = mustParseABI(factoryABI)
	parsedDataTokenABI = mustParseABI(dataTokenABI)
	parsedMetadataABI  = mustParseABI(metadataABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DefaultTokenCap is the maximum supply of a freshly created datatoken, 1000 tokens.
var DefaultTokenCap = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

// chainBackend is a node the stubs talk to: contract calls and transactions, plus
// receipts and the chain head to count confirmations. *ethclient.Client is one.
type chainBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// contractStub binds one contract to a client, in the shape of the abigen stubs.
type contractStub struct {
	client   chainBackend
	chainId  *big.Int
	address  common.Address
	contract *bind.BoundContract
}

func newContractStub(client chainBackend, chainId *big.Int, address common.Address, contractAbi abi.ABI) *contractStub {
	return &contractStub{
		client:   client,
		chainId:  chainId,
		address:  address,
		contract: bind.NewBoundContract(address, contractAbi, client, client, client),
	}
}

// transact sends method signed by identity and waits until the configured number of
// blocks confirm it.
func (s *contractStub) transact(ctx context.Context, identity *wallet.Identity, method string, params ...interface{}) (*types.Receipt, error) {
	txOptions, err := identity.TransactOpts(ctx, s.client, s.chainId)
	if err != nil {
		return nil, err
	}
	tx, err := s.contract.Transact(txOptions, method, params...)
	if err != nil {
		return nil, fmt.Errorf("address: %s, contract %s %s, error: %+v", identity.Address, s.address, method, err)
	}
	logs.GetLogger().Infof("submitted %s on %s, tx: %s", method, s.address, tx.Hash())
	return waitForReceipt(ctx, s.client, tx.Hash(), identity.BlockConfirmations, identity.TransactionTimeout)
}

func (s *contractStub) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("contract %s call %s, error: %+v", s.address, method, err)
	}
	return out, nil
}

var receiptPollInterval = 3 * time.Second

// waitForReceipt polls until txHash is mined successfully and the chain head is
// confirmations-1 blocks past it.
func waitForReceipt(ctx context.Context, client chainBackend, txHash common.Hash, confirmations int, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for transaction confirmation, tx: %s", txHash)
		case <-ticker.C:
			if receipt == nil {
				r, err := client.TransactionReceipt(ctx, txHash)
				if err != nil {
					if errors.Is(err, ethereum.NotFound) {
						continue
					}
					return nil, fmt.Errorf("get receipt of tx %s, error: %+v", txHash, err)
				}
				if r.Status != types.ReceiptStatusSuccessful {
					return nil, fmt.Errorf("transaction execution failed, tx: %s", txHash)
				}
				receipt = r
			}

			head, err := client.BlockNumber(ctx)
			if err != nil {
				return nil, err
			}
			if head+1 >= receipt.BlockNumber.Uint64()+uint64(confirmations) {
				return receipt, nil
			}
		}
	}
}

type tokenFactory struct {
	*contractStub
}

func (f *tokenFactory) createToken(ctx context.Context, publisher *wallet.Identity, blob, name, symbol string) (common.Address, error) {
	receipt, err := f.transact(ctx, publisher, "createToken", blob, name, symbol, DefaultTokenCap)
	if err != nil {
		return common.Address{}, err
	}
	eventId := parsedFactoryABI.Events["TokenCreated"].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) > 1 && l.Topics[0] == eventId {
			return common.BytesToAddress(l.Topics[1].Bytes()), nil
		}
	}
	return common.Address{}, fmt.Errorf("no TokenCreated event in tx %s", receipt.TxHash)
}

type dataToken struct {
	*contractStub
}

func (d *dataToken) balanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := d.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (d *dataToken) mint(ctx context.Context, minter *wallet.Identity, to common.Address, amount *big.Int) error {
	_, err := d.transact(ctx, minter, "mint", to, amount)
	return err
}

func (d *dataToken) transfer(ctx context.Context, from *wallet.Identity, to common.Address, amount *big.Int) (common.Hash, error) {
	receipt, err := d.transact(ctx, from, "transfer", to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// startOrder pays amount from payer for serviceIndex. consumer is the address the
// provider named to receive the service, not necessarily the payer.
func (d *dataToken) startOrder(ctx context.Context, payer *wallet.Identity, consumer common.Address, amount *big.Int,
	serviceIndex int, feeCollector common.Address) (common.Hash, error) {
	receipt, err := d.transact(ctx, payer, "startOrder", consumer, amount, big.NewInt(int64(serviceIndex)), feeCollector)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}
