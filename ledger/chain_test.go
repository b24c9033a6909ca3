package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/provider"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var (
	testChainId      = big.NewInt(1337)
	testFactory      = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	testMetadata     = common.HexToAddress("0x000000000000000000000000000000000000da7a")
	testComputeOwner = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
)

type testToken struct {
	minter   common.Address
	balances map[common.Address]*big.Int
}

type testOrder struct {
	payer     common.Address
	consumer  common.Address
	amount    *big.Int
	serviceId *big.Int
}

// testChain is an in-memory node that runs the factory, datatoken and metadata
// contracts by decoding calldata with their ABIs. Every transaction is mined in its
// own block and every head query produces a new block.
type testChain struct {
	bind.ContractBackend

	lock         sync.Mutex
	head         uint64
	nonces       map[common.Address]uint64
	tokens       map[common.Address]*testToken
	receipts     map[common.Hash]*types.Receipt
	orders       []testOrder
	anchored     []string
	headQueries  int
	missingPolls int
	dropEvents   bool
	revertOnSend bool
}

func newTestChain() *testChain {
	return &testChain{
		head:     100,
		nonces:   make(map[common.Address]uint64),
		tokens:   make(map[common.Address]*testToken),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *testChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.head), BaseFee: big.NewInt(1e9)}, nil
}

func (c *testChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2e9), nil
}

func (c *testChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (c *testChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.nonces[account], nil
}

func (c *testChain) hasCode(address common.Address) bool {
	_, ok := c.tokens[address]
	return ok || address == testFactory || address == testMetadata
}

func (c *testChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.CodeAt(ctx, account, nil)
}

func (c *testChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.hasCode(contract) {
		return []byte{0x60}, nil
	}
	return nil, nil
}

func (c *testChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.execute(call.From, *call.To, call.Data, false); err != nil {
		return 0, err
	}
	return 200000, nil
}

func (c *testChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(testChainId), tx)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), c.nonces[from])
	}
	c.nonces[from]++
	c.head++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.head),
	}
	if c.revertOnSend {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		logs, err := c.execute(from, *tx.To(), tx.Data(), true)
		if err != nil {
			return err
		}
		receipt.Logs = logs
	}
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *testChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	token, ok := c.tokens[*call.To]
	if !ok {
		return nil, nil
	}
	method, args, err := unpackCall(parsedDataTokenABI, call.Data)
	if err != nil {
		return nil, err
	}
	if method.Name != "balanceOf" {
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}
	return method.Outputs.Pack(token.balance(args[0].(common.Address)))
}

func (c *testChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.missingPolls > 0 {
		c.missingPolls--
		return nil, ethereum.NotFound
	}
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *testChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.headQueries++
	head := c.head
	c.head++
	return head, nil
}

func unpackCall(contractAbi abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short")
	}
	method, err := contractAbi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (t *testToken) balance(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *testToken) move(from, to common.Address, amount *big.Int) error {
	if t.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("execution reverted: ERC20: transfer amount exceeds balance")
	}
	t.balances[from] = new(big.Int).Sub(t.balance(from), amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

// execute runs one contract method; state only changes when commit is set.
func (c *testChain) execute(from, to common.Address, data []byte, commit bool) ([]*types.Log, error) {
	switch to {
	case testFactory:
		method, args, err := unpackCall(parsedFactoryABI, data)
		if err != nil {
			return nil, err
		}
		if method.Name != "createToken" || !commit {
			return nil, nil
		}
		address := common.BigToAddress(big.NewInt(int64(0x1000 + len(c.tokens))))
		c.tokens[address] = &testToken{minter: from, balances: make(map[common.Address]*big.Int)}
		if c.dropEvents {
			return nil, nil
		}
		return []*types.Log{{
			Address: testFactory,
			Topics: []common.Hash{
				parsedFactoryABI.Events["TokenCreated"].ID,
				common.BytesToHash(address.Bytes()),
				common.BytesToHash(testFactory.Bytes()),
				crypto.Keccak256Hash([]byte(args[1].(string))),
			},
		}}, nil
	case testMetadata:
		method, _, err := unpackCall(parsedMetadataABI, data)
		if err != nil {
			return nil, err
		}
		if commit {
			c.anchored = append(c.anchored, method.Name)
		}
		return nil, nil
	}

	token, ok := c.tokens[to]
	if !ok {
		return nil, fmt.Errorf("no contract at %s", to)
	}
	method, args, err := unpackCall(parsedDataTokenABI, data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "mint":
		if from != token.minter {
			return nil, fmt.Errorf("execution reverted: DataTokenTemplate: invalid minter")
		}
		if commit {
			account, amount := args[0].(common.Address), args[1].(*big.Int)
			token.balances[account] = new(big.Int).Add(token.balance(account), amount)
		}
	case "transfer":
		if token.balance(from).Cmp(args[1].(*big.Int)) < 0 {
			return nil, fmt.Errorf("execution reverted: ERC20: transfer amount exceeds balance")
		}
		if commit {
			return nil, token.move(from, args[0].(common.Address), args[1].(*big.Int))
		}
	case "startOrder":
		amount := args[1].(*big.Int)
		if token.balance(from).Cmp(amount) < 0 {
			return nil, fmt.Errorf("execution reverted: ERC20: transfer amount exceeds balance")
		}
		if commit {
			c.orders = append(c.orders, testOrder{
				payer:     from,
				consumer:  args[0].(common.Address),
				amount:    amount,
				serviceId: args[2].(*big.Int),
			})
			return nil, token.move(from, token.minter, amount)
		}
	}
	return nil, nil
}

func fastReceipts(t *testing.T) {
	interval := receiptPollInterval
	receiptPollInterval = time.Millisecond
	t.Cleanup(func() { receiptPollInterval = interval })
}

// newTestChainClient wires a chain client to an in-memory node, metadata cache and a
// provider whose initialize answer names testComputeOwner.
func newTestChainClient(t *testing.T, chain *testChain) *ChainClient {
	fastReceipts(t)

	mux := newMetadataMux(t)
	mux.HandleFunc("/api/v1/services/initialize", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.InitializeResponse{
			From:           r.URL.Query().Get("consumerAddress"),
			NumTokens:      "1",
			DataToken:      r.URL.Query().Get("dataToken"),
			ComputeAddress: testComputeOwner.Hex(),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := newChainClient(chain, testChainId, testFactory.Hex(), testMetadata.Hex(),
		NewMetadataCache(srv.URL), provider.NewClient(srv.URL))
	require.NoError(t, err)
	return client
}

func TestChainClientTokens(t *testing.T) {
	ctx := context.Background()
	publisher, consumer := testIdentities(t)
	chain := newTestChain()
	client := newTestChainClient(t, chain)

	token, err := client.CreateDataToken(ctx, "DataToken1", "DT1", publisher)
	require.NoError(t, err)
	require.Contains(t, chain.tokens, common.HexToAddress(token))

	require.NoError(t, client.Mint(ctx, token, publisher.Hex(), tokens(t, "100"), publisher))
	err = client.Mint(ctx, token, consumer.Hex(), tokens(t, "1"), consumer)
	require.True(t, xerrors.Is(err, ErrNotMinter), err)

	require.NoError(t, client.Transfer(ctx, token, consumer.Hex(), tokens(t, "5"), publisher))
	balance, err := client.BalanceOf(ctx, token, publisher.Hex())
	require.NoError(t, err)
	requireTokens(t, "95", balance)
	balance, err = client.BalanceOf(ctx, token, consumer.Hex())
	require.NoError(t, err)
	requireTokens(t, "5", balance)

	sent := chain.nonces[publisher.Address]
	err = client.Transfer(ctx, token, consumer.Hex(), tokens(t, "200"), publisher)
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
	require.Equal(t, sent, chain.nonces[publisher.Address])

	_, err = client.BalanceOf(ctx, "not-an-address", publisher.Hex())
	require.True(t, xerrors.Is(err, ErrTokenNotFound))
}

func TestChainClientOrderPaysReceiver(t *testing.T) {
	ctx := context.Background()
	publisher, consumer := testIdentities(t)
	chain := newTestChain()
	client := newTestChainClient(t, chain)

	token, err := client.CreateDataToken(ctx, "DataToken1", "DT1", publisher)
	require.NoError(t, err)
	require.NoError(t, client.Mint(ctx, token, publisher.Hex(), tokens(t, "100"), publisher))
	require.NoError(t, client.Transfer(ctx, token, consumer.Hex(), tokens(t, "5"), publisher))

	ddo, err := client.CreateAsset(ctx, datasetMetadata(), []models.Service{computeService(1)}, token, publisher)
	require.NoError(t, err)
	require.Equal(t, []string{"create"}, chain.anchored)

	require.NoError(t, ddo.AddTrustedAlgorithm("did:op:algo"))
	require.NoError(t, client.UpdateAsset(ctx, ddo, publisher))
	require.Equal(t, []string{"create", "update"}, chain.anchored)
	resolved, err := client.ResolveAsset(ctx, ddo.Did)
	require.NoError(t, err)
	require.True(t, resolved.TrustsAlgorithm("did:op:algo"))

	req, err := client.Order(ctx, ddo.Did, consumer.Hex(), models.ComputeService)
	require.NoError(t, err)
	require.Equal(t, 4, req.ServiceIndex)
	require.Equal(t, testComputeOwner.Hex(), req.ReceiverAddress)
	requireTokens(t, "1", req.Amount)

	receipt, err := client.PayForService(ctx, req, ddo.Did, req.ServiceIndex, consumer)
	require.NoError(t, err)
	require.Equal(t, consumer.Hex(), receipt.Consumer)
	require.NotEmpty(t, receipt.TxId)

	require.Len(t, chain.orders, 1)
	order := chain.orders[0]
	require.Equal(t, consumer.Address, order.payer)
	require.Equal(t, testComputeOwner, order.consumer)
	require.Equal(t, int64(4), order.serviceId.Int64())
	requireTokens(t, "1", order.amount)

	balance, err := client.BalanceOf(ctx, token, consumer.Hex())
	require.NoError(t, err)
	requireTokens(t, "4", balance)

	invalid := *req
	invalid.ReceiverAddress = ""
	_, err = client.PayForService(ctx, &invalid, ddo.Did, req.ServiceIndex, consumer)
	require.Error(t, err)

	_, err = client.PayForService(ctx, req, ddo.Did, 3, consumer)
	require.True(t, xerrors.Is(err, ErrServiceNotFound))

	req.Amount = tokens(t, "50")
	_, err = client.PayForService(ctx, req, ddo.Did, req.ServiceIndex, consumer)
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
	require.Len(t, chain.orders, 1)
}

func TestCreateTokenWithoutEvent(t *testing.T) {
	publisher, _ := testIdentities(t)
	chain := newTestChain()
	chain.dropEvents = true
	client := newTestChainClient(t, chain)

	_, err := client.CreateDataToken(context.Background(), "DataToken1", "DT1", publisher)
	require.ErrorContains(t, err, "no TokenCreated event")
}

func TestTransactionReverted(t *testing.T) {
	publisher, _ := testIdentities(t)
	chain := newTestChain()
	chain.revertOnSend = true
	client := newTestChainClient(t, chain)

	_, err := client.CreateDataToken(context.Background(), "DataToken1", "DT1", publisher)
	require.ErrorContains(t, err, "transaction execution failed")
}

func TestWaitForReceiptConfirmations(t *testing.T) {
	fastReceipts(t)
	ctx := context.Background()
	chain := newTestChain()
	txHash := common.HexToHash("0x01")
	chain.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(chain.head),
	}
	chain.missingPolls = 2

	// mined at head, so the third head query is the third block including it
	receipt, err := waitForReceipt(ctx, chain, txHash, 3, time.Second)
	require.NoError(t, err)
	require.Equal(t, txHash, receipt.TxHash)
	require.Equal(t, 3, chain.headQueries)

	chain.headQueries = 0
	_, err = waitForReceipt(ctx, chain, txHash, 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, chain.headQueries)

	_, err = waitForReceipt(ctx, chain, common.HexToHash("0x02"), 1, 20*time.Millisecond)
	require.ErrorContains(t, err, "timeout")
}
