package wallet

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/xerrors"
)

const (
	WalletRepo  = "keystore"
	KNamePrefix = "wallet-"
)

var (
	ErrKeyInfoNotFound = fmt.Errorf("key info not found")
	ErrKeyExists       = fmt.Errorf("key already exists")
)

var reAddress = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

func IsAddress(addr string) bool {
	return reAddress.MatchString(addr)
}

func SetupWallet(repoPath string) (*LocalWallet, error) {
	kstore, err := OpenOrInitKeystore(filepath.Join(repoPath, WalletRepo))
	if err != nil {
		return nil, err
	}

	return NewWallet(kstore)
}

type LocalWallet struct {
	keys     map[string]*KeyInfo
	keystore KeyStore

	lk sync.Mutex
}

func NewWallet(keystore KeyStore) (*LocalWallet, error) {
	w := &LocalWallet{
		keys:     make(map[string]*KeyInfo),
		keystore: keystore,
	}
	return w, nil
}

func (w *LocalWallet) Close() error {
	if closer, ok := w.keystore.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (w *LocalWallet) WalletSign(ctx context.Context, addr string, msg []byte) (string, error) {
	ki, err := w.findKey(addr)
	if err != nil {
		return "", err
	}
	if ki == nil {
		return "", xerrors.Errorf("signing using private key '%s': %w", addr, ErrKeyInfoNotFound)
	}
	sig, err := Sign(ki.PrivateKey, msg)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig.Data), nil
}

func (w *LocalWallet) WalletVerify(ctx context.Context, addr string, sigByte []byte, data string) (bool, error) {
	return Verify(&Signature{Data: sigByte}, addr, []byte(data))
}

// Identity loads the key of addr into a transaction identity. Every call returns a fresh
// value, callers own it for the duration of one workflow.
func (w *LocalWallet) Identity(ctx context.Context, addr string, confirmations int, timeout time.Duration) (*Identity, error) {
	ki, err := w.findKey(addr)
	if err != nil {
		return nil, err
	}
	if ki == nil {
		return nil, xerrors.Errorf("the address: %s, private key %w", addr, ErrKeyInfoNotFound)
	}
	return NewIdentity(ki.PrivateKey, confirmations, timeout)
}

func (w *LocalWallet) findKey(addr string) (*KeyInfo, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	addr = normalizeAddress(addr)
	k, ok := w.keys[addr]
	if ok {
		return k, nil
	}
	if w.keystore == nil {
		log.Warn("findKey didn't find the key in in-memory wallet")
		return nil, nil
	}

	ki, err := w.keystore.Get(KNamePrefix + addr)
	if err != nil {
		if xerrors.Is(err, ErrKeyInfoNotFound) {
			return nil, nil
		}
		return nil, xerrors.Errorf("getting from keystore: %w", err)
	}

	w.keys[addr] = &ki
	return &ki, nil
}

func (w *LocalWallet) WalletExport(ctx context.Context, addr string) (*KeyInfo, error) {
	k, err := w.findKey(addr)
	if err != nil {
		return nil, xerrors.Errorf("failed to find key to export: %w", err)
	}
	if k == nil {
		return nil, xerrors.Errorf("private key not found for %s", addr)
	}

	return k, nil
}

func (w *LocalWallet) WalletImport(ctx context.Context, ki *KeyInfo) (string, error) {
	if ki == nil || len(strings.TrimSpace(ki.PrivateKey)) == 0 {
		return "", fmt.Errorf("not found private key")
	}
	ki.PrivateKey = strings.TrimPrefix(strings.TrimSpace(ki.PrivateKey), "0x")

	_, publicKeyECDSA, err := ToPublic(ki.PrivateKey)
	if err != nil {
		return "", err
	}

	address := crypto.PubkeyToAddress(*publicKeyECDSA).Hex()
	existing, err := w.findKey(address)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", xerrors.Errorf("import %s: %w", address, ErrKeyExists)
	}

	w.lk.Lock()
	defer w.lk.Unlock()
	if err := w.keystore.Put(KNamePrefix+address, *ki); err != nil {
		return "", xerrors.Errorf("saving to keystore: %w", err)
	}
	w.keys[address] = ki
	return address, nil
}

func (w *LocalWallet) WalletNew(ctx context.Context) (string, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	privateK, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}

	privateKey := hexutil.Encode(crypto.FromECDSA(privateK))[2:]
	address := crypto.PubkeyToAddress(privateK.PublicKey).Hex()

	keyInfo := KeyInfo{PrivateKey: privateKey}
	if err := w.keystore.Put(KNamePrefix+address, keyInfo); err != nil {
		return "", xerrors.Errorf("saving to keystore: %w", err)
	}
	w.keys[address] = &keyInfo

	return address, nil
}

func (w *LocalWallet) WalletDelete(ctx context.Context, addr string) error {
	k, err := w.findKey(addr)
	if err != nil {
		return xerrors.Errorf("wallet delete: failed to delete key %s : %w", addr, err)
	}
	if k == nil {
		return nil // already not there
	}

	w.lk.Lock()
	defer w.lk.Unlock()

	addr = normalizeAddress(addr)
	if err := w.keystore.Delete(KNamePrefix + addr); err != nil {
		return xerrors.Errorf("wallet delete: failed to delete key %s: %w", addr, err)
	}
	delete(w.keys, addr)
	return nil
}

type WalletBalance struct {
	Address string
	Balance string
	Nonce   uint64
	Error   string
}

// WalletList reports the native balance and pending nonce of every stored address.
// With an empty rpcUrl only the addresses are listed.
func (w *LocalWallet) WalletList(ctx context.Context, rpcUrl string) ([]WalletBalance, error) {
	addressList, err := w.AddressList()
	if err != nil {
		return nil, err
	}

	var balances []WalletBalance
	if rpcUrl == "" {
		for _, addr := range addressList {
			balances = append(balances, WalletBalance{Address: addr})
		}
		return balances, nil
	}

	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	for _, addr := range addressList {
		wb := WalletBalance{Address: addr}
		balance, err := Balance(ctx, client, addr)
		if err != nil {
			wb.Error = err.Error()
		}
		wb.Balance = balance

		nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(addr))
		if err != nil {
			wb.Error = err.Error()
		}
		wb.Nonce = nonce
		balances = append(balances, wb)
	}
	return balances, nil
}

func (w *LocalWallet) WalletSend(ctx context.Context, rpcUrl string, from, to string, amount string) (string, error) {
	if !IsAddress(to) {
		return "", fmt.Errorf("invalid target address: %s", to)
	}
	ki, err := w.findKey(from)
	if err != nil {
		return "", err
	}
	if ki == nil {
		return "", xerrors.Errorf("the address: %s, private %w,", from, ErrKeyInfoNotFound)
	}

	sendAmount, err := ConvertToWei(amount)
	if err != nil {
		return "", err
	}

	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return "", err
	}
	defer client.Close()

	identity, err := NewIdentity(ki.PrivateKey, 0, 0)
	if err != nil {
		return "", err
	}
	return sendTransaction(ctx, client, identity, common.HexToAddress(to), sendAmount)
}

func (w *LocalWallet) AddressList() ([]string, error) {
	all, err := w.keystore.List()
	if err != nil {
		return nil, xerrors.Errorf("listing keystore: %w", err)
	}

	addressList := make([]string, 0, len(all))
	for _, a := range all {
		if strings.HasPrefix(a, KNamePrefix) {
			addressList = append(addressList, strings.TrimPrefix(a, KNamePrefix))
		}
	}
	return addressList, nil
}

func Balance(ctx context.Context, client *ethclient.Client, addr string) (string, error) {
	balance, err := client.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return "", err
	}
	return FormatEther(balance), nil
}

func sendTransaction(ctx context.Context, client *ethclient.Client, from *Identity, to common.Address, amount *big.Int) (string, error) {
	nonce, err := client.PendingNonceAt(ctx, from.Address)
	if err != nil {
		return "", err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	chainId, err := client.ChainID(ctx)
	if err != nil {
		return "", err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      21000,
		GasPrice: gasPrice,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainId), from.privateKey)
	if err != nil {
		return "", err
	}
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", err
	}
	return signedTx.Hash().Hex(), nil
}

// ConvertToWei turns a decimal token amount such as "1.5" into its 18-decimals integer value.
func ConvertToWei(ethValue string) (*big.Int, error) {
	ethFloat, ok := new(big.Float).SetPrec(256).SetString(strings.TrimSpace(ethValue))
	if !ok {
		return nil, fmt.Errorf("conversion to float failed: %s", ethValue)
	}
	if ethFloat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", ethValue)
	}
	weiConversion := new(big.Float).SetPrec(256).SetInt(big.NewInt(1e18))
	weiFloat := new(big.Float).SetPrec(256).Mul(ethFloat, weiConversion)
	weiInt, acc := new(big.Int).SetString(weiFloat.Text('f', 0), 10)
	if !acc {
		return nil, fmt.Errorf("conversion to Wei failed")
	}
	return weiInt, nil
}

func FormatEther(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0.0"
	}
	fbalance := new(big.Float).SetInt(wei)
	etherQuotient := new(big.Float).Quo(fbalance, new(big.Float).SetInt(big.NewInt(1e18)))
	return etherQuotient.Text('f', 5)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if IsAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
