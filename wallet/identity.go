package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a key able to authorize transactions, together with the confirmation
// policy its transactions are waited on with.
type Identity struct {
	Address            common.Address
	BlockConfirmations int
	TransactionTimeout time.Duration

	privateKey *ecdsa.PrivateKey
}

func NewIdentity(privateKeyHex string, confirmations int, timeout time.Duration) (*Identity, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("wallet private key must be not empty")
	}
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parses private key error: %+v", err)
	}
	if confirmations < 0 {
		confirmations = 0
	}
	return &Identity{
		Address:            crypto.PubkeyToAddress(privateKey.PublicKey),
		BlockConfirmations: confirmations,
		TransactionTimeout: timeout,
		privateKey:         privateKey,
	}, nil
}

func (id *Identity) Hex() string {
	return id.Address.Hex()
}

func (id *Identity) String() string {
	return id.Address.Hex()
}

// Sign returns the hex encoded signature of msg.
func (id *Identity) Sign(msg []byte) (string, error) {
	sig, err := signWithKey(id.privateKey, msg)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig.Data), nil
}

// TransactOpts builds signer options for one transaction: pending nonce and a gas fee
// cap of 1.5x the suggested gas price.
func (id *Identity) TransactOpts(ctx context.Context, client bind.ContractTransactor, chainId *big.Int) (*bind.TransactOpts, error) {
	nonce, err := client.PendingNonceAt(ctx, id.Address)
	if err != nil {
		return nil, fmt.Errorf("address: %s, get nonce error: %+v", id.Address, err)
	}

	suggestGasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("address: %s, retrieves the currently suggested gas price, error: %+v", id.Address, err)
	}

	txOptions, err := bind.NewKeyedTransactorWithChainID(id.privateKey, chainId)
	if err != nil {
		return nil, fmt.Errorf("address: %s, create transaction, error: %+v", id.Address, err)
	}
	txOptions.Nonce = new(big.Int).SetUint64(nonce)
	suggestGasPrice = suggestGasPrice.Mul(suggestGasPrice, big.NewInt(3))
	suggestGasPrice = suggestGasPrice.Div(suggestGasPrice, big.NewInt(2))
	txOptions.GasFeeCap = suggestGasPrice
	txOptions.Context = ctx
	return txOptions, nil
}
