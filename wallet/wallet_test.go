package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// well-known development key, never funded on a public network
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("0x"+testPrivateKey, 2, time.Minute)
	require.NoError(t, err)
	require.Equal(t, testAddress, id.Hex())
	require.Equal(t, 2, id.BlockConfirmations)
	require.Equal(t, time.Minute, id.TransactionTimeout)

	_, err = NewIdentity("", 1, time.Minute)
	require.Error(t, err)
	_, err = NewIdentity("zz", 1, time.Minute)
	require.Error(t, err)
}

func TestIdentitySignVerify(t *testing.T) {
	id, err := NewIdentity(testPrivateKey, 1, time.Minute)
	require.NoError(t, err)

	sig, err := id.Sign([]byte("hello"))
	require.NoError(t, err)
	sigBytes, err := hexutil.Decode(sig)
	require.NoError(t, err)

	ok, err := Verify(&Signature{Data: sigBytes}, testAddress, []byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(&Signature{Data: sigBytes}, testAddress, []byte("tampered"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalWalletLifecycle(t *testing.T) {
	ctx := context.Background()
	w, err := SetupWallet(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	addr, err := w.WalletImport(ctx, &KeyInfo{PrivateKey: "0x" + testPrivateKey + "\n"})
	require.NoError(t, err)
	require.Equal(t, testAddress, addr)

	_, err = w.WalletImport(ctx, &KeyInfo{PrivateKey: testPrivateKey})
	require.True(t, xerrors.Is(err, ErrKeyExists))

	created, err := w.WalletNew(ctx)
	require.NoError(t, err)
	require.True(t, IsAddress(created))

	list, err := w.AddressList()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{testAddress, created}, list)

	id, err := w.Identity(ctx, testAddress, 3, time.Minute)
	require.NoError(t, err)
	require.Equal(t, testAddress, id.Hex())

	sig, err := w.WalletSign(ctx, testAddress, []byte("msg"))
	require.NoError(t, err)
	sigBytes, err := hexutil.Decode(sig)
	require.NoError(t, err)
	ok, err := w.WalletVerify(ctx, testAddress, sigBytes, "msg")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, w.WalletDelete(ctx, testAddress))
	_, err = w.Identity(ctx, testAddress, 1, time.Minute)
	require.True(t, xerrors.Is(err, ErrKeyInfoNotFound))
}

func TestConvertToWei(t *testing.T) {
	wei, err := ConvertToWei("100")
	require.NoError(t, err)
	require.Equal(t, 0, wei.Cmp(new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))))

	wei, err = ConvertToWei("0.5")
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", wei.String())

	_, err = ConvertToWei("abc")
	require.Error(t, err)
	_, err = ConvertToWei("-1")
	require.Error(t, err)

	require.Equal(t, "5.00000", FormatEther(big.NewInt(5e18)))
	require.Equal(t, "0.0", FormatEther(big.NewInt(0)))
}
