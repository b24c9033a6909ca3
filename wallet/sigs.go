package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signature struct {
	Data []byte
}

// Sign takes in a private key and message. Returns a signature over the keccak256 hash of the message.
func Sign(privatekey string, msg []byte) (*Signature, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privatekey, "0x"))
	if err != nil {
		return nil, err
	}
	return signWithKey(privateKey, msg)
}

func signWithKey(privateKey *ecdsa.PrivateKey, msg []byte) (*Signature, error) {
	hash := crypto.Keccak256Hash(msg)

	sig, err := crypto.Sign(hash.Bytes(), privateKey)
	if err != nil {
		return nil, err
	}

	return &Signature{
		Data: sig,
	}, nil
}

// Verify checks that sig over msg was produced by the key behind addr
func Verify(sig *Signature, addr string, msg []byte) (bool, error) {
	if sig == nil || len(sig.Data) != crypto.SignatureLength {
		return false, fmt.Errorf("invalid signature length")
	}
	hash := crypto.Keccak256Hash(msg)

	publicKey, err := crypto.SigToPub(hash.Bytes(), sig.Data)
	if err != nil {
		return false, err
	}
	recovered := crypto.PubkeyToAddress(*publicKey)
	return recovered == common.HexToAddress(addr), nil
}

// ToPublic converts private key to public key
func ToPublic(priv string) (string, *ecdsa.PublicKey, error) {
	priv = strings.TrimPrefix(strings.TrimSpace(priv), "0x")
	if priv == "" {
		return "nil", nil, fmt.Errorf("invalid private key")
	}

	privateKeyBytes, err := hex.DecodeString(priv)
	if err != nil {
		return "", nil, err
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return "", nil, err
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return "", nil, fmt.Errorf("cannot assert type: publicKey is not of type *ecdsa.PublicKey")
	}

	publicKeyBytes := crypto.FromECDSAPub(publicKeyECDSA)
	publicK := hexutil.Encode(publicKeyBytes)[4:]
	return publicK, publicKeyECDSA, nil
}
