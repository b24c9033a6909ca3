package flow

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

const (
	EnvPublisherPrivateKey = "PUBLISHER_PRIVATE_KEY"
	EnvConsumerPrivateKey  = "CONSUMER_PRIVATE_KEY"
)

// IdentitySource resolves a fresh identity for an address on every call.
type IdentitySource interface {
	Identity(ctx context.Context, address string) (*wallet.Identity, error)
}

// KeystoreIdentities loads identities from the local wallet.
type KeystoreIdentities struct {
	Wallet        *wallet.LocalWallet
	Confirmations int
	Timeout       time.Duration
}

func (k *KeystoreIdentities) Identity(ctx context.Context, address string) (*wallet.Identity, error) {
	return k.Wallet.Identity(ctx, address, k.Confirmations, k.Timeout)
}

// StaticIdentities holds private keys in memory, keyed by the address they control.
type StaticIdentities struct {
	keys          map[string]string
	confirmations int
	timeout       time.Duration
}

func NewStaticIdentities(confirmations int, timeout time.Duration, privateKeys ...string) (*StaticIdentities, error) {
	s := &StaticIdentities{keys: make(map[string]string), confirmations: confirmations, timeout: timeout}
	for _, key := range privateKeys {
		id, err := wallet.NewIdentity(key, confirmations, timeout)
		if err != nil {
			return nil, err
		}
		s.keys[strings.ToLower(id.Hex())] = key
	}
	return s, nil
}

// EnvIdentities reads the publisher and consumer keys from the environment.
func EnvIdentities(confirmations int, timeout time.Duration) (*StaticIdentities, error) {
	var keys []string
	for _, env := range []string{EnvPublisherPrivateKey, EnvConsumerPrivateKey} {
		if v := os.Getenv(env); v != "" {
			keys = append(keys, v)
		}
	}
	return NewStaticIdentities(confirmations, timeout, keys...)
}

func (s *StaticIdentities) Len() int {
	return len(s.keys)
}

func (s *StaticIdentities) Identity(ctx context.Context, address string) (*wallet.Identity, error) {
	key, ok := s.keys[strings.ToLower(address)]
	if !ok {
		return nil, xerrors.Errorf("the address: %s, private key %w", address, wallet.ErrKeyInfoNotFound)
	}
	return wallet.NewIdentity(key, s.confirmations, s.timeout)
}

// ChainIdentities tries each source in order.
type ChainIdentities []IdentitySource

func (c ChainIdentities) Identity(ctx context.Context, address string) (*wallet.Identity, error) {
	var lastErr error = xerrors.Errorf("the address: %s, private key %w", address, wallet.ErrKeyInfoNotFound)
	for _, source := range c {
		id, err := source.Identity(ctx, address)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// IdentityLocks serializes runs that sign with the same addresses, so their nonces
// never interleave.
type IdentityLocks struct {
	lk    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewIdentityLocks() *IdentityLocks {
	return &IdentityLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires every address in a fixed order and returns the release func.
func (l *IdentityLocks) Lock(addresses ...string) func() {
	seen := make(map[string]bool)
	var keys []string
	for _, addr := range addresses {
		key := strings.ToLower(addr)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	l.lk.Lock()
	held := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		m, ok := l.locks[key]
		if !ok {
			m = &sync.Mutex{}
			l.locks[key] = m
		}
		held = append(held, m)
	}
	l.lk.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
