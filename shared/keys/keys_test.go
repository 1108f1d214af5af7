package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

type fakeKeystore struct {
	mu      sync.Mutex
	pairs   map[int64]*KeyPair
	failGet error
	failSet error
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{pairs: make(map[int64]*KeyPair)}
}

func (f *fakeKeystore) Get(_ context.Context, ownerID int64) (*KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	kp, ok := f.pairs[ownerID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return kp, nil
}

func (f *fakeKeystore) Set(_ context.Context, kp *KeyPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return f.failSet
	}
	f.pairs[kp.OwnerID] = kp
	return nil
}

func (f *fakeKeystore) Clear(_ context.Context, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pairs, ownerID)
	return nil
}

type fakeDirectory struct {
	mu     sync.Mutex
	keys   map[int64]string
	puts   int
	putErr error
	getErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{keys: make(map[int64]string)}
}

func (d *fakeDirectory) PutPublicKey(_ context.Context, userID int64, armored string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.puts++
	if d.putErr != nil {
		return d.putErr
	}
	d.keys[userID] = armored
	return nil
}

func (d *fakeDirectory) GetPublicKey(_ context.Context, userID int64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return "", d.getErr
	}
	k, ok := d.keys[userID]
	if !ok {
		return "", sharedErrors.ErrPublicKeyNotFound
	}
	return k, nil
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublicKey_ArmorRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(7, nil)
	require.NoError(t, err)

	armored := kp.Public.Armor()
	assert.True(t, strings.HasPrefix(armored, "-----BEGIN "+PublicKeyBlockType+"-----"))

	parsed, err := ParsePublicKey(armored)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)
	assert.Len(t, kp.Public.Fingerprint(), 16)
}

func TestParsePublicKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "hello", "-----BEGIN OTHER-----\nAAAA\n-----END OTHER-----\n"} {
		_, err := ParsePublicKey(in)
		assert.True(t, sharedErrors.Is(err, sharedErrors.ErrInvalidPublicKey), "input %q", in)
	}
}

func TestGenerateKeyPair_CryptoUnavailable(t *testing.T) {
	_, err := GenerateKeyPair(1, brokenReader{})
	assert.True(t, errors.Is(err, sharedErrors.ErrCryptoUnavailable))
}

func TestMarshalKeyPair_RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(42, nil)
	require.NoError(t, err)

	data, err := MarshalKeyPair(kp)
	require.NoError(t, err)

	restored, err := UnmarshalKeyPair(data)
	require.NoError(t, err)
	assert.Equal(t, kp.OwnerID, restored.OwnerID)
	assert.Equal(t, kp.Public, restored.Public)
	assert.Equal(t, *kp.Private.Bytes(), *restored.Private.Bytes())
	assert.NotContains(t, kp.Private.String(), "BEGIN")
}

func TestUnmarshalKeyPair_MismatchedPublic(t *testing.T) {
	a, _ := GenerateKeyPair(1, nil)
	b, _ := GenerateKeyPair(1, nil)
	a.Public = b.Public

	data, err := MarshalKeyPair(a)
	require.NoError(t, err)

	_, err = UnmarshalKeyPair(data)
	assert.Error(t, err)
}

func TestManager_StartSessionGeneratesOnceAndRepublishes(t *testing.T) {
	ctx := context.Background()
	ks := newFakeKeystore()
	dir := newFakeDirectory()
	m := NewManager(ks, dir, testLogger())

	first, err := m.StartSession(ctx, 100)
	require.NoError(t, err)

	second, err := m.StartSession(ctx, 100)
	require.NoError(t, err)

	assert.Equal(t, first.Public, second.Public, "key pair must be reused across sessions")
	assert.Equal(t, 2, dir.puts, "public key is re-published every session")
	assert.Equal(t, first.Public.Armor(), dir.keys[100])
}

func TestManager_StartSessionPublishFailureKeepsKey(t *testing.T) {
	dir := newFakeDirectory()
	dir.putErr = sharedErrors.ErrNetworkFailure
	m := NewManager(newFakeKeystore(), dir, testLogger())

	kp, err := m.StartSession(context.Background(), 5)
	assert.NotNil(t, kp)
	assert.True(t, errors.Is(err, sharedErrors.ErrNetworkFailure))
}

func TestManager_KeystoreUnavailable(t *testing.T) {
	ks := newFakeKeystore()
	ks.failGet = errors.New("disk gone")
	m := NewManager(ks, newFakeDirectory(), testLogger())

	_, err := m.EnsureKeyPair(context.Background(), 1)
	assert.True(t, errors.Is(err, sharedErrors.ErrKeystoreUnavailable))
}

func TestManager_CryptoUnavailable(t *testing.T) {
	m := NewManager(newFakeKeystore(), newFakeDirectory(), testLogger()).WithRandom(brokenReader{})

	_, err := m.StartSession(context.Background(), 1)
	assert.True(t, errors.Is(err, sharedErrors.ErrCryptoUnavailable))
}

func TestManager_FetchPublicKey(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	m := NewManager(newFakeKeystore(), dir, testLogger())

	_, err := m.FetchPublicKey(ctx, 9)
	assert.True(t, errors.Is(err, sharedErrors.ErrPublicKeyNotFound))
	assert.False(t, errors.Is(err, sharedErrors.ErrNetworkFailure))

	dir.getErr = sharedErrors.ErrNetworkFailure
	_, err = m.FetchPublicKey(ctx, 9)
	assert.True(t, errors.Is(err, sharedErrors.ErrNetworkFailure))
	assert.False(t, errors.Is(err, sharedErrors.ErrPublicKeyNotFound))

	dir.getErr = nil
	kp, _ := GenerateKeyPair(9, nil)
	require.NoError(t, m.PublishPublicKey(ctx, 9, kp.Public))
	got, err := m.FetchPublicKey(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got)
}

func TestManager_Forget(t *testing.T) {
	ctx := context.Background()
	ks := newFakeKeystore()
	m := NewManager(ks, newFakeDirectory(), testLogger())

	_, err := m.EnsureKeyPair(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, m.Forget(ctx, 3))

	_, err = ks.Get(ctx, 3)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
