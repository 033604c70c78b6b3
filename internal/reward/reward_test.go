package reward

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/internal/store/memory"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T, v SignatureVerifier) (*Service, *memory.Store, *clock) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		for _, id := range []string{"alice", "bob"} {
			if _, err := tx.Users().Add(ctx, &domain.User{ID: id}); err != nil {
				return err
			}
		}
		return nil
	}))
	c := &clock{now: t0}
	svc := NewService(zap.NewNop(), s, v, nil, Config{DefaultCoins: 5, MaxCoins: 100})
	svc.Now = c.Now
	return svc, s, c
}

func balance(t *testing.T, s store.UnitOfWork, userID string) int64 {
	t.Helper()
	var p int64
	require.NoError(t, s.Within(context.Background(), func(tx store.Tx) error {
		u, err := tx.Users().Get(context.Background(), userID)
		if err == nil {
			p = u.Points
		}
		return err
	}))
	return p
}

func TestRequestNonce(t *testing.T) {
	ctx := context.Background()
	svc, _, c := newService(t, nil)

	n, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)
	assert.Len(t, n.Nonce, 43)
	assert.NotContains(t, n.Nonce, "+")
	assert.NotContains(t, n.Nonce, "/")
	assert.Equal(t, t0.Add(5*time.Minute), n.ExpiresAt)

	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "alice"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "u", Coins: 101})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "ghost", AdUnitID: "u"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// mais dois completam o limite de três em aberto
	for i := 0; i < 2; i++ {
		_, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
		require.NoError(t, err)
	}
	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
	assert.ErrorIs(t, err, domain.ErrTooManyPending)

	// o limite é por usuário
	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "bob", AdUnitID: "unit-1"})
	assert.NoError(t, err)

	// expirados são purgados e liberam vaga
	c.now = t0.Add(5 * time.Minute)
	_, err = svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
	assert.NoError(t, err)
}

func TestVerifyRewardIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newService(t, nil)
	var credited, replays int64
	svc.OnCredited = func(c int64) { credited += c }
	svc.OnReplay = func() { replays++ }

	n, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)

	req := VerifyRequest{UserID: "alice", TransactionID: "tx-1", Nonce: n.Nonce}
	ok, err := svc.VerifyReward(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyReward(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.EqualValues(t, 10, balance(t, s, "alice"))
	assert.EqualValues(t, 10, credited)
	assert.EqualValues(t, 1, replays)

	// mesmo nonce, outra transação
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-2", Nonce: n.Nonce})
	assert.ErrorIs(t, err, domain.ErrInvalidNonce)
	assert.EqualValues(t, 10, balance(t, s, "alice"))
}

func TestVerifyRewardConcurrentReplays(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newService(t, nil)
	n, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-9", Nonce: n.Nonce})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, 10, balance(t, s, "alice"))
}

func TestVerifyRewardExpiryScenario(t *testing.T) {
	ctx := context.Background()
	svc, s, c := newService(t, nil)

	first, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)

	c.now = t0.Add(30 * time.Second)
	second, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)

	c.now = t0.Add(4 * time.Minute)
	res := svc.VerifyAdReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-a", Nonce: first.Nonce})
	assert.True(t, res.Success)
	assert.EqualValues(t, 10, balance(t, s, "alice"))

	c.now = t0.Add(6 * time.Minute)
	res = svc.VerifyAdReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-b", Nonce: second.Nonce})
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidNonce, res.Code)
	assert.EqualValues(t, 10, balance(t, s, "alice"))
}

func TestVerifyRewardNonceRules(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newService(t, nil)

	pinned, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)
	open, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
	require.NoError(t, err)
	bare, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
	require.NoError(t, err)

	// nonce de outro usuário
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "bob", TransactionID: "tx-x", Nonce: pinned.Nonce})
	assert.ErrorIs(t, err, domain.ErrInvalidNonce)
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-y", Nonce: "forged"})
	assert.ErrorIs(t, err, domain.ErrInvalidNonce)

	// valor fixado no nonce vence o informado pelo chamador
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-1", Nonce: pinned.Nonce, CoinsHint: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 10, balance(t, s, "alice"))

	// sem valor no nonce: hint limitado a MaxCoins
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-2", Nonce: open.Nonce, CoinsHint: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 110, balance(t, s, "alice"))

	// sem nada: default
	_, err = svc.VerifyReward(ctx, VerifyRequest{UserID: "alice", TransactionID: "tx-3", Nonce: bare.Nonce})
	require.NoError(t, err)
	assert.EqualValues(t, 115, balance(t, s, "alice"))
}

// ---- SSV

type keyServer struct {
	srv   *httptest.Server
	hits  int32
	fail  atomic.Bool
	keyID string
	body  func() string
}

func newKeyServer(t *testing.T, pub *ecdsa.PublicKey, keyID int) *keyServer {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	ks := &keyServer{keyID: fmt.Sprint(keyID)}
	ks.body = func() string {
		return fmt.Sprintf(`{"keys":[{"keyId":%d,"pem":%q,"base64":"ignored"}]}`, keyID, pemKey)
	}
	ks.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ks.hits, 1)
		if ks.fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(ks.body()))
	}))
	t.Cleanup(ks.srv.Close)
	return ks
}

func sign(t *testing.T, priv *ecdsa.PrivateKey, msg string) string {
	t.Helper()
	d := sha256.Sum256([]byte(msg))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, d[:])
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(sig)
}

func TestCanonicalQuery(t *testing.T) {
	assert.Equal(t,
		"ad_network=5450213213286189855&ad_unit=1234&custom_data=abc&transaction_id=t1&user_id=alice",
		CanonicalQuery("ad_network=5450213213286189855&ad_unit=1234&custom_data=abc&transaction_id=t1&user_id=alice&signature=MEUC&key_id=3335741209"))
	// key_id antes de signature faz parte do conteúdo assinado
	assert.Equal(t, "a=1&key_id=9&b=2", CanonicalQuery("a=1&key_id=9&b=2&signature=x"))
	assert.Equal(t, "a=1", CanonicalQuery("a=1&signature=x&key_id=9&b=2"))
}

func TestSSVVerifier(t *testing.T) {
	ctx := context.Background()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ks := newKeyServer(t, &priv.PublicKey, 3335741209)

	clock := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	v := NewSSVVerifier(ks.srv.URL, time.Second, time.Hour)
	v.Now = func() time.Time { return clock }
	base := "ad_network=1&ad_unit=unit-1&custom_data=n1&reward_amount=10&reward_item=coins&timestamp=1&transaction_id=tx-1&user_id=alice"
	sig := sign(t, priv, base)
	raw := base + "&signature=" + sig + "&key_id=" + ks.keyID

	require.NoError(t, v.Verify(ctx, raw, sig, ks.keyID))
	require.NoError(t, v.Verify(ctx, raw, sig, ks.keyID))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ks.hits), "key set should be cached")

	tampered := "ad_network=1&ad_unit=unit-1&custom_data=n1&reward_amount=9999&reward_item=coins&timestamp=1&transaction_id=tx-1&user_id=alice"
	assert.Error(t, v.Verify(ctx, tampered, sig, ks.keyID))

	// chave desconhecida força um refetch e falha fechado
	assert.ErrorIs(t, v.Verify(ctx, raw, sig, "42"), errUnknownKey)
	assert.EqualValues(t, 2, atomic.LoadInt32(&ks.hits))

	// outra chave desconhecida logo depois não busca de novo
	assert.ErrorIs(t, v.Verify(ctx, raw, sig, "43"), errUnknownKey)
	assert.EqualValues(t, 2, atomic.LoadInt32(&ks.hits))
	require.NoError(t, v.Verify(ctx, raw, sig, ks.keyID))

	clock = clock.Add(v.MinRefetch)
	assert.ErrorIs(t, v.Verify(ctx, raw, sig, "44"), errUnknownKey)
	assert.EqualValues(t, 3, atomic.LoadInt32(&ks.hits))

	assert.Error(t, v.Verify(ctx, raw, "%%%", ks.keyID))
	assert.Error(t, v.Verify(ctx, "", sig, ks.keyID))
}

func TestSSVVerifierKeyIDInsideSignedContent(t *testing.T) {
	ctx := context.Background()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ks := newKeyServer(t, &priv.PublicKey, 5)
	v := NewSSVVerifier(ks.srv.URL, time.Second, time.Hour)

	signed := "key_id=5&transaction_id=tx-9&user_id=alice"
	sig := sign(t, priv, signed)
	require.NoError(t, v.Verify(ctx, signed+"&signature="+sig, sig, "5"))

	// trocar o key_id assinado invalida a assinatura
	assert.Error(t, v.Verify(ctx, "key_id=6&transaction_id=tx-9&user_id=alice&signature="+sig, sig, "5"))
}

func TestSSVVerifierFailsClosed(t *testing.T) {
	ctx := context.Background()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ks := newKeyServer(t, &priv.PublicKey, 7)
	sig := sign(t, priv, "a=1")

	ks.fail.Store(true)
	assert.Error(t, NewSSVVerifier(ks.srv.URL, time.Second, time.Hour).Verify(ctx, "a=1", sig, "7"))

	ks.fail.Store(false)
	for _, body := range []string{`{"keys":{}}`, `{"keys":[{"keyId":7}]}`, `{"keys":[{"keyId":7,"pem":"junk"}]}`, `not json`, `{"keys":[]}`} {
		b := body
		ks.body = func() string { return b }
		assert.Error(t, NewSSVVerifier(ks.srv.URL, time.Second, time.Hour).Verify(ctx, "a=1", sig, "7"), body)
	}
}

func TestVerifyRewardWithSignature(t *testing.T) {
	ctx := context.Background()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ks := newKeyServer(t, &priv.PublicKey, 11)

	svc, s, _ := newService(t, NewSSVVerifier(ks.srv.URL, time.Second, time.Hour))
	svc.Cfg.RequireSignature = true
	n, err := svc.RequestNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1", Coins: 10})
	require.NoError(t, err)

	base := "ad_unit=unit-1&custom_data=" + n.Nonce + "&reward_amount=10&transaction_id=tx-s&user_id=alice"
	sig := sign(t, priv, base)
	req := VerifyRequest{UserID: "alice", TransactionID: "tx-s", Nonce: n.Nonce, Signature: sig, KeyID: "11",
		RawQuery: base + "&signature=" + sig + "&key_id=11"}

	bad := req
	bad.RawQuery = "ad_unit=unit-1&custom_data=" + n.Nonce + "&reward_amount=500&transaction_id=tx-s&user_id=alice&signature=" + sig + "&key_id=11"
	_, err = svc.VerifyReward(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Zero(t, balance(t, s, "alice"))

	unsigned := req
	unsigned.Signature, unsigned.KeyID = "", ""
	res := svc.VerifyAdReward(ctx, unsigned)
	assert.Equal(t, domain.CodeInvalidSignature, res.Code)

	// a tentativa forjada não consumiu o nonce
	ok, err := svc.VerifyReward(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 10, balance(t, s, "alice"))
}

func TestResultsHideInternals(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, nil)

	res := svc.RequestAdNonce(ctx, NonceRequest{UserID: "alice", AdUnitID: "unit-1"})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Nonce)
	require.NotNil(t, res.ExpiresAt)

	res = svc.RequestAdNonce(ctx, NonceRequest{UserID: "", AdUnitID: "unit-1"})
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeValidation, res.Code)
	assert.Empty(t, res.Nonce)
}
