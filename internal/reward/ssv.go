package reward

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

var errUnknownKey = errors.New("unknown ssv key id")

// SSVVerifier valida a assinatura ECDSA P-256/SHA-256 que a rede de anúncios
// anexa ao callback de recompensa. O conjunto de chaves públicas é baixado de
// KeysURL e mantido em cache por TTL; um key id desconhecido força um refetch,
// no máximo um a cada MinRefetch.
type SSVVerifier struct {
	KeysURL    string
	HTTP       *http.Client
	TTL        time.Duration
	MinRefetch time.Duration
	Now        func() time.Time

	mu      sync.Mutex
	keys    map[string]*ecdsa.PublicKey
	fetched time.Time
	missed  time.Time // último refetch disparado por key id desconhecido
}

func NewSSVVerifier(keysURL string, timeout, ttl time.Duration) *SSVVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SSVVerifier{
		KeysURL:    keysURL,
		HTTP:       &http.Client{Timeout: timeout},
		TTL:        ttl,
		MinRefetch: 30 * time.Second,
		Now:        time.Now,
	}
}

// Verify checa signature sobre o trecho de rawQuery anterior ao parâmetro signature.
// Qualquer falha (rede, formato, chave, criptografia) volta como erro.
func (v *SSVVerifier) Verify(ctx context.Context, rawQuery, signature, keyID string) error {
	if rawQuery == "" || signature == "" || keyID == "" {
		return errors.New("signature, key id and query are required")
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	key, err := v.key(ctx, keyID)
	if err != nil {
		return err
	}

	digest := sha256.Sum256([]byte(CanonicalQuery(rawQuery)))
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return errors.New("signature mismatch")
	}
	return nil
}

// CanonicalQuery corta rawQuery no parâmetro signature, mantendo ordem e encoding.
// O que vem antes (key_id incluso) é o conteúdo assinado; o que vem depois não é.
func CanonicalQuery(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		name, _, _ := strings.Cut(p, "=")
		if name == "signature" {
			break
		}
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func (v *SSVVerifier) key(ctx context.Context, keyID string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.Now()
	fresh := v.keys != nil && (v.TTL <= 0 || now.Sub(v.fetched) < v.TTL)
	if fresh {
		if k, ok := v.keys[keyID]; ok {
			return k, nil
		}
		// chave rotacionada: refetch limitado por MinRefetch
		if v.MinRefetch > 0 && !v.missed.IsZero() && now.Sub(v.missed) < v.MinRefetch {
			return nil, fmt.Errorf("%w: %s", errUnknownKey, keyID)
		}
		v.missed = now
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if k, ok := v.keys[keyID]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownKey, keyID)
}

func (v *SSVVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.KeysURL, nil)
	if err != nil {
		return err
	}
	res, err := v.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("fetch ssv keys: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch ssv keys: http %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read ssv keys: %w", err)
	}

	keys, err := parseKeySet(body)
	if err != nil {
		return err
	}
	v.keys = keys
	v.fetched = v.Now()
	return nil
}

// parseKeySet lê {"keys":[{"keyId":<id>,"pem":"..."}]}; qualquer desvio de formato é erro
func parseKeySet(body []byte) (map[string]*ecdsa.PublicKey, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("ssv keys: malformed json")
	}
	list := gjson.GetBytes(body, "keys")
	if !list.IsArray() {
		return nil, errors.New("ssv keys: missing keys array")
	}

	out := map[string]*ecdsa.PublicKey{}
	var perr error
	list.ForEach(func(_, k gjson.Result) bool {
		id := k.Get("keyId")
		raw := k.Get("pem").String()
		if !id.Exists() || id.String() == "" || raw == "" {
			perr = errors.New("ssv keys: entry without keyId or pem")
			return false
		}
		pub, err := parsePublicKey(raw)
		if err != nil {
			perr = fmt.Errorf("ssv keys: key %s: %w", id.String(), err)
			return false
		}
		out[id.String()] = pub
		return true
	})
	if perr != nil {
		return nil, perr
	}
	if len(out) == 0 {
		return nil, errors.New("ssv keys: empty key set")
	}
	return out, nil
}

func parsePublicKey(s string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := k.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("not an ECDSA P-256 key")
	}
	return pub, nil
}
