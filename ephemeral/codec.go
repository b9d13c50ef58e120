package ephemeral

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/metrics"
)

// DefaultWindow is how long an issued token stays redeemable.
const DefaultWindow = 300 * time.Second

// Identity is the user reference carried in a token.
type Identity struct {
	UUID     string `json:"uuid"`
	Callsign string `json:"callsign"`
}

type claims struct {
	UUID     string `json:"uuid"`
	Callsign string `json:"callsign"`
	Variant  string `json:"variant"`
}

type envelope struct {
	PayloadB64  string `json:"payload_b64"`
	IVB64       string `json:"iv_b64"`
	RequestTime int64  `json:"request_time"`
	Digest      string `json:"digest"`
}

// Codec issues and redeems tokens.
type Codec struct {
	keys   *KeyProvider
	Window time.Duration
	log    *slog.Logger
}

func NewCodec(keys *KeyProvider, log *slog.Logger) *Codec {
	return &Codec{keys: keys, Window: DefaultWindow, log: log}
}

// Issue encrypts identity and selector into a URL-safe token stamped with now.
func (c *Codec) Issue(ctx context.Context, id Identity, selector string, now time.Time) (string, error) {
	key, err := c.keys.Key(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(claims{UUID: id.UUID, Callsign: id.Callsign, Variant: selector})
	if err != nil {
		return "", err
	}

	nonce, ciphertext, err := cryptoutils.SealAESGCM(key, payload)
	if err != nil {
		return "", err
	}

	env := envelope{
		PayloadB64:  base64.StdEncoding.EncodeToString(ciphertext),
		IVB64:       base64.StdEncoding.EncodeToString(nonce),
		RequestTime: now.Unix(),
	}
	env.Digest = digest(env)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	metrics.EphemeralLinks.WithLabelValues("issued").Inc()
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Redeem validates token at time now and returns the identity and selector
// it carries. Every token problem yields interfaces.ErrNotFound; only a
// missing key is reported differently.
func (c *Codec) Redeem(ctx context.Context, token string, now time.Time) (Identity, string, error) {
	key, err := c.keys.Key(ctx)
	if err != nil {
		return Identity{}, "", err
	}

	cl, reason := c.open(key, token, now)
	if reason != "" {
		c.log.Debug("Ephemeral token rejected", "reason", reason)
		metrics.EphemeralLinks.WithLabelValues("rejected").Inc()
		return Identity{}, "", interfaces.ErrNotFound
	}

	metrics.EphemeralLinks.WithLabelValues("redeemed").Inc()
	return Identity{UUID: cl.UUID, Callsign: cl.Callsign}, cl.Variant, nil
}

// open returns the claims or a non-empty reason for logging.
func (c *Codec) open(key []byte, token string, now time.Time) (claims, string) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return claims{}, "token encoding"
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return claims{}, "envelope"
	}

	if env.RequestTime+int64(c.Window/time.Second) < now.Unix() {
		return claims{}, "expired"
	}

	if subtle.ConstantTimeCompare([]byte(digest(env)), []byte(env.Digest)) != 1 {
		return claims{}, "digest"
	}

	ciphertext, err1 := base64.StdEncoding.DecodeString(env.PayloadB64)
	nonce, err2 := base64.StdEncoding.DecodeString(env.IVB64)
	if err := errors.Join(err1, err2); err != nil {
		return claims{}, "payload encoding"
	}

	plaintext, err := cryptoutils.OpenAESGCM(key, nonce, ciphertext)
	if err != nil {
		return claims{}, "decrypt"
	}

	var cl claims
	if err := json.Unmarshal(plaintext, &cl); err != nil || cl.Callsign == "" || cl.Variant == "" {
		return claims{}, "claims"
	}
	return cl, ""
}

func digest(env envelope) string {
	sum := sha256.Sum256([]byte(env.PayloadB64 + env.IVB64 + strconv.FormatInt(env.RequestTime, 10)))
	return hex.EncodeToString(sum[:])
}
