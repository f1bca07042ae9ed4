package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// SigningMethod selects the JWT algorithm used by a [Codec].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	typeRefresh   = "rt+jwt"
	typeAccess    = "at+jwt"
	typeIDRefresh = "irt+jwt"

	csrfInfo = "goSession anti-csrf v1"
)

// Config configures a [Codec].
type Config struct {
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	SigningMethod  SigningMethod
	PrivateKey     []byte
	PublicKey      []byte
	Issuer         string
	Audience       string
	Leeway         time.Duration
	KeyID          string
	VerifyKeys     map[string][]byte
	EnableAntiCSRF bool
	// Now overrides the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Codec mints and verifies session tokens. A Codec is immutable after construction
// and safe for concurrent use.
type Codec struct {
	config    Config
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	csrfKey   []byte
}

// Issued is a single minted token with its validity bounds.
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Triple is the full set of credentials minted for one session generation.
type Triple struct {
	Access    Issued
	Refresh   Issued
	IDRefresh Issued
	AntiCSRF  string
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL > cfg.RefreshTTL {
		return nil, errors.New("access TTL must not exceed refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	c := &Codec{config: cfg}
	var secret []byte
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a private key of at least 32 bytes")
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = cfg.PrivateKey
		c.verifyKey = cfg.PrivateKey
		secret = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.verifyKey = publicFromPrivate(priv)
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			c.verifyKey = pub
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
		c.method = jwt.SigningMethodEdDSA
		c.signKey = priv
		secret = priv.Seed()
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	c.csrfKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(csrfInfo)), c.csrfKey); err != nil {
		return nil, fmt.Errorf("derive anti-csrf key: %w", err)
	}
	return c, nil
}

// Mint encodes the access, refresh and id-refresh tokens of generation gen for a
// session. The result depends only on its arguments and the codec configuration,
// so minting again with the same arguments reproduces the same strings.
func (c *Codec) Mint(sid, uid string, gen uint64, issuedAt time.Time) (Triple, error) {
	iat := time.Unix(issuedAt.Unix(), 0)
	var out Triple

	refreshExp := iat.Add(c.config.RefreshTTL)
	refresh, err := c.EncodeRefresh(RefreshClaims{
		SID:              sid,
		Gen:              gen,
		RegisteredClaims: c.registered(iat, refreshExp),
	})
	if err != nil {
		return Triple{}, err
	}
	out.Refresh = Issued{Token: refresh, IssuedAt: iat, ExpiresAt: refreshExp}

	if c.config.EnableAntiCSRF {
		out.AntiCSRF = c.AntiCSRF(sid, gen)
	}

	accessExp := iat.Add(c.config.AccessTTL)
	access, err := c.encode(typeAccess, AccessClaims{
		SID:              sid,
		UID:              uid,
		Gen:              gen,
		CSRF:             out.AntiCSRF,
		RegisteredClaims: c.registered(iat, accessExp),
	})
	if err != nil {
		return Triple{}, err
	}
	out.Access = Issued{Token: access, IssuedAt: iat, ExpiresAt: accessExp}

	idRefresh, err := c.encode(typeIDRefresh, IDRefreshClaims{
		SID:              sid,
		UID:              uid,
		Gen:              gen,
		RegisteredClaims: c.registered(iat, refreshExp),
	})
	if err != nil {
		return Triple{}, err
	}
	out.IDRefresh = Issued{Token: idRefresh, IssuedAt: iat, ExpiresAt: refreshExp}

	return out, nil
}

// EncodeRefresh signs refresh claims. It fails only on a missing session id or an
// unusable key.
func (c *Codec) EncodeRefresh(claims RefreshClaims) (string, error) {
	return c.encode(typeRefresh, claims)
}

// DecodeRefresh verifies a refresh token and returns its claims.
func (c *Codec) DecodeRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.decode(tokenStr, typeRefresh, claims); err != nil {
		return nil, err
	}
	if claims.SID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// DecodeAccess verifies an access token and returns its claims.
func (c *Codec) DecodeAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.decode(tokenStr, typeAccess, claims); err != nil {
		return nil, err
	}
	if claims.SID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// DecodeIDRefresh verifies an id-refresh token and returns its claims.
func (c *Codec) DecodeIDRefresh(tokenStr string) (*IDRefreshClaims, error) {
	claims := &IDRefreshClaims{}
	if err := c.decode(tokenStr, typeIDRefresh, claims); err != nil {
		return nil, err
	}
	if claims.SID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// AntiCSRF returns the anti-forgery token bound to one session generation.
func (c *Codec) AntiCSRF(sid string, gen uint64) string {
	mac := hmac.New(sha256.New, c.csrfKey)
	mac.Write([]byte(sid))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatUint(gen, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Fingerprint returns the digest stored in place of a refresh token.
func Fingerprint(tokenStr string) [32]byte {
	return sha256.Sum256([]byte(tokenStr))
}

func (c *Codec) registered(iat, exp time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Issuer:    c.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if c.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{c.config.Audience}
	}
	return rc
}

func (c *Codec) encode(typ string, claims sessionClaims) (string, error) {
	if claims.sessionID() == "" {
		return "", errors.New("token claims require a session id")
	}
	tok := jwt.NewWithClaims(c.method, claims)
	tok.Header["typ"] = typ
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}
	return tok.SignedString(c.signKey)
}

func (c *Codec) decode(tokenStr, typ string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, claims, c.keyFunc)
	if err != nil {
		return classify(err)
	}
	if !tok.Valid {
		return ErrMalformed
	}
	if got, _ := tok.Header["typ"].(string); got != typ {
		return ErrMalformed
	}
	return nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return c.verifyKeyFromBytes(key)
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return c.verifyKey, nil
}

func (c *Codec) verifyKeyFromBytes(key []byte) (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}
