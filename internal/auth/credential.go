package auth

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Credential is a signed, time-bounded assertion of an identity's id.
// Exactly one Credential is embedded in a Session at a time.
type Credential struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the verified content of a credential.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialManager issues and verifies signed credentials.
type CredentialManager interface {
	Issue(subject string, now time.Time) (Credential, error)
	Verify(token string, now time.Time) (Claims, error)
}

// CredentialConfig configures the PASETO credential manager.
type CredentialConfig struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TTL is the credential lifetime.
	TTL time.Duration

	// ClockSkew is the allowed time skew during expiry checks.
	ClockSkew time.Duration

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// v4.public credentials.
	SecretKeyHex string
}

type pasetoManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoManager builds a CredentialManager based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration
// rules. Expiry is checked explicitly after parsing so that callers can tell
// an expired credential apart from a tampered one.
func NewPasetoManager(cfg CredentialConfig) (CredentialManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
	if err != nil {
		return nil, ErrMalformed
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &pasetoManager{
		issuer:    cfg.Issuer,
		ttl:       ttl,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoManager) Issue(subject string, now time.Time) (Credential, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(subject)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	return Credential{
		Token:     tok.V4Sign(m.secret, nil),
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

func (m *pasetoManager) Verify(token string, now time.Time) (Claims, error) {
	// Parse without the library's expiry rule: a failure here means the
	// credential is structurally broken or signed with the wrong key.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrMalformed
	}
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrMalformed
	}
	iat, _ := parsed.GetIssuedAt()

	// Signature is valid; now the time bound decides.
	if now.After(exp.Add(m.clockSkew)) {
		return Claims{}, ErrExpired
	}

	return Claims{Subject: sub, IssuedAt: iat, ExpiresAt: exp}, nil
}
