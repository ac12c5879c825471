package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/msspconsole/console/internal/store"
)

const (
	totpPeriod      = 30
	backupCodeCount = 10
	backupCodeLen   = 6
	backupAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	qrCodeSize      = 200
)

// MFAConfig controls TOTP enrollment and verification.
type MFAConfig struct {
	// Issuer is the label authenticator apps show next to the account.
	Issuer string
	// Skew is the number of 30 second steps accepted on either side of now.
	Skew uint
	// Pending holds new secrets in memory until the first valid code
	// instead of writing them to the user row at enrollment.
	Pending    bool
	PendingTTL time.Duration
}

// DefaultMFAConfig returns the settings used when none are configured.
func DefaultMFAConfig() MFAConfig {
	return MFAConfig{
		Issuer:     "MSSP Console",
		Skew:       2,
		PendingTTL: 10 * time.Minute,
	}
}

// Enrollment is what a user needs to add the console to an authenticator.
type Enrollment struct {
	ProvisioningURI string
	QRCode          string // data:image/png;base64 URL
	Secret          string
	BackupCodes     []string
}

// MFAService issues and checks TOTP secrets.
type MFAService struct {
	store   *store.Store
	cfg     MFAConfig
	pending *PendingStore
	now     func() time.Time
}

// NewMFAService creates the service. A pending store is only allocated when
// cfg.Pending is set.
func NewMFAService(st *store.Store, cfg MFAConfig) *MFAService {
	s := &MFAService{store: st, cfg: cfg, now: time.Now}
	if cfg.Pending {
		ttl := cfg.PendingTTL
		if ttl <= 0 {
			ttl = DefaultMFAConfig().PendingTTL
		}
		s.pending = NewPendingStore(ttl)
	}
	return s
}

// SetClock replaces the time source. Used by tests.
func (s *MFAService) SetClock(now func() time.Time) {
	s.now = now
	if s.pending != nil {
		s.pending.now = now
	}
}

// Pending returns the in-memory enrollment store, or nil when pending
// enrollment is disabled.
func (s *MFAService) Pending() *PendingStore {
	return s.pending
}

// BeginEnrollment generates a fresh secret for username and returns the
// provisioning payload. The secret is written to the user row right away
// unless pending enrollment is enabled.
func (s *MFAService) BeginEnrollment(ctx context.Context, username string) (*Enrollment, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if user.Blocked {
		return nil, ErrAccountBlocked
	}
	if user.HasMFA() {
		return nil, ErrMFAAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	if s.pending != nil {
		s.pending.Put(username, key.Secret())
	} else {
		ok, err := s.store.SetMFASecret(ctx, username, key.Secret())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Another request enrolled this user first.
			return nil, ErrMFAAlreadyEnrolled
		}
	}

	return &Enrollment{
		ProvisioningURI: key.URL(),
		QRCode:          qr,
		Secret:          key.Secret(),
		BackupCodes:     codes,
	}, nil
}

// HasPending reports whether username has an unconfirmed enrollment.
func (s *MFAService) HasPending(username string) bool {
	if s.pending == nil {
		return false
	}
	_, ok := s.pending.Get(username)
	return ok
}

// Verify checks a 6 digit code for username. Unknown users and users without
// a secret fail closed. In pending mode a matching code against the
// candidate secret commits it to the user row.
func (s *MFAService) Verify(ctx context.Context, username, code string) (bool, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.HasMFA() {
		return s.validate(code, *user.MFASecret), nil
	}

	if s.pending == nil {
		return false, nil
	}
	secret, ok := s.pending.Get(username)
	if !ok || !s.validate(code, secret) {
		return false, nil
	}
	committed, err := s.store.SetMFASecret(ctx, username, secret)
	if err != nil {
		return false, err
	}
	s.pending.Delete(username)
	return committed, nil
}

func (s *MFAService) validate(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.cfg.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// generateBackupCodes returns n random upper-case alphanumeric codes.
func generateBackupCodes(n int) ([]string, error) {
	limit := big.NewInt(int64(len(backupAlphabet)))
	codes := make([]string, n)
	for i := range codes {
		b := make([]byte, backupCodeLen)
		for j := range b {
			idx, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return nil, fmt.Errorf("generate backup code: %w", err)
			}
			b[j] = backupAlphabet[idx.Int64()]
		}
		codes[i] = string(b)
	}
	return codes, nil
}
