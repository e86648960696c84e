// Package secure encrypts sensitive booking fields at rest, masks them for
// logging, and issues signed recovery tokens.
//
// Encrypted values use a versioned, self-describing envelope:
//
//	v1:<base64 iv>:<base64 ciphertext>
//
// Each value carries its own random IV, so ciphertexts are non-deterministic
// and a future key or algorithm migration can recognize old envelopes by
// their version tag. Recovery tokens are signed, unencrypted bearer
// capabilities: anyone holding one can trigger recovery for that booking
// within the validity window. That trust boundary is deliberate and bounded
// by the 24-hour expiry.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

const (
	envelopeVersion = "v1"
	envelopeSep     = ":"

	// TokenValidity is how long a recovery token stays redeemable.
	TokenValidity = 24 * time.Hour
)

// Keys carries the two secrets the box needs. They are injected once at
// construction so tests can supply deterministic keys; nothing here reads the
// process environment.
type Keys struct {
	// EncryptionKey protects provider references at rest. Empty disables
	// encryption with a warning (local/dev fail-open).
	EncryptionKey string
	// SigningKey signs recovery tokens. May equal EncryptionKey.
	SigningKey string
}

// Box performs field encryption and token signing for booking state data.
type Box struct {
	aead       cipher.AEAD
	signingKey []byte
	logger     *logging.Logger
	now        func() time.Time
}

// NewBox derives an AES-256-GCM cipher from keys.EncryptionKey (SHA-256 key
// derivation) and keeps keys.SigningKey for HMAC signatures.
func NewBox(keys Keys, logger *logging.Logger) (*Box, error) {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Box{logger: logger, now: time.Now}
	if keys.SigningKey != "" {
		b.signingKey = []byte(keys.SigningKey)
	}
	if keys.EncryptionKey == "" {
		logger.Warn("no booking encryption key configured; sensitive fields will be stored in plaintext")
		return b, nil
	}
	keyHash := sha256.Sum256([]byte(keys.EncryptionKey))
	block, err := aes.NewCipher(keyHash[:])
	if err != nil {
		return nil, fmt.Errorf("secure: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secure: create gcm: %w", err)
	}
	b.aead = aead
	return b, nil
}

// WithClock overrides the box clock for token-expiry tests.
func (b *Box) WithClock(now func() time.Time) *Box {
	if now != nil {
		b.now = now
	}
	return b
}

// sensitiveFields enumerates the payment-provider references that are
// encrypted at rest. The accessor pair keeps the walk over the fixed list in
// one place for both directions.
func sensitiveFields(d *lifecycle.BookingStateData) []*string {
	return []*string{
		&d.StripeSessionID,
		&d.StripePaymentIntentID,
		&d.StripeRefundID,
	}
}

// EncryptSensitiveFields returns a copy of data with every configured
// sensitive field encrypted. Already-encrypted values (recognized by the
// version tag) are left alone, so the adapter can call this defensively at
// multiple layers without double-processing. With no key configured the input
// is returned unchanged.
func (b *Box) EncryptSensitiveFields(data lifecycle.BookingStateData) lifecycle.BookingStateData {
	if b.aead == nil {
		return data
	}
	out := data
	for _, field := range sensitiveFields(&out) {
		if *field == "" || isEncrypted(*field) {
			continue
		}
		enc, err := b.encryptValue(*field)
		if err != nil {
			// Never write a half-processed value.
			b.logger.Error("field encryption failed", "error", err)
			continue
		}
		*field = enc
	}
	return out
}

// DecryptSensitiveFields is the inverse of EncryptSensitiveFields. Values not
// recognized as encrypted (plaintext or legacy) pass through untouched, and a
// decryption failure on one field is logged and leaves that field as-is
// rather than aborting the record.
func (b *Box) DecryptSensitiveFields(data lifecycle.BookingStateData) lifecycle.BookingStateData {
	out := data
	for _, field := range sensitiveFields(&out) {
		if !isEncrypted(*field) {
			continue
		}
		if b.aead == nil {
			b.logger.Warn("encrypted field present but no key configured")
			continue
		}
		plain, err := b.decryptValue(*field)
		if err != nil {
			b.logger.Error("field decryption failed", "error", err)
			continue
		}
		*field = plain
	}
	return out
}

func (b *Box) encryptValue(plaintext string) (string, error) {
	iv := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("secure: generate iv: %w", err)
	}
	ciphertext := b.aead.Seal(nil, iv, []byte(plaintext), nil)
	return envelopeVersion + envelopeSep +
		base64.StdEncoding.EncodeToString(iv) + envelopeSep +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (b *Box) decryptValue(value string) (string, error) {
	parts := strings.SplitN(value, envelopeSep, 3)
	if len(parts) != 3 || parts[0] != envelopeVersion {
		return "", errors.New("secure: malformed envelope")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secure: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("secure: decode ciphertext: %w", err)
	}
	plain, err := b.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secure: open: %w", err)
	}
	return string(plain), nil
}

func isEncrypted(value string) bool {
	return strings.HasPrefix(value, envelopeVersion+envelopeSep)
}

// SanitizeForLogging reduces state data to non-sensitive identifiers plus
// masked versions of the sensitive fields. Full ciphertext and plaintext
// secrets never reach a log line.
func SanitizeForLogging(data lifecycle.BookingStateData) map[string]any {
	out := map[string]any{}
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put("bookingId", data.BookingID)
	put("builderId", data.BuilderID)
	put("clientId", data.ClientID)
	put("sessionTypeId", data.SessionTypeID)
	put("bookingStatus", string(data.BookingStatus))
	put("paymentStatus", string(data.PaymentStatus))
	put("calendlyEventId", data.CalendlyEventID)
	put("lastEventType", string(data.LastEventType))
	put("stripeSessionId", Mask(data.StripeSessionID))
	put("stripePaymentIntentId", Mask(data.StripePaymentIntentID))
	put("stripeRefundId", Mask(data.StripeRefundID))
	if data.Error != nil {
		out["error"] = data.Error.Message
	}
	return out
}

// Mask keeps the first and last four characters of a value. Short values are
// fully masked.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****" + value[len(value)-4:]
}

// TokenInfo is the verification outcome for a recovery token.
type TokenInfo struct {
	Valid     bool
	BookingID string
	State     lifecycle.State
	IssuedAt  time.Time
}

// GenerateStateToken signs bookingID:state:timestamp with HMAC-SHA256 and
// base64-encodes payload plus signature. The format is stable for a given
// signing key; recovery URLs embed it as a query parameter.
func (b *Box) GenerateStateToken(bookingID string, state lifecycle.State) (string, error) {
	if len(b.signingKey) == 0 {
		return "", errors.New("secure: no signing key configured")
	}
	payload := bookingID + ":" + string(state) + ":" + strconv.FormatInt(b.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, b.signingKey)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(payload + ":" + sig)), nil
}

// VerifyStateToken decodes a token, recomputes the signature, and rejects on
// mismatch or when the embedded timestamp is older than TokenValidity. The
// trailing fields (state, timestamp, signature) are split from the right so a
// booking id containing colons still round-trips.
func (b *Box) VerifyStateToken(token string) TokenInfo {
	if len(b.signingKey) == 0 {
		return TokenInfo{}
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return TokenInfo{}
	}
	bookingID, state, tsStr, sig, ok := splitTokenPayload(string(raw))
	if !ok {
		return TokenInfo{}
	}

	payload := bookingID + ":" + state + ":" + tsStr
	mac := hmac.New(sha256.New, b.signingKey)
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return TokenInfo{}
	}

	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return TokenInfo{}
	}
	issued := time.UnixMilli(ms)
	if b.now().Sub(issued) > TokenValidity {
		return TokenInfo{}
	}

	return TokenInfo{
		Valid:     true,
		BookingID: bookingID,
		State:     lifecycle.State(state),
		IssuedAt:  issued,
	}
}

func splitTokenPayload(raw string) (bookingID, state, tsStr, sig string, ok bool) {
	i := strings.LastIndex(raw, ":")
	if i <= 0 {
		return "", "", "", "", false
	}
	sig = raw[i+1:]
	rest := raw[:i]

	i = strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", "", "", "", false
	}
	tsStr = rest[i+1:]
	rest = rest[:i]

	i = strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", "", "", "", false
	}
	state = rest[i+1:]
	bookingID = rest[:i]

	if bookingID == "" || state == "" || tsStr == "" || sig == "" {
		return "", "", "", "", false
	}
	return bookingID, state, tsStr, sig, true
}
