package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usher/internal/platform/config"
	"usher/internal/platform/environment"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

var (
	testIdentity = "user@example.com"
	testCfg      = config.Token{
		SigningKey: "test-signing-key",
		TTL:        time.Hour,
		Issuer:     "usher-test",
		Audience:   "usher",
	}
	tokenIssuer = New(testCfg, environment.Static("test"))
)

func Test_Mint(t *testing.T) {
	ctx := context.Background()
	raw, err := tokenIssuer.Mint(ctx, testIdentity)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := tokenIssuer.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, claims.Subject)
	assert.Equal(t, testIdentity, claims.Email)
	assert.Equal(t, testIdentity, claims.Identity())
	assert.Equal(t, "usher-test", claims.Issuer)
	assert.Contains(t, claims.Audience, "usher")
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_Mint_DistinctTokenIDs(t *testing.T) {
	ctx := context.Background()
	first, err := tokenIssuer.Mint(ctx, testIdentity)
	require.NoError(t, err)
	second, err := tokenIssuer.Mint(ctx, testIdentity)
	require.NoError(t, err)

	a, err := tokenIssuer.Verify(ctx, first)
	require.NoError(t, err)
	b, err := tokenIssuer.Verify(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func Test_Verify_InvalidToken(t *testing.T) {
	_, err := tokenIssuer.Verify(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMalformed))
	assert.Contains(t, err.Error(), "invalid token")
}

func Test_Verify_EmptyToken(t *testing.T) {
	_, err := tokenIssuer.Verify(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMalformed))
	assert.Contains(t, err.Error(), "empty token")
}

func Test_Verify_ExpiredToken(t *testing.T) {
	past := requesttime.WithTime(context.Background(), time.Now().Add(-2*time.Hour))
	raw, err := tokenIssuer.Mint(past, testIdentity)
	require.NoError(t, err)

	_, err = tokenIssuer.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeExpired))
	assert.Contains(t, err.Error(), "token expired")
}

func Test_Verify_WrongSignature(t *testing.T) {
	other := New(config.Token{
		SigningKey: "a-different-signing-key",
		TTL:        time.Hour,
		Issuer:     "usher-test",
		Audience:   "usher",
	}, environment.Static("test"))

	raw, err := other.Mint(context.Background(), testIdentity)
	require.NoError(t, err)

	_, err = tokenIssuer.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMalformed))
}

func Test_Verify_RejectsInvalidIssuer(t *testing.T) {
	other := New(config.Token{
		SigningKey: testCfg.SigningKey,
		TTL:        time.Hour,
		Issuer:     "somebody-else",
		Audience:   "usher",
	}, environment.Static("test"))

	raw, err := other.Mint(context.Background(), testIdentity)
	require.NoError(t, err)

	_, err = tokenIssuer.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMalformed))
	assert.Contains(t, err.Error(), "invalid token issuer")
}

func Test_Verify_RejectsAlgorithmConfusion(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Email: testIdentity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testIdentity,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "usher-test",
		},
	}

	cases := []struct {
		name       string
		signMethod jwt.SigningMethod
		signKey    any
	}{
		{
			name:       "HS512 signed token",
			signMethod: jwt.SigningMethodHS512,
			signKey:    []byte(testCfg.SigningKey),
		},
		{
			name:       "unsigned none token",
			signMethod: jwt.SigningMethodNone,
			signKey:    jwt.UnsafeAllowNoneSignatureType,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := jwt.NewWithClaims(tt.signMethod, claims).SignedString(tt.signKey)
			require.NoError(t, err)

			_, err = tokenIssuer.Verify(context.Background(), raw)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeMalformed))
		})
	}
}

func Test_SigningKeyGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("empty key refuses to mint", func(t *testing.T) {
		empty := New(config.Token{TTL: time.Hour, Issuer: "usher-test", Audience: "usher"}, environment.Static("test"))
		_, err := empty.Mint(ctx, testIdentity)
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	})

	t.Run("empty key refuses to verify", func(t *testing.T) {
		empty := New(config.Token{TTL: time.Hour, Issuer: "usher-test", Audience: "usher"}, environment.Static("test"))
		_, err := empty.Verify(ctx, "anything")
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	})

	t.Run("placeholder key refused when hardened", func(t *testing.T) {
		dev := New(config.Token{
			SigningKey: config.DevSigningKey,
			TTL:        time.Hour,
			Issuer:     "usher-test",
			Audience:   "usher",
		}, environment.Static("production"))

		_, err := dev.Mint(ctx, testIdentity)
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
		assert.Contains(t, err.Error(), "placeholder")

		_, err = dev.Verify(ctx, "anything")
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	})

	t.Run("placeholder key allowed in development", func(t *testing.T) {
		dev := New(config.Token{
			SigningKey: config.DevSigningKey,
			TTL:        time.Hour,
			Issuer:     "usher-test",
			Audience:   "usher",
		}, environment.Static("development"))

		raw, err := dev.Mint(ctx, testIdentity)
		require.NoError(t, err)
		claims, err := dev.Verify(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, testIdentity, claims.Subject)
	})

	t.Run("environment read at call time", func(t *testing.T) {
		env := "development"
		dev := New(config.Token{
			SigningKey: config.DevSigningKey,
			TTL:        time.Hour,
			Issuer:     "usher-test",
			Audience:   "usher",
		}, func() string { return env })

		raw, err := dev.Mint(ctx, testIdentity)
		require.NoError(t, err)

		env = "production"
		_, err = dev.Verify(ctx, raw)
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	})
}

func Test_TTL(t *testing.T) {
	assert.Equal(t, time.Hour, tokenIssuer.TTL())
}
