package framebridge

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func encodeTestJWT(payload string, encoding *base64.Encoding) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + encoding.EncodeToString([]byte(payload)) + ".signature"
}

func newTestIngestor(t *testing.T) (*CallbackIngestor, TokenStore, *MemoryKeyValueStore) {
	t.Helper()
	storage := NewMemoryKeyValueStore()
	tokens := NewTokenStore(storage)
	return NewCallbackIngestor(tokens, WithCallbackLogger(zaptest.NewLogger(t))), tokens, storage
}

func requireStoredSession(t *testing.T, tokens TokenStore, expected StoredSession) {
	t.Helper()
	stored, err := tokens.Get(context.Background())
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored != expected {
		t.Fatalf("expected stored session %+v, got %+v", expected, stored)
	}
}

func TestIngestStoresTokenAndUID(t *testing.T) {
	ingestor, tokens, _ := newTestIngestor(t)

	result, err := ingestor.Ingest(context.Background(), "/callback?id_token=eyJhbGciOi...a.b.c&uid=42")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.TokenFormat != TokenFormatOpaque {
		t.Fatalf("expected opaque token, got %q", result.TokenFormat)
	}
	if result.RedirectTo != "/" || result.RedirectDelay != 2*time.Second {
		t.Fatalf("unexpected redirect %q after %s", result.RedirectTo, result.RedirectDelay)
	}
	requireStoredSession(t, tokens, StoredSession{Token: "eyJhbGciOi...a.b.c", UID: "42"})
}

func TestIngestWithoutTokenFails(t *testing.T) {
	ingestor, _, storage := newTestIngestor(t)

	for _, redirectURL := range []string{"/callback", "/callback?uid=42&email=a%40b.c", "/callback?id_token=&access_token=#token="} {
		if _, err := ingestor.Ingest(context.Background(), redirectURL); !errors.Is(err, ErrMissingToken) {
			t.Fatalf("%s: expected ErrMissingToken, got %v", redirectURL, err)
		}
	}
	if storage.Len() != 0 {
		t.Fatalf("expected storage untouched, got %d keys", storage.Len())
	}
}

func TestIngestRejectsUnparseableURL(t *testing.T) {
	ingestor, _, storage := newTestIngestor(t)
	if _, err := ingestor.Ingest(context.Background(), "http://[::1"); !errors.Is(err, ErrInvalidCallbackURL) {
		t.Fatalf("expected ErrInvalidCallbackURL, got %v", err)
	}
	if storage.Len() != 0 {
		t.Fatalf("expected storage untouched, got %d keys", storage.Len())
	}
}

func TestIngestAliasPriority(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected string
	}{
		{name: "id_token before access_token", url: "/callback?access_token=access&id_token=identity", expected: "identity"},
		{name: "access_token before token", url: "/callback?token=plain&access_token=access", expected: "access"},
		{name: "query before fragment", url: "/callback?token=query-plain#id_token=fragment-identity", expected: "query-plain"},
		{name: "fragment when query empty", url: "/callback#access_token=fragment-access&token=fragment-plain", expected: "fragment-access"},
		{name: "empty alias skipped", url: "/callback?id_token=&access_token=access", expected: "access"},
		{name: "hash routed fragment", url: "https://host.example/#/auth/callback?token=routed", expected: "routed"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ingestor, tokens, _ := newTestIngestor(t)
			result, err := ingestor.Ingest(context.Background(), testCase.url)
			if err != nil {
				t.Fatalf("ingest: %v", err)
			}
			if result.Session.Token != testCase.expected {
				t.Fatalf("expected token %q, got %q", testCase.expected, result.Session.Token)
			}
			requireStoredSession(t, tokens, StoredSession{Token: testCase.expected})
		})
	}
}

func TestIngestDecodesClaimsAsFallback(t *testing.T) {
	token := encodeTestJWT(`{"sub":"user-7","email":"ada@example.com","name":"Ada","exp":1900000000}`, base64.RawURLEncoding)
	ingestor, tokens, _ := newTestIngestor(t)

	result, err := ingestor.Ingest(context.Background(), "https://host.example/auth/callback#id_token="+token+"&name=Override&refresh_token=r-1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.TokenFormat != TokenFormatJWT || result.ClaimsDecodeFailed {
		t.Fatalf("expected decoded jwt, got format %q failed=%v", result.TokenFormat, result.ClaimsDecodeFailed)
	}
	if result.Claims == nil {
		t.Fatalf("expected claims")
	}
	if expiry := result.Claims.Expiry(); !expiry.Equal(time.Unix(1900000000, 0)) {
		t.Fatalf("unexpected expiry %s", expiry)
	}
	requireStoredSession(t, tokens, StoredSession{
		Token:        token,
		UID:          "user-7",
		Email:        "ada@example.com",
		Name:         "Override",
		RefreshToken: "r-1",
	})
}

func TestIngestToleratesLooselyTypedClaims(t *testing.T) {
	token := encodeTestJWT(`{"sub":42,"email":"ada@example.com","name":"Ada","exp":"soon","roles":["admin"]}`, base64.RawURLEncoding)
	ingestor, tokens, _ := newTestIngestor(t)

	result, err := ingestor.Ingest(context.Background(), "/callback?id_token="+token)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.ClaimsDecodeFailed {
		t.Fatalf("expected claims decoded, got %v", result.DecodeErr)
	}
	if result.Claims == nil || result.Claims.Subject != "42" {
		t.Fatalf("expected numeric subject rendered as text, got %+v", result.Claims)
	}
	if !result.Claims.Expiry().IsZero() {
		t.Fatalf("expected unusable exp ignored, got %s", result.Claims.Expiry())
	}
	requireStoredSession(t, tokens, StoredSession{Token: token, UID: "42", Email: "ada@example.com", Name: "Ada"})
}

func TestIngestDecodesPaddedSegment(t *testing.T) {
	token := encodeTestJWT(`{"email":"pads@example.com"}`, base64.URLEncoding)
	ingestor, _, _ := newTestIngestor(t)

	result, err := ingestor.Ingest(context.Background(), "/callback?access_token="+token)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.ClaimsDecodeFailed {
		t.Fatalf("expected padded segment decoded, got %v", result.DecodeErr)
	}
	if result.Session.Email != "pads@example.com" {
		t.Fatalf("expected email from claims, got %q", result.Session.Email)
	}
}

func TestIngestKeepsMalformedToken(t *testing.T) {
	ingestor, tokens, _ := newTestIngestor(t)

	result, err := ingestor.Ingest(context.Background(), "/callback?token=header.%21%21not-base64%21%21.sig&email=kept%40example.com")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.ClaimsDecodeFailed || !errors.Is(result.DecodeErr, ErrMalformedToken) {
		t.Fatalf("expected malformed token flagged, got failed=%v err=%v", result.ClaimsDecodeFailed, result.DecodeErr)
	}
	if result.Claims != nil {
		t.Fatalf("expected no claims, got %+v", result.Claims)
	}
	if result.TokenFormat != TokenFormatJWT {
		t.Fatalf("expected jwt format, got %q", result.TokenFormat)
	}
	requireStoredSession(t, tokens, StoredSession{Token: "header.!!not-base64!!.sig", Email: "kept@example.com"})
}

func TestIngestReplacesPreviousIdentity(t *testing.T) {
	ingestor, tokens, _ := newTestIngestor(t)

	if _, err := ingestor.Ingest(context.Background(), "/callback?token=first-token&email=old%40example.com&name=Old"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := ingestor.Ingest(context.Background(), "/callback?token=second-token&uid=9"); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	requireStoredSession(t, tokens, StoredSession{Token: "second-token", UID: "9"})
}

func TestIngestCustomRedirect(t *testing.T) {
	tokens := NewTokenStore(NewMemoryKeyValueStore())
	ingestor := NewCallbackIngestor(tokens, WithRedirect("/chat", 500*time.Millisecond))

	result, err := ingestor.Ingest(context.Background(), "/callback?token=abc")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.RedirectTo != "/chat" || result.RedirectDelay != 500*time.Millisecond {
		t.Fatalf("unexpected redirect %q after %s", result.RedirectTo, result.RedirectDelay)
	}
}
