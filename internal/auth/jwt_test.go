package auth

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/tomasmejiag0/puracalle-food/internal/testutil"
)

const testSecret = "test-secret"

func TestParseFromMD_ValidBearer(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "alice", "customer")
	ctx := testutil.CtxWithBearer(context.Background(), tok)
	p, err := ParseFromMD(ctx, testSecret)
	if err != nil {
		t.Fatalf("ParseFromMD: %v", err)
	}
	if p.Name != "alice" || p.Kind != KindCustomer {
		t.Fatalf("principal mismatch: %+v", p)
	}
}

func TestParseFromMD_MissingHeader(t *testing.T) {
	_, err := ParseFromMD(context.Background(), testSecret)
	if err == nil {
		t.Fatalf("expected error for missing metadata")
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "bob", "courier")
	if _, err := parseJWT(tok, "wrong"); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestParseJWT_ClaimsValidation(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "", "")
	if _, err := parseJWT(tok, testSecret); err == nil {
		t.Fatalf("expected invalid claims error")
	}
}

func TestParseJWT_UnknownKind(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "eve", "admin")
	if _, err := parseJWT(tok, testSecret); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestParseBearer_Scheme(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "k1", "KITCHEN")
	if _, err := ParseBearer("Basic "+tok, testSecret); err == nil {
		t.Fatalf("expected invalid scheme error")
	}
	p, err := ParseBearer("bearer "+tok, testSecret)
	if err != nil {
		t.Fatalf("ParseBearer: %v", err)
	}
	if p.Kind != KindKitchen {
		t.Fatalf("kind not normalised: %q", p.Kind)
	}
}

func TestParseJWT_EmptySecret(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "a", "customer")
	if _, err := parseJWT(tok, ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestParseJWT_ProviderClaims(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "7f1c",
		"role": "Courier",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := parseJWT(tok, testSecret)
	if err != nil {
		t.Fatalf("parseJWT: %v", err)
	}
	if p.Name != "7f1c" || p.Kind != KindCourier {
		t.Fatalf("principal mismatch: %+v", p)
	}
}

func TestIssue_RoundTripAndExpiry(t *testing.T) {
	tok, err := Issue(Principal{Name: "c1", Kind: KindCourier}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := ParseBearer("Bearer "+tok, testSecret)
	if err != nil || p.Name != "c1" || p.Kind != KindCourier {
		t.Fatalf("ParseBearer = %+v, %v", p, err)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "c1", "kind": "courier", "exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := parseJWT(expired, testSecret); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	if _, err := Issue(Principal{Name: "c1", Kind: KindCourier}, "", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
