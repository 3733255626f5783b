package session

import (
	"encoding/base64"
	"testing"
)

func TestDecodePlainResponse(t *testing.T) {
	raw := "\x00bob\x00hunter2"
	resp := base64.StdEncoding.EncodeToString([]byte(raw))

	authzid, authcid, passwd, err := DecodePlainResponse(resp)
	if err != nil {
		t.Fatalf("DecodePlainResponse: %v", err)
	}
	if authzid != "" || authcid != "bob" || passwd != "hunter2" {
		t.Errorf("got %q %q %q", authzid, authcid, passwd)
	}
}

func TestDecodePlainResponseBadBase64(t *testing.T) {
	if _, _, _, err := DecodePlainResponse("not base64!!"); err == nil {
		t.Errorf("expected error")
	}
}

func TestDecodePlainResponseWrongFieldCount(t *testing.T) {
	resp := base64.StdEncoding.EncodeToString([]byte("onlyonepart"))
	if _, _, _, err := DecodePlainResponse(resp); err == nil {
		t.Errorf("expected error")
	}
}

func TestDecodeBase64Line(t *testing.T) {
	s, err := DecodeBase64Line(base64.StdEncoding.EncodeToString([]byte("bob")))
	if err != nil || s != "bob" {
		t.Errorf("got %q, %v", s, err)
	}
}

func TestEncodeLoginAsPlainRoundTrips(t *testing.T) {
	resp := EncodeLoginAsPlain("bob", "hunter2")
	authzid, authcid, passwd, err := DecodePlainResponse(resp)
	if err != nil {
		t.Fatalf("DecodePlainResponse: %v", err)
	}
	if authzid != "bob" || authcid != "bob" || passwd != "hunter2" {
		t.Errorf("got %q %q %q", authzid, authcid, passwd)
	}
}
