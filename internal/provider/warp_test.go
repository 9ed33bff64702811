package provider

import (
	"bytes"
	"context"
	"testing"
)

func TestReadLengthPrefixedFrame(t *testing.T) {
	payload := []byte("hello warp")
	header := []byte{0, 0, 0, 0, byte(len(payload))}
	buf := bytes.NewBuffer(append(header, payload...))

	got, err := readLengthPrefixedFrame(buf)
	if err != nil {
		t.Fatalf("readLengthPrefixedFrame: %v", err)
	}
	if string(got) != "hello warp" {
		t.Errorf("frame = %q", got)
	}
}

func TestReadLengthPrefixedFrameRejectsImplausibleLength(t *testing.T) {
	header := []byte{0, 0xFF, 0xFF, 0xFF, 0xFF}
	buf := bytes.NewBuffer(header)
	if _, err := readLengthPrefixedFrame(buf); err == nil {
		t.Fatal("expected an error for an implausibly large frame length")
	}
}

func TestWarpAdapterIdentifier(t *testing.T) {
	a := NewWarpAdapter("https://example.invalid", nil)
	if a.Identifier() != "warp" {
		t.Errorf("Identifier() = %q, want warp", a.Identifier())
	}
}

func TestWarpAdapterNoCodecFailsEveryCall(t *testing.T) {
	a := NewWarpAdapter("https://example.invalid", nil)
	if _, err := a.GenerateContent(context.Background(), Credential{}, "m", []byte(`{}`)); err == nil {
		t.Error("GenerateContent with nil codec should fail")
	}
	if _, err := a.GenerateContentStream(context.Background(), Credential{}, "m", []byte(`{}`)); err == nil {
		t.Error("GenerateContentStream with nil codec should fail")
	}
}
