package opaqueid

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	opaque := Encode(NamespaceProduct, "prod-123")
	ns, id := Decode(opaque)
	if ns != NamespaceProduct {
		t.Fatalf("expected namespace %s, got %s", NamespaceProduct, ns)
	}
	if id != "prod-123" {
		t.Fatalf("expected id prod-123, got %s", id)
	}
}

func TestDecodeBareID(t *testing.T) {
	ns, id := Decode("prod-123")
	if ns != "" {
		t.Fatalf("expected empty namespace, got %s", ns)
	}
	if id != "prod-123" {
		t.Fatalf("expected pass-through id, got %s", id)
	}
}

func TestDecodeNonNamespacedBase64(t *testing.T) {
	// Valid base64 but not a namespaced payload.
	ns, id := Decode("aGVsbG8=")
	if ns != "" || id != "aGVsbG8=" {
		t.Fatalf("expected pass-through, got ns=%q id=%q", ns, id)
	}
}

func TestDecodeForNamespace(t *testing.T) {
	opaque := Encode(NamespaceCart, "cart-1")
	if got := DecodeForNamespace(NamespaceCart, opaque); got != "cart-1" {
		t.Fatalf("expected cart-1, got %s", got)
	}
	if got := DecodeForNamespace(NamespaceShop, opaque); got != opaque {
		t.Fatalf("expected pass-through for mismatched namespace, got %s", got)
	}
}
