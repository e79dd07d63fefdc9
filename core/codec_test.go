package core

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	pubKey := make([]byte, 33)
	pubKey[0] = 0x02
	for i := 1; i < 33; i++ {
		pubKey[i] = byte(i)
	}

	addr, err := AddressFromPubKey(pubKey, NetworkTestnet)
	if err != nil {
		t.Fatalf("AddressFromPubKey: %v", err)
	}

	decoded, err := DecodeAddress(addr, NetworkTestnet)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded.EncodeAddress() != addr {
		t.Fatalf("round trip mismatch: got %s, want %s", decoded.EncodeAddress(), addr)
	}
}

func TestDecodeAddressRejectsWrongNetwork(t *testing.T) {
	pubKey := make([]byte, 33)
	pubKey[0] = 0x03
	addr, err := AddressFromPubKey(pubKey, NetworkMainnet)
	if err != nil {
		t.Fatalf("AddressFromPubKey: %v", err)
	}
	if _, err := DecodeAddress(addr, NetworkTestnet); err == nil {
		t.Fatal("expected mainnet address to be rejected on testnet")
	}
}

func TestPayToAddrScriptRoundTrips(t *testing.T) {
	pubKey := make([]byte, 33)
	pubKey[0] = 0x02
	addr, err := AddressFromPubKey(pubKey, NetworkTestnet)
	if err != nil {
		t.Fatalf("AddressFromPubKey: %v", err)
	}
	script, err := PayToAddrScript(addr, NetworkTestnet)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}
	if len(script) == 0 {
		t.Fatal("expected a non-empty scriptPubKey")
	}
}

func TestHash160Length(t *testing.T) {
	h := Hash160([]byte("hello world"))
	if len(h) != 20 {
		t.Fatalf("expected a 20-byte HASH160, got %d", len(h))
	}
}

// TestKoinuRoundTrip exercises property P6: dogeToKoinu(koinuToDoge(k))
// must recover k for ordinary wallet balances.
func TestKoinuRoundTrip(t *testing.T) {
	cases := []Koinu{0, 1, 100000, DogeToKoinu(1), DogeToKoinu(123.456), DogeToKoinu(1000000)}
	for _, k := range cases {
		doge := KoinuToDoge(k)
		back := DogeToKoinu(doge)
		if back != k {
			t.Errorf("round trip failed for %d koinu: got %d back via %f DOGE", k, back, doge)
		}
	}
}
