package sign

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestLocalSignerRoundTrip(t *testing.T) {
	signer, err := NewLocalSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	q := testQuote()
	td := TypedData(&q, testPool, testChainID)
	sig, err := signer.SignTypedData(td)
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", sig[64])
	}

	hash, err := Hash(&q, testPool, testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	recovery := make([]byte, 65)
	copy(recovery, sig[:64])
	recovery[64] = sig[64] - 27
	pub, err := crypto.SigToPub(hash.Bytes(), recovery)
	if err != nil {
		t.Fatalf("SigToPub failed: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestNewLocalSignerStripsPrefix(t *testing.T) {
	plain, err := NewLocalSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	prefixed, err := NewLocalSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalSigner with prefix failed: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Errorf("prefix handling changed the derived address")
	}
}

func TestNewLocalSignerInvalidKey(t *testing.T) {
	if _, err := NewLocalSigner("nonsense"); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestSignerAssignsSalt(t *testing.T) {
	inner, err := NewLocalSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	signer := NewSigner(testChainID, inner)

	q := testQuote()
	q.Salt = 0
	signed, err := signer.Sign(testPool, q)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if signed.Salt == 0 {
		t.Errorf("expected a generated salt")
	}
	if signed.ChainID.Cmp(testChainID) != 0 {
		t.Errorf("chain id = %s, want %s", signed.ChainID, testChainID)
	}
	if signed.Signature.V != 27 && signed.Signature.V != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", signed.Signature.V)
	}
}

func TestSignerKeepsExplicitSalt(t *testing.T) {
	inner, err := NewLocalSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	signer := NewSigner(big.NewInt(1), inner)

	q := testQuote()
	q.Salt = 12345
	signed, err := signer.Sign(testPool, q)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if signed.Salt != 12345 {
		t.Errorf("salt = %d, want 12345", signed.Salt)
	}
}
