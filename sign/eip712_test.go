package sign

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"optionflow/models"
	"optionflow/wad"
)

var (
	testPool    = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	testChainID = big.NewInt(42161)
)

func testQuote() models.RawQuote {
	return models.RawQuote{
		Provider: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Taker:    common.Address{},
		Price:    wad.FromInt(1),
		Size:     wad.FromInt(10),
		IsBuy:    false,
		Deadline: 1900000000,
		Salt:     1700000000000,
	}
}

func TestHashDeterministic(t *testing.T) {
	q := testQuote()
	h1, err := Hash(&q, testPool, testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(&q, testPool, testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash is not deterministic: %s != %s", h1.Hex(), h2.Hex())
	}
	if h1 == (common.Hash{}) {
		t.Errorf("hash is zero")
	}
}

func TestHashFieldSensitivity(t *testing.T) {
	base := testQuote()
	ref, err := Hash(&base, testPool, testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	mutations := map[string]func(q *models.RawQuote){
		"provider": func(q *models.RawQuote) { q.Provider = common.HexToAddress("0xbb") },
		"taker":    func(q *models.RawQuote) { q.Taker = common.HexToAddress("0xcc") },
		"price":    func(q *models.RawQuote) { q.Price = wad.FromInt(2) },
		"size":     func(q *models.RawQuote) { q.Size = wad.FromInt(11) },
		"isBuy":    func(q *models.RawQuote) { q.IsBuy = !q.IsBuy },
		"deadline": func(q *models.RawQuote) { q.Deadline++ },
		"salt":     func(q *models.RawQuote) { q.Salt++ },
	}
	for name, mutate := range mutations {
		q := testQuote()
		mutate(&q)
		h, err := Hash(&q, testPool, testChainID)
		if err != nil {
			t.Fatalf("Hash failed after mutating %s: %v", name, err)
		}
		if h == ref {
			t.Errorf("mutating %s did not change the hash", name)
		}
	}
}

func TestHashDomainSensitivity(t *testing.T) {
	q := testQuote()
	ref, err := Hash(&q, testPool, testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	otherPool, err := Hash(&q, common.HexToAddress("0x01"), testChainID)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if otherPool == ref {
		t.Errorf("changing the verifying contract did not change the hash")
	}

	otherChain, err := Hash(&q, testPool, big.NewInt(1))
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if otherChain == ref {
		t.Errorf("changing the chain id did not change the hash")
	}
}

func TestTypedDataShape(t *testing.T) {
	q := testQuote()
	td := TypedData(&q, testPool, testChainID)

	if td.PrimaryType != "FillQuoteOB" {
		t.Errorf("unexpected primary type %q", td.PrimaryType)
	}
	if td.Domain.Name != DomainName || td.Domain.Version != DomainVersion {
		t.Errorf("unexpected domain %s/%s", td.Domain.Name, td.Domain.Version)
	}

	fields := td.Types["FillQuoteOB"]
	wantOrder := []string{"provider", "taker", "price", "size", "isBuy", "deadline", "salt"}
	if len(fields) != len(wantOrder) {
		t.Fatalf("expected %d fields, got %d", len(wantOrder), len(fields))
	}
	for i, want := range wantOrder {
		if fields[i].Name != want {
			t.Errorf("field %d = %q, want %q", i, fields[i].Name, want)
		}
	}
}
