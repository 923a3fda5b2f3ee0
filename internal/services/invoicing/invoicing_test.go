package invoicing

import (
	"context"
	"strings"
	"sync"
	"testing"

	"helioflow/internal/domain"
)

func TestStubNumbersUniqueUnderConcurrency(t *testing.T) {
	stub := &Stub{}
	const n = 32

	var wg sync.WaitGroup
	numbers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := stub.CreateInvoice(context.Background(), domain.Project{ID: "p-concurrent"})
			if err != nil {
				t.Errorf("create invoice: %v", err)
				return
			}
			numbers[i] = inv.Number
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, num := range numbers {
		if num == "" {
			t.Fatal("missing invoice number")
		}
		if seen[num] {
			t.Fatalf("duplicate invoice number %s", num)
		}
		seen[num] = true
	}
}

func TestStubPrefixAndURL(t *testing.T) {
	stub := &Stub{Prefix: "HF"}
	inv, err := stub.CreateInvoice(context.Background(), domain.Project{ID: "0123456789abcdef"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(inv.Number, "HF-01234567-") {
		t.Fatalf("number %s", inv.Number)
	}
	if inv.URL != "stub://invoices/"+inv.Number {
		t.Fatalf("url %s", inv.URL)
	}
}
