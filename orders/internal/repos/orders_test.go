package repos

import (
	"testing"

	"order-outbox/orders/internal/domain"
)

func TestRestoreItemKeepsStoredQuantityAboveLimit(t *testing.T) {
	item, err := restoreItem("abc-1", domain.DefaultMaxQuantity+5, "2.50", "EUR")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if item.Quantity().Int() != domain.DefaultMaxQuantity+5 {
		t.Fatalf("quantity = %d", item.Quantity().Int())
	}
	if got := item.Subtotal().String(); got != "2512.50 EUR" {
		t.Fatalf("subtotal = %s", got)
	}
}

func TestRestoreItemRejectsCorruptRows(t *testing.T) {
	cases := []struct {
		name     string
		sku      string
		qty      int
		price    string
		currency string
	}{
		{"bad sku", "", 1, "1.00", "EUR"},
		{"bad currency", "abc-1", 1, "1.00", "XXX"},
		{"bad price", "abc-1", 1, "abc", "EUR"},
		{"zero quantity", "abc-1", 0, "1.00", "EUR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := restoreItem(tc.sku, tc.qty, tc.price, tc.currency); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestForeignTxIsRejected(t *testing.T) {
	if _, err := asPgxTx(struct{}{}); err != errForeignTx {
		t.Fatalf("err = %v", err)
	}
	if _, err := asPgxTx(nil); err != errForeignTx {
		t.Fatalf("nil tx err = %v", err)
	}
}
