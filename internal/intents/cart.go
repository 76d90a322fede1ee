package intents

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/angelmondragon/paycore/internal/quote"
)

// CartItem is one raw checkout row as submitted by the client.
type CartItem struct {
	ProductID string `json:"product_id"`
	ID        string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// NormalizeCart trims ids, drops empty or non-positive rows, merges duplicate products and sorts by product id.
func NormalizeCart(items []CartItem) []quote.LineItem {
	totals := map[string]int{}
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			id = strings.TrimSpace(item.ID)
		}
		if id == "" || item.Quantity <= 0 {
			continue
		}
		totals[id] += item.Quantity
	}

	out := make([]quote.LineItem, 0, len(totals))
	for id, qty := range totals {
		out = append(out, quote.LineItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CartHash is the sha256 hex digest of the normalized cart's JSON encoding.
func CartHash(items []quote.LineItem) string {
	if items == nil {
		items = []quote.LineItem{}
	}
	encoded, _ := json.Marshal(items)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
