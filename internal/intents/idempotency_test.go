package intents

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/internal/quote"
)

func TestNormalizeCart(t *testing.T) {
	items := NormalizeCart([]CartItem{
		{ProductID: " p-2 ", Quantity: 1},
		{ID: "p-1", Quantity: 2},
		{ProductID: "p-2", Quantity: 3},
		{ProductID: "", ID: " ", Quantity: 4},
		{ProductID: "p-3", Quantity: 0},
		{ProductID: "p-4", Quantity: -1},
	})
	assert.Equal(t, []quote.LineItem{{ProductID: "p-1", Quantity: 2}, {ProductID: "p-2", Quantity: 4}}, items)
	assert.Empty(t, NormalizeCart(nil))
}

func TestCartHashIgnoresInputOrder(t *testing.T) {
	a := NormalizeCart([]CartItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 2}})
	b := NormalizeCart([]CartItem{{ProductID: "b", Quantity: 1}, {ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 1}})
	assert.Equal(t, CartHash(a), CartHash(b))
	assert.NotEqual(t, CartHash(a), CartHash(NormalizeCart([]CartItem{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 2}})))
	assert.Len(t, CartHash(nil), 64)
}

func TestDeriveStableWithinWindow(t *testing.T) {
	d := NewDeriver(10 * time.Minute)
	in := KeyInput{
		UserID:            uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		CartHash:          "abc",
		ShippingAddressID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Installments:      1,
		RateVersion:       "v1",
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	key1, exp1 := d.Derive(in, start.Add(time.Minute))
	key2, exp2 := d.Derive(in, start.Add(9*time.Minute+59*time.Second))
	require.Equal(t, key1, key2)
	assert.Equal(t, start.Add(10*time.Minute), exp1)
	assert.Equal(t, exp1, exp2)
	assert.Len(t, key1, 64)

	key3, exp3 := d.Derive(in, start.Add(10*time.Minute))
	assert.NotEqual(t, key1, key3)
	assert.Equal(t, start.Add(20*time.Minute), exp3)
}

func TestDeriveSeparatesInputs(t *testing.T) {
	d := NewDeriver(0)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := KeyInput{UserID: uuid.New(), CartHash: "abc", ShippingAddressID: uuid.New(), Installments: 1, RateVersion: "v1"}
	baseKey, _ := d.Derive(base, now)

	variants := map[string]func(KeyInput) KeyInput{
		"user":         func(k KeyInput) KeyInput { k.UserID = uuid.New(); return k },
		"cart":         func(k KeyInput) KeyInput { k.CartHash = "def"; return k },
		"address":      func(k KeyInput) KeyInput { k.ShippingAddressID = uuid.New(); return k },
		"installments": func(k KeyInput) KeyInput { k.Installments = 3; return k },
		"rate version": func(k KeyInput) KeyInput { k.RateVersion = "v2"; return k },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			key, _ := d.Derive(mutate(base), now)
			assert.NotEqual(t, baseKey, key)
		})
	}
}
