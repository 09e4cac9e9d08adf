package scraper

import (
	"sort"
)

const (
	StoreFredMeyer = "fred-meyer"
	StoreKroger    = "kroger"
)

// Kroger banners share one storefront, so their listings use the same
// product card markup. Name and price are only exposed through aria-label.
var krogerFamilySelectors = Selectors{
	Grid:  ".ProductGridContainer",
	Cell:  ".ProductCard",
	Name:  `[data-qa="cart-page-item-description"]`,
	Price: `[data-qa="cart-page-item-unit-price"]`,
	Image: "img",
	Link:  "a",
}

var builtinStores = map[string]StoreConfig{
	StoreFredMeyer: {
		ID:        StoreFredMeyer,
		Name:      "Fred Meyer",
		URLs:      []string{"https://www.fredmeyer.com/pl/fresh-fruits-vegetables/06111"},
		BaseURL:   "https://www.fredmeyer.com",
		Selectors: krogerFamilySelectors,
	},
	StoreKroger: {
		ID:        StoreKroger,
		Name:      "Kroger",
		URLs:      []string{"https://www.kroger.com/pl/fresh-fruits-vegetables/06111"},
		BaseURL:   "https://www.kroger.com",
		Selectors: krogerFamilySelectors,
	},
}

// Stores returns a copy of every built-in store configuration.
func Stores() map[string]StoreConfig {
	out := make(map[string]StoreConfig, len(builtinStores))
	for id, cfg := range builtinStores {
		cfg.URLs = append([]string(nil), cfg.URLs...)
		out[id] = cfg
	}
	return out
}

func Lookup(id string) (StoreConfig, bool) {
	cfg, ok := builtinStores[id]
	if !ok {
		return StoreConfig{}, false
	}
	cfg.URLs = append([]string(nil), cfg.URLs...)
	return cfg, true
}

// StoreIDs lists the built-in store identifiers in sorted order.
func StoreIDs() []string {
	ids := make([]string, 0, len(builtinStores))
	for id := range builtinStores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
