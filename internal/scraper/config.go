package scraper

import (
	"fmt"
	"time"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultGridTimeout       = 15 * time.Second
)

// Selectors locate the product grid, its cells, and each field inside a
// cell. They are the only store-specific part of a crawl.
type Selectors struct {
	Grid  string `json:"grid"`
	Cell  string `json:"cell"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Image string `json:"image"`
	Link  string `json:"link"`
}

// StoreConfig fully describes how to crawl one retailer.
type StoreConfig struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
	BaseURL string   `json:"base_url"`

	Selectors Selectors `json:"selectors"`

	NavigationTimeout time.Duration `json:"navigation_timeout"`
	GridTimeout       time.Duration `json:"grid_timeout"`
}

func (c *StoreConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("store id is required")
	}
	if len(c.URLs) == 0 {
		return fmt.Errorf("store %s: at least one url is required", c.ID)
	}
	for i, u := range c.URLs {
		if u == "" {
			return fmt.Errorf("store %s: url %d is empty", c.ID, i)
		}
	}
	if c.BaseURL == "" {
		return fmt.Errorf("store %s: base url is required", c.ID)
	}

	required := map[string]string{
		"grid":  c.Selectors.Grid,
		"cell":  c.Selectors.Cell,
		"name":  c.Selectors.Name,
		"price": c.Selectors.Price,
		"image": c.Selectors.Image,
		"link":  c.Selectors.Link,
	}
	for field, sel := range required {
		if sel == "" {
			return fmt.Errorf("store %s: %s selector is required", c.ID, field)
		}
	}

	if c.NavigationTimeout < 0 || c.GridTimeout < 0 {
		return fmt.Errorf("store %s: timeouts must not be negative", c.ID)
	}

	return nil
}

func (c *StoreConfig) withDefaults() StoreConfig {
	out := *c
	out.URLs = append([]string(nil), c.URLs...)
	if out.NavigationTimeout == 0 {
		out.NavigationTimeout = DefaultNavigationTimeout
	}
	if out.GridTimeout == 0 {
		out.GridTimeout = DefaultGridTimeout
	}
	if out.Name == "" {
		out.Name = out.ID
	}
	return out
}
