// Package extract pulls single product fields out of a product cell.
//
// Every extractor returns a nil string when its selector matches nothing;
// a missing element is expected on real listings and is never an error.
// Errors are returned only when the page itself fails to answer a query.
package extract

import (
	"fmt"

	"github.com/maltedev/grocery-scraper/internal/dom"
)

// Image returns the src of the first element matching selector.
func Image(scope dom.Scope, selector string) (*string, error) {
	return attribute(scope, selector, "src")
}

// Link returns baseURL joined to the href of the first element matching
// selector. The two strings are concatenated as-is; nothing is resolved or
// validated.
func Link(scope dom.Scope, selector, baseURL string) (*string, error) {
	href, err := attribute(scope, selector, "href")
	if err != nil || href == nil {
		return nil, err
	}
	url := baseURL + *href
	return &url, nil
}

// Label returns the accessible label of the first element matching
// selector. Kroger-family listings expose both product name and price this
// way, so callers decide what the value means by the selector they pass.
func Label(scope dom.Scope, selector string) (*string, error) {
	el, err := first(scope, selector)
	if err != nil || el == nil {
		return nil, err
	}

	label, err := el.AccessibleLabel()
	if err != nil {
		return nil, fmt.Errorf("failed to read label of %q: %w", selector, err)
	}
	return label, nil
}

func attribute(scope dom.Scope, selector, name string) (*string, error) {
	el, err := first(scope, selector)
	if err != nil || el == nil {
		return nil, err
	}

	val, err := el.Attribute(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of %q: %w", name, selector, err)
	}
	return val, nil
}

func first(scope dom.Scope, selector string) (dom.Scope, error) {
	el, err := scope.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return el, nil
}
