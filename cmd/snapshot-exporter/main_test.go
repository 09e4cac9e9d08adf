package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/grocery-scraper/internal/events"
	"github.com/maltedev/grocery-scraper/internal/models"
)

func TestFromSummaries(t *testing.T) {
	stores, outcomes := fromSummaries([]events.StoreSummary{
		{Store: "fred-meyer", Status: models.OutcomeFailed, Error: "navigation failed"},
		{Store: "kroger", Status: models.OutcomeSucceeded, Count: 40},
	})

	assert.Equal(t, []string{"fred-meyer", "kroger"}, stores)
	assert.Equal(t, 40, outcomes["kroger"].Count)
	assert.False(t, outcomes["fred-meyer"].Succeeded())
	assert.Equal(t, "navigation failed", outcomes["fred-meyer"].Error)
}
