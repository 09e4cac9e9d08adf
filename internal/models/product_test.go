package models

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestProductRecord_IsEmpty(t *testing.T) {
	assert.True(t, (&ProductRecord{SourceStore: "fred-meyer"}).IsEmpty())
	assert.False(t, (&ProductRecord{Price: strPtr("$1.00")}).IsEmpty())
}

func TestRunResult_Partition(t *testing.T) {
	run := NewRunResult()
	run.Outcomes["fred-meyer"] = NewSuccess("fred-meyer", []ProductRecord{{SourceStore: "fred-meyer"}}, time.Second)
	run.Outcomes["kroger"] = NewFailure("kroger", errors.New("grid never appeared"), time.Second)
	run.Outcomes["qfc"] = NewSuccess("qfc", nil, time.Second)

	succeeded := run.Succeeded()
	sort.Strings(succeeded)
	assert.Equal(t, []string{"fred-meyer", "qfc"}, succeeded)
	assert.Equal(t, []string{"kroger"}, run.Failed())

	records := run.Records()
	assert.Len(t, records["fred-meyer"], 1)
	assert.NotNil(t, records["qfc"])
	assert.Empty(t, records["qfc"])
	_, ok := records["kroger"]
	assert.False(t, ok)

	summary := run.Summary()
	assert.Nil(t, summary["fred-meyer"].Records)
	assert.Equal(t, 1, summary["fred-meyer"].Count)
	assert.Equal(t, "grid never appeared", summary["kroger"].Error)
	assert.Len(t, run.Outcomes["fred-meyer"].Records, 1, "summary must not mutate outcomes")
}
