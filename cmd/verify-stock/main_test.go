package main

import (
	"bytes"
	"testing"

	"smartmarket/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReport(t *testing.T) {
	drifts := []core.StockDrift{
		{MaterialID: 1, Material: "Vinyl", Cached: decimal.NewFromInt(30), Replayed: decimal.NewFromInt(30), Movements: 3},
		{MaterialID: 2, Material: "Ink", Cached: decimal.NewFromInt(5), Replayed: decimal.RequireFromString("4.5"), Movements: 2},
	}
	var buf bytes.Buffer
	report(&buf, drifts)

	assert.Equal(t, 1, countDrifted(drifts))
	assert.Contains(t, buf.String(), "DRIFT #2")
	assert.Contains(t, buf.String(), "ledger=4.5")
	assert.Contains(t, buf.String(), "2 materials checked, 1 drifted")
}
