package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pair-tracker/internal/models"
)

func TestDedupeByKey(t *testing.T) {
	at := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	a := row("0xAB", 1, at, "WETH", "1")
	aUpper := row("0xab", 1, at, "WETH", "1")
	otherLog := row("0xab", 2, at, "WETH", "1")

	got := dedupeByKey([]*models.Transaction{a, aUpper, otherLog})
	assert.Equal(t, []*models.Transaction{a, otherLog}, got)
	assert.Empty(t, dedupeByKey(nil))
}

func TestBoundariesComplete(t *testing.T) {
	tx := &models.Transaction{}

	assert.False(t, (*Boundaries)(nil).Complete())
	assert.False(t, (&Boundaries{Start: tx}).Complete())
	assert.False(t, (&Boundaries{End: tx}).Complete())
	assert.True(t, (&Boundaries{Start: tx, End: tx}).Complete())
}

func TestSplitSQLStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    x UInt64
) ENGINE = Memory;

ALTER TABLE a ADD INDEX i x TYPE minmax GRANULARITY 4;
SELECT 1`

	stmts := splitSQLStatements(script)
	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "ENGINE = Memory")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "SELECT 1", stmts[2])
}
