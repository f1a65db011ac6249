package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_buildSelectCurrentQuery(t *testing.T) {
	query, args, err := buildSelectCurrentQuery("pce_1")
	require.NoError(t, err)

	assert.Contains(t, args, "pce_1")

	q := strings.ToLower(query)
	require.Contains(t, q, "select")
	require.Contains(t, q, "from snapshots")
	require.Contains(t, q, "join entities")
	require.Contains(t, q, "order by s.order_key desc")
	require.Contains(t, q, "limit 1")

	// sqlite placeholder format
	require.Contains(t, query, "?")
	require.NotContains(t, query, "$1")

	for _, col := range []string{"entity_id", "order_key", "created_at", "deleted", "text_body"} {
		require.Contains(t, q, col)
	}
}

func Test_buildSelectAllCurrentQuery(t *testing.T) {
	query, _, err := buildSelectAllCurrentQuery()
	require.NoError(t, err)

	q := strings.ToLower(query)
	require.Contains(t, q, "from snapshots")
	require.Contains(t, q, "max(order_key)", "listing must pick the current version per entity")
	require.Contains(t, q, "e.deleted", "tombstoned entities are filtered out")
	require.Contains(t, q, "order by s.created_at")
}

func Test_buildSelectHistoryQuery(t *testing.T) {
	query, args, err := buildSelectHistoryQuery("pce_9")
	require.NoError(t, err)

	require.Len(t, args, 1)
	assert.Equal(t, "pce_9", args[0])

	q := strings.ToLower(query)
	require.Contains(t, q, "order by s.order_key")
	require.NotContains(t, q, "join entities", "history includes tombstoned entities")
}

func Test_buildSelectEntityQuery(t *testing.T) {
	query, args, err := buildSelectEntityQuery("pce_2")
	require.NoError(t, err)

	require.Len(t, args, 1)
	assert.Equal(t, "pce_2", args[0])

	q := strings.ToLower(query)
	require.Contains(t, q, "from entities")
	require.Contains(t, q, "deleted")
}
