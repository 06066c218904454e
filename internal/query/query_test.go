package query

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func mustOp(t *testing.T, doc bson.M) Operation {
	t.Helper()
	op, err := FromDocument(doc)
	require.NoError(t, err)
	return op
}

func userQuery(t *testing.T, opid int64, secs int64) Operation {
	t.Helper()
	return mustOp(t, bson.M{
		"opid":              opid,
		"op":                "query",
		"ns":                "shop.orders",
		"secs_running":      secs,
		"microsecs_running": secs * 1000000,
		"client":            "74.125.224.72:41000",
		"appName":           "checkout",
		"command":           bson.M{"find": "orders", "filter": bson.M{"status": "open"}, "$db": "shop"},
	})
}
