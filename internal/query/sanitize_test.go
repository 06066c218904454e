package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func fullRecord() bson.M {
	return bson.M{
		"opid":              77,
		"op":                "query",
		"ns":                "shop.orders",
		"secs_running":      12,
		"microsecs_running": 12000000,
		"active":            true,
		"client":            "74.125.224.72:41000",
		"appName":           "checkout",
		"connectionId":      5,
		"desc":              "conn5",
		"planSummary":       "COLLSCAN",
		"lockStats":         bson.M{"Global": bson.M{"acquireCount": bson.M{"r": 1}}},
		"locks":             bson.M{"Global": "r"},
		"waitingForLatch":   bson.M{"captureName": "x"},
		"flowControlStats":  bson.M{},
		"numYields":         3,
		"clientMetadata":    bson.M{"driver": bson.M{"name": "nodejs"}},
		"command": bson.M{
			"find":         "orders",
			"filter":       bson.M{"status": "open"},
			"lsid":         bson.M{"id": "abc"},
			"$clusterTime": bson.M{"clusterTime": 1},
			"$db":          "shop",
		},
	}
}

func TestSanitizeFull(t *testing.T) {
	op := mustOp(t, fullRecord())
	out := Sanitize(&op, true)

	for _, k := range []string{"appName", "ns", "op", "secs_running", "opid", "client", "clientMetadata", "planSummary", "lockStats", "locks", "connectionId"} {
		assert.NotContains(t, out, k)
	}
	assert.Contains(t, out, "numYields")
	cmd, ok := out["command"].(Document)
	require.True(t, ok)
	assert.NotContains(t, cmd, "lsid")
	assert.NotContains(t, cmd, "$clusterTime")
	assert.Equal(t, "orders", cmd["find"])
}

func TestSanitizePartial(t *testing.T) {
	op := mustOp(t, fullRecord())
	out := Sanitize(&op, false)

	assert.Equal(t, "checkout", out["appName"])
	assert.Equal(t, "COLLSCAN", out["planSummary"])
	assert.NotContains(t, out, "opid")
	assert.NotContains(t, out, "clientMetadata")
}

func TestSanitizeDoesNotModifyRecord(t *testing.T) {
	op := mustOp(t, fullRecord())
	Sanitize(&op, true)

	assert.Contains(t, op.Doc, "opid")
	assert.Contains(t, op.Doc, "clientMetadata")
	assert.Contains(t, op.Command, "lsid")
}

func TestSanitizePartialRoundTrip(t *testing.T) {
	op := mustOp(t, fullRecord())
	out := Sanitize(&op, false)

	rebuilt := copyDocument(out)
	for _, k := range omittedFields {
		if v, ok := op.Doc[k]; ok {
			rebuilt[k] = v
		}
	}
	for k := range op.Doc {
		if k == "command" {
			continue
		}
		assert.Contains(t, rebuilt, k)
	}
	// Everything the summary and detail views need is still reachable.
	assert.Equal(t, op.Doc["ns"], rebuilt["ns"])
	assert.Equal(t, op.Doc["op"], rebuilt["op"])
	assert.Equal(t, op.Doc["appName"], rebuilt["appName"])
}

func TestSanitizeCollapsesToCommand(t *testing.T) {
	op := mustOp(t, bson.M{
		"opid":    1,
		"op":      "command",
		"ns":      "shop.$cmd",
		"appName": "svc",
		"command": bson.M{"count": "orders", "$db": "shop"},
	})

	out := Sanitize(&op, true)
	assert.Equal(t, "orders", out["count"])
	assert.NotContains(t, out, "command")

	// The partial level still has appName next to the command.
	partial := Sanitize(&op, false)
	assert.Contains(t, partial, "command")
}

func TestSanitizeNoSQLBooster(t *testing.T) {
	op := mustOp(t, bson.M{
		"opid":    1,
		"appName": "NoSQLBooster for MongoDB",
		"command": bson.M{"find": "orders", "$client": bson.M{"driver": bson.M{"name": "nodejs"}, "os": bson.M{"name": "mac"}}},
	})

	out := Sanitize(&op, false)
	cmd, ok := out["command"].(Document)
	require.True(t, ok)
	assert.NotContains(t, cmd, "$client")
	assert.Equal(t, "orders", cmd["find"])

	other := mustOp(t, bson.M{
		"opid":    2,
		"appName": "checkout",
		"command": bson.M{"find": "orders", "$client": bson.M{"driver": bson.M{"name": "nodejs"}}},
	})
	out = Sanitize(&other, false)
	assert.Contains(t, out["command"], "$client")
}

func TestSanitizeWithoutCommand(t *testing.T) {
	op := mustOp(t, bson.M{"opid": 1, "op": "none", "desc": "conn1"})
	assert.Empty(t, Sanitize(&op, true))
}

func TestSanitizeWithRuntimeKeepsRecordShape(t *testing.T) {
	op := mustOp(t, bson.M{
		"opid":         1,
		"op":           "command",
		"ns":           "shop.$cmd",
		"secs_running": 20,
		"command":      bson.M{"count": "orders", "$db": "shop"},
	})

	// Sanitize alone collapses this record to its command.
	assert.Equal(t, "orders", Sanitize(&op, false)["count"])

	out := SanitizeWithRuntime(&op)
	assert.Equal(t, int64(20), out["secs_running"])
	require.Contains(t, out, "command")
	assert.NotContains(t, out["command"].(Document), "secs_running")
}
