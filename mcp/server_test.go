package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

type fakeRunner struct {
	result *buyer.RunResult
	err    error
	state  buyer.State
	runs   int
}

func (r *fakeRunner) RunOnce(ctx context.Context) (*buyer.RunResult, error) {
	r.runs++
	return r.result, r.err
}

func (r *fakeRunner) State() buyer.State { return r.state }

type fakeHistory struct {
	purchases []store.Purchase
	err       error
	limit     int
}

func (h *fakeHistory) PurchaseStats(ctx context.Context) (store.PurchaseStats, error) {
	if h.err != nil {
		return store.PurchaseStats{}, h.err
	}
	return store.PurchaseStats{Count: len(h.purchases), TotalSpent: 0.01 * float64(len(h.purchases))}, nil
}

func (h *fakeHistory) ListPurchases(ctx context.Context, limit int) ([]store.Purchase, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	if limit < len(h.purchases) {
		return h.purchases[:limit], nil
	}
	return h.purchases, nil
}

type staticWallet bool

func (w staticWallet) Configured(ctx context.Context) bool { return bool(w) }

func connect(t *testing.T, server *mcpsdk.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]interface{}) *mcpsdk.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return result
}

func text(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	content, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestListsBuyerTools(t *testing.T) {
	session := connect(t, NewBuyerServer(&fakeRunner{}, &fakeHistory{}))

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolTriggerPurchase, ToolListPurchases, ToolBuyerStatus}, names)
}

func TestTriggerPurchase(t *testing.T) {
	purchased := "img-1"
	runner := &fakeRunner{result: &buyer.RunResult{Checked: 3, Unsold: 2, Purchased: &purchased}}
	session := connect(t, NewBuyerServer(runner, &fakeHistory{}))

	result := callTool(t, session, ToolTriggerPurchase, nil)
	require.False(t, result.IsError, text(t, result))

	var out TriggerResult
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Checked)
	assert.Equal(t, 2, out.Unsold)
	require.NotNil(t, out.Purchased)
	assert.Equal(t, "img-1", *out.Purchased)
	assert.Equal(t, 1, runner.runs)
}

func TestTriggerPurchaseErrors(t *testing.T) {
	runner := &fakeRunner{err: buyer.ErrRunInProgress}
	session := connect(t, NewBuyerServer(runner, &fakeHistory{}))

	result := callTool(t, session, ToolTriggerPurchase, nil)
	assert.True(t, result.IsError)
	assert.Equal(t, "A purchase run is already in progress", text(t, result))

	runner.err = errors.New("seller unreachable")
	result = callTool(t, session, ToolTriggerPurchase, nil)
	assert.True(t, result.IsError)
	assert.Equal(t, "seller unreachable", text(t, result))
}

func TestListPurchases(t *testing.T) {
	history := &fakeHistory{purchases: []store.Purchase{
		{ID: 2, ResourceID: "b", Prompt: "neon city", Price: "0.01", BoughtAt: time.Unix(200, 0).UTC()},
		{ID: 1, ResourceID: "a", Prompt: "a fox", Price: "0.01", BoughtAt: time.Unix(100, 0).UTC()},
	}}
	session := connect(t, NewBuyerServer(&fakeRunner{}, history))

	result := callTool(t, session, ToolListPurchases, map[string]interface{}{"limit": 1})
	require.False(t, result.IsError)
	assert.Equal(t, 1, history.limit)

	var out PurchasesResult
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))
	require.Len(t, out.Purchases, 1)
	assert.Equal(t, "b", out.Purchases[0].ResourceID)

	callTool(t, session, ToolListPurchases, map[string]interface{}{"limit": 500})
	assert.Equal(t, MaxPurchaseLimit, history.limit)

	callTool(t, session, ToolListPurchases, nil)
	assert.Equal(t, MaxPurchaseLimit, history.limit)
}

func TestListPurchasesEmpty(t *testing.T) {
	session := connect(t, NewBuyerServer(&fakeRunner{}, &fakeHistory{}))

	result := callTool(t, session, ToolListPurchases, nil)
	assert.JSONEq(t, `{"purchases":[]}`, text(t, result))
}

func TestBuyerStatus(t *testing.T) {
	history := &fakeHistory{purchases: []store.Purchase{{ID: 1, ResourceID: "a", Price: "0.01"}}}
	runner := &fakeRunner{state: buyer.StatePurchasing}
	session := connect(t, NewBuyerServer(runner, history, WithWallet(staticWallet(true))))

	result := callTool(t, session, ToolBuyerStatus, nil)
	require.False(t, result.IsError)

	var out StatusResult
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))
	assert.Equal(t, "buyer", out.Agent)
	assert.Equal(t, buyer.StatePurchasing.String(), out.State)
	assert.Equal(t, 1, out.TotalPurchases)
	assert.InDelta(t, 0.01, out.TotalSpent, 1e-9)
	assert.True(t, out.WalletConfigured)
}

func TestBuyerStatusStoreFailure(t *testing.T) {
	session := connect(t, NewBuyerServer(&fakeRunner{}, &fakeHistory{err: errors.New("disk full")}))

	result := callTool(t, session, ToolBuyerStatus, nil)
	assert.True(t, result.IsError)
	assert.Equal(t, "Failed to read purchase stats", text(t, result))
}

func TestHandlerServesStreamableHTTP(t *testing.T) {
	server := httptest.NewServer(Handler(NewBuyerServer(&fakeRunner{}, &fakeHistory{})))
	defer server.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcpsdk.StreamableClientTransport{Endpoint: server.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	result := callTool(t, session, ToolBuyerStatus, nil)
	assert.False(t, result.IsError)
}

func TestIntArgument(t *testing.T) {
	args := map[string]interface{}{"limit": float64(10), "zero": float64(0), "text": "x"}
	assert.Equal(t, 10, intArgument(args, "limit", 50, 50))
	assert.Equal(t, 1, intArgument(args, "zero", 50, 50))
	assert.Equal(t, 50, intArgument(args, "text", 50, 50))
	assert.Equal(t, 50, intArgument(args, "missing", 50, 50))
}
