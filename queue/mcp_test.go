package queue_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/queue"
)

var testMCPImpl = &mcp.Implementation{Name: "plume-test", Version: "0.1.0"}

func mcpSession(t *testing.T, w *queue.Worker) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	w.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_PostThreadAndStatus(t *testing.T) {
	runner := &fakeRunner{post: func(drafts []poster.Draft) (*poster.Result, error) {
		return okResult("chain_mcp", drafts), nil
	}}
	f := newFixture(t, runner)
	f.start(t)
	session := mcpSession(t, f.worker)

	text := mcpCallTool(t, session, "plume_post_thread", map[string]any{
		"texts": []string{"Queued <em>over</em> MCP.", "Second message."},
	})
	var sub queue.Submission
	if err := json.Unmarshal([]byte(text), &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sub.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", sub.Status)
	}
	if len(sub.Drafts) != 2 || strings.Contains(sub.Drafts[0].Text, "<em>") {
		t.Fatalf("drafts not linted: %+v", sub.Drafts)
	}

	f.waitStatus(t, sub.ID, queue.StatusDone)

	text = mcpCallTool(t, session, "plume_chain_status", map[string]any{"id": sub.ID})
	var st queue.Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Submission.Status != queue.StatusDone {
		t.Fatalf("status = %q, want done", st.Submission.Status)
	}
	if st.Chain == nil || st.Chain.ID != "chain_mcp" {
		t.Fatalf("chain missing: %+v", st.Chain)
	}
	if len(st.Posts) != 2 {
		t.Fatalf("posts: %+v", st.Posts)
	}
}

func TestMCP_PostThreadRejectsEmpty(t *testing.T) {
	f := newFixture(t, &fakeRunner{})
	session := mcpSession(t, f.worker)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "plume_post_thread",
		Arguments: map[string]any{"texts": []string{"", "  "}},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for empty texts")
	}
}

func TestMCP_ChainStatusUnknown(t *testing.T) {
	f := newFixture(t, &fakeRunner{})
	session := mcpSession(t, f.worker)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "plume_chain_status",
		Arguments: map[string]any{"id": "sub_missing"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.GetError() == nil {
		t.Fatal("expected a tool error for an unknown id")
	}
}
