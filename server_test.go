package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// testSession is an in-memory Session: inbound messages are fed through a
// channel and outbound messages are routed back to per-request waiters.
type testSession struct {
	t *testing.T

	in chan JSONRPCMessage

	mu            sync.Mutex
	waiters       map[MustString]chan JSONRPCMessage
	notifications chan JSONRPCMessage
}

func newTestSession(t *testing.T) *testSession {
	return &testSession{
		t:             t,
		in:            make(chan JSONRPCMessage, 16),
		waiters:       make(map[MustString]chan JSONRPCMessage),
		notifications: make(chan JSONRPCMessage, 64),
	}
}

func (s *testSession) ID() string { return "test-session" }

func (s *testSession) Send(_ context.Context, msg JSONRPCMessage) error {
	if msg.ID == "" {
		s.notifications <- msg
		return nil
	}

	s.mu.Lock()
	ch, ok := s.waiters[msg.ID]
	delete(s.waiters, msg.ID)
	s.mu.Unlock()

	if !ok {
		s.t.Errorf("response for unknown request ID %q", msg.ID)
		return nil
	}
	ch <- msg
	return nil
}

func (s *testSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for msg := range s.in {
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *testSession) Stop() {}

// request feeds a request into the session and returns a channel carrying its
// eventual response.
func (s *testSession) request(id MustString, method string, params any) chan JSONRPCMessage {
	ch := make(chan JSONRPCMessage, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			s.t.Fatalf("failed to marshal params: %v", err)
		}
		raw = bs
	}
	s.in <- JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: raw}
	return ch
}

func (s *testSession) notify(method string, params any) {
	var raw json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			s.t.Fatalf("failed to marshal params: %v", err)
		}
		raw = bs
	}
	s.in <- JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: method, Params: raw}
}

func (s *testSession) await(ch chan JSONRPCMessage) JSONRPCMessage {
	s.t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for response")
		return JSONRPCMessage{}
	}
}

func startServer(t *testing.T, srv *Server) (*testSession, func()) {
	t.Helper()
	sess := newTestSession(t)

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(context.Background(), sess)
	}()

	return sess, func() {
		close(sess.in)
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after session closed")
		}
	}
}

func newEchoServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, cfg)
	if err := srv.AddTool(echoToolDef()); err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}
	return srv
}

func TestServerInitializeHandshake(t *testing.T) {
	srv := newEchoServer(t, ServerConfig{Instructions: "call echo"})
	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.await(sess.request("1", "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      Info{Name: "test-client", Version: "0.0.1"},
	}))
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("serverInfo.name = %q, want %q", result.ServerInfo.Name, "test-server")
	}
	if result.Capabilities.Tools == nil {
		t.Error("tools capability not advertised despite registered tool")
	}
	if result.Capabilities.Resources != nil {
		t.Error("resources capability advertised with no registered resources")
	}
	if result.Instructions != "call echo" {
		t.Errorf("instructions = %q, want %q", result.Instructions, "call echo")
	}

	sess.notify(methodNotificationsInitialized, nil)
}

func TestServerPing(t *testing.T) {
	sess, shutdown := startServer(t, newEchoServer(t, ServerConfig{}))
	defer shutdown()

	resp := sess.await(sess.request("1", "ping", nil))
	if resp.Error != nil {
		t.Fatalf("ping failed: %v", resp.Error)
	}
	if string(resp.Result) != "{}" {
		t.Errorf("ping result = %s, want {}", resp.Result)
	}
}

func TestServerMethodNotFound(t *testing.T) {
	sess, shutdown := startServer(t, newEchoServer(t, ServerConfig{}))
	defer shutdown()

	resp := sess.await(sess.request("1", "no/such/method", nil))
	if resp.Error == nil {
		t.Fatal("unknown method succeeded")
	}
	if resp.Error.Code != jsonRPCMethodNotFoundCode {
		t.Errorf("code = %d, want %d", resp.Error.Code, jsonRPCMethodNotFoundCode)
	}
	if resp.Error.Data["requestId"] != "1" {
		t.Errorf("data.requestId = %v, want %q", resp.Error.Data["requestId"], "1")
	}
}

func TestServerToolCallEcho(t *testing.T) {
	sess, shutdown := startServer(t, newEchoServer(t, ServerConfig{}))
	defer shutdown()

	resp := sess.await(sess.request("1", MethodToolsCall, CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"round trip"}`),
	}))
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %v", resp.Error)
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal call result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "round trip" {
		t.Errorf("call result = %+v", result)
	}
}

func TestServerToolCallValidation(t *testing.T) {
	sess, shutdown := startServer(t, newEchoServer(t, ServerConfig{}))
	defer shutdown()

	resp := sess.await(sess.request("1", MethodToolsCall, CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":123}`),
	}))
	if resp.Error == nil || resp.Error.Code != jsonRPCInvalidParamsCode {
		t.Errorf("invalid arguments returned %v, want code %d", resp.Error, jsonRPCInvalidParamsCode)
	}

	resp = sess.await(sess.request("2", MethodToolsCall, CallToolParams{Name: "missing"}))
	if resp.Error == nil || resp.Error.Code != jsonRPCNotFoundCode {
		t.Errorf("unknown tool returned %v, want code %d", resp.Error, jsonRPCNotFoundCode)
	}
}

func TestServerListEndpoints(t *testing.T) {
	srv := newEchoServer(t, ServerConfig{})
	if err := srv.AddResource(&ResourceDefinition{
		URI:  "fly://context",
		Name: "context",
		Handler: func(_ context.Context, uri string, _ *CancelToken, _ *ProgressNotifier) (ReadResourceResult, error) {
			return ReadResourceResult{Contents: []ResourceContents{{URI: uri, Text: "{}"}}}, nil
		},
	}); err != nil {
		t.Fatalf("AddResource failed: %v", err)
	}
	if err := srv.AddResourceTemplate(&ResourceTemplateDefinition{
		URITemplate: "fly://templates/{name}",
		Name:        "templates",
		Handler: func(_ context.Context, uri string, _ *CancelToken, _ *ProgressNotifier) (ReadResourceResult, error) {
			return ReadResourceResult{Contents: []ResourceContents{{URI: uri, Text: "tpl"}}}, nil
		},
	}); err != nil {
		t.Fatalf("AddResourceTemplate failed: %v", err)
	}
	if err := srv.AddPrompt(&PromptDefinition{
		Name: "scaffold_feature",
		Handler: func(context.Context, map[string]string, *CancelToken, *ProgressNotifier) (GetPromptResult, error) {
			return GetPromptResult{}, nil
		},
	}); err != nil {
		t.Fatalf("AddPrompt failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.await(sess.request("1", MethodToolsList, nil))
	var tools ListToolsResult
	if err := json.Unmarshal(resp.Result, &tools); err != nil {
		t.Fatalf("tools/list result: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Errorf("tools/list = %+v", tools)
	}

	resp = sess.await(sess.request("2", MethodResourcesList, nil))
	var resources ListResourcesResult
	if err := json.Unmarshal(resp.Result, &resources); err != nil {
		t.Fatalf("resources/list result: %v", err)
	}
	if len(resources.Resources) != 1 || resources.Resources[0].URI != "fly://context" {
		t.Errorf("resources/list = %+v", resources)
	}

	resp = sess.await(sess.request("3", MethodResourcesTemplatesList, nil))
	var templates ListResourceTemplatesResult
	if err := json.Unmarshal(resp.Result, &templates); err != nil {
		t.Fatalf("resources/templates/list result: %v", err)
	}
	if len(templates.Templates) != 1 || templates.Templates[0].URITemplate != "fly://templates/{name}" {
		t.Errorf("resources/templates/list = %+v", templates)
	}

	resp = sess.await(sess.request("4", MethodPromptsList, nil))
	var prompts ListPromptsResult
	if err := json.Unmarshal(resp.Result, &prompts); err != nil {
		t.Fatalf("prompts/list result: %v", err)
	}
	if len(prompts.Prompts) != 1 || prompts.Prompts[0].Name != "scaffold_feature" {
		t.Errorf("prompts/list = %+v", prompts)
	}

	resp = sess.await(sess.request("5", MethodResourcesRead, ReadResourceParams{URI: "fly://templates/riverpod"}))
	if resp.Error != nil {
		t.Fatalf("resources/read via template failed: %v", resp.Error)
	}

	resp = sess.await(sess.request("6", MethodResourcesRead, ReadResourceParams{URI: "fly://nope"}))
	if resp.Error == nil || resp.Error.Code != jsonRPCNotFoundCode {
		t.Errorf("unknown resource returned %v, want code %d", resp.Error, jsonRPCNotFoundCode)
	}
}

// TestServerConcurrencyAndCancel exercises the full pipeline: with echo capped
// at one concurrent call, a second call is rejected with the limit error while
// the first is still running, and a third call that started executing is
// cancelled via $/cancelRequest.
func TestServerConcurrencyAndCancel(t *testing.T) {
	release := make(chan struct{})
	running := make(chan MustString, 2)

	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddTool(&ToolDefinition{
		Name:           "echo",
		MaxConcurrency: 1,
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
		Handler: func(ctx context.Context, args json.RawMessage, token *CancelToken, _ *ProgressNotifier) (*CallToolResult, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			running <- token.requestID

			switch in.Text {
			case "first":
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			case "third":
				// Blocks until cancelled.
				select {
				case <-token.Done():
					return nil, token.Err()
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &CallToolResult{Content: []Content{{Type: ContentTypeText, Text: in.Text}}}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	callParams := func(text string) CallToolParams {
		return CallToolParams{Name: "echo", Arguments: json.RawMessage(fmt.Sprintf(`{"text":%q}`, text))}
	}

	// First call occupies echo's only slot.
	first := sess.request("1", MethodToolsCall, callParams("first"))
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("first call never started")
	}

	// Second call is rejected immediately, not queued.
	second := sess.await(sess.request("2", MethodToolsCall, callParams("second")))
	if second.Error == nil {
		t.Fatal("second call succeeded despite saturated limit")
	}
	if second.Error.Code != jsonRPCPermissionDeniedCode {
		t.Errorf("second call code = %d, want %d", second.Error.Code, jsonRPCPermissionDeniedCode)
	}
	if second.Error.Data["tool"] != "echo" {
		t.Errorf("second call data.tool = %v, want echo", second.Error.Data["tool"])
	}

	// Release the first call and let a third start executing.
	close(release)
	firstResp := sess.await(first)
	if firstResp.Error != nil {
		t.Fatalf("first call failed: %v", firstResp.Error)
	}

	third := sess.request("3", MethodToolsCall, callParams("third"))
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("third call never started")
	}

	// Cancel the third call while its handler is blocked.
	sess.notify(MethodCancelRequest, cancelRequestParams{ID: "3", Reason: "test"})

	thirdResp := sess.await(third)
	if thirdResp.Error == nil {
		t.Fatal("cancelled call succeeded")
	}
	if thirdResp.Error.Code != jsonRPCRequestCancelledCode {
		t.Errorf("cancelled call code = %d, want %d", thirdResp.Error.Code, jsonRPCRequestCancelledCode)
	}
	if thirdResp.Error.Data["requestId"] != "3" {
		t.Errorf("cancelled call data.requestId = %v, want %q", thirdResp.Error.Data["requestId"], "3")
	}

	// Cancelling an already-finished request is a silent no-op.
	sess.notify(MethodCancelRequest, cancelRequestParams{ID: "3"})
}

func TestServerToolTimeout(t *testing.T) {
	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddTool(&ToolDefinition{
		Name:    "slow",
		Timeout: 50 * time.Millisecond,
		Handler: func(ctx context.Context, _ json.RawMessage, _ *CancelToken, _ *ProgressNotifier) (*CallToolResult, error) {
			select {
			case <-time.After(10 * time.Second):
				return &CallToolResult{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	if err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	start := time.Now()
	resp := sess.await(sess.request("1", MethodToolsCall, CallToolParams{Name: "slow"}))
	elapsed := time.Since(start)

	if resp.Error == nil {
		t.Fatal("slow call succeeded despite timeout")
	}
	if resp.Error.Code != jsonRPCTimeoutCode {
		t.Errorf("code = %d, want %d", resp.Error.Code, jsonRPCTimeoutCode)
	}
	if elapsed > 550*time.Millisecond {
		t.Errorf("timeout response took %v, want within 500ms of the 50ms deadline", elapsed)
	}
}

func TestServerProgressNotifications(t *testing.T) {
	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddTool(&ToolDefinition{
		Name: "stepper",
		Handler: func(_ context.Context, _ json.RawMessage, _ *CancelToken, progress *ProgressNotifier) (*CallToolResult, error) {
			progress.Notify("halfway", 50)
			progress.Notify("done", 100)
			return &CallToolResult{}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.await(sess.request("1", MethodToolsCall, CallToolParams{
		Name: "stepper",
		Meta: ParamsMeta{ProgressToken: "tok-1"},
	}))
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %v", resp.Error)
	}

	var updates []ProgressParams
	for len(updates) < 2 {
		select {
		case msg := <-sess.notifications:
			if msg.Method != methodNotificationsProgress {
				t.Fatalf("unexpected notification %q", msg.Method)
			}
			var params ProgressParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				t.Fatalf("failed to unmarshal progress params: %v", err)
			}
			updates = append(updates, params)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d progress updates, want 2", len(updates))
		}
	}

	if updates[0].ProgressToken != "tok-1" || updates[0].Progress != 50 || updates[0].Total != 100 {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].Message != "done" || updates[1].Progress != 100 {
		t.Errorf("second update = %+v", updates[1])
	}
}

func TestServerProgressSuppressedWithoutToken(t *testing.T) {
	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddTool(&ToolDefinition{
		Name: "stepper",
		Handler: func(_ context.Context, _ json.RawMessage, _ *CancelToken, progress *ProgressNotifier) (*CallToolResult, error) {
			// The notifier is nil without a token; this must not panic.
			progress.Notify("halfway", 50)
			return &CallToolResult{}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.await(sess.request("1", MethodToolsCall, CallToolParams{Name: "stepper"}))
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %v", resp.Error)
	}

	select {
	case msg := <-sess.notifications:
		t.Errorf("received notification %q despite missing progress token", msg.Method)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerPromptGet(t *testing.T) {
	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddPrompt(&PromptDefinition{
		Name:      "scaffold_feature",
		Arguments: []PromptArgument{{Name: "feature", Required: true}},
		Handler: func(_ context.Context, args map[string]string, _ *CancelToken, _ *ProgressNotifier) (GetPromptResult, error) {
			return GetPromptResult{Messages: []PromptMessage{{
				Role:    RoleUser,
				Content: Content{Type: ContentTypeText, Text: "scaffold " + args["feature"]},
			}}}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddPrompt failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.await(sess.request("1", MethodPromptsGet, GetPromptParams{
		Name:      "scaffold_feature",
		Arguments: map[string]string{"feature": "auth"},
	}))
	if resp.Error != nil {
		t.Fatalf("prompts/get failed: %v", resp.Error)
	}
	var result GetPromptResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal prompt result: %v", err)
	}
	if len(result.Messages) != 1 || result.Messages[0].Content.Text != "scaffold auth" {
		t.Errorf("prompt result = %+v", result)
	}

	resp = sess.await(sess.request("2", MethodPromptsGet, GetPromptParams{Name: "scaffold_feature"}))
	if resp.Error == nil || resp.Error.Code != jsonRPCInvalidParamsCode {
		t.Errorf("missing required argument returned %v, want code %d", resp.Error, jsonRPCInvalidParamsCode)
	}
}

func TestServerShutdownDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	srv := NewServer(Info{Name: "test-server", Version: "0.1.0"}, ServerConfig{})
	err := srv.AddTool(&ToolDefinition{
		Name: "blocker",
		Handler: func(context.Context, json.RawMessage, *CancelToken, *ProgressNotifier) (*CallToolResult, error) {
			close(started)
			<-release
			return &CallToolResult{}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool failed: %v", err)
	}

	sess, shutdown := startServer(t, srv)
	defer shutdown()

	resp := sess.request("1", MethodToolsCall, CallToolParams{Name: "blocker"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown with blocked call returned %v, want deadline exceeded", err)
	}

	close(release)
	if msg := sess.await(resp); msg.Error != nil {
		t.Errorf("blocked call failed: %v", msg.Error)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after drain returned %v", err)
	}
}
