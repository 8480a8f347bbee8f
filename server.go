package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Server dispatches JSON-RPC requests arriving on a session to its registered
// tools, resources, and prompts. Each request runs on its own goroutine with
// cancellation, admission control, and a deadline layered around the handler,
// and produces exactly one response.
type Server struct {
	info   Info
	cfg    ServerConfig
	logger *slog.Logger

	tools     *ToolRegistry
	resources *ResourceRegistry
	prompts   *PromptRegistry

	cancels *cancelRegistry
	limiter *ConcurrencyLimiter

	wg sync.WaitGroup

	mu          sync.Mutex
	initialized bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for dispatch diagnostics. A "server"
// component attribute is attached.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// NewServer creates a server with the given identity and configuration.
// Definitions are registered with AddTool, AddResource, AddResourceTemplate,
// and AddPrompt before Serve is called.
func NewServer(info Info, cfg ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		info:      info,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default().With(slog.String("component", "server")),
		tools:     NewToolRegistry(),
		resources: NewResourceRegistry(),
		prompts:   NewPromptRegistry(),
		cancels:   newCancelRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewConcurrencyLimiter(s.cfg.MaxConcurrentCalls, s.cfg.ToolConcurrency)
	return s
}

// AddTool registers a tool definition. A definition carrying its own
// MaxConcurrency overrides the configured per-tool limit.
func (s *Server) AddTool(def *ToolDefinition) error {
	if err := s.tools.Register(def); err != nil {
		return err
	}
	if def.MaxConcurrency > 0 {
		s.limiter.setToolLimit(def.Name, def.MaxConcurrency)
	}
	return nil
}

// AddResource registers a fixed-URI resource definition.
func (s *Server) AddResource(def *ResourceDefinition) error {
	return s.resources.Register(def)
}

// AddResourceTemplate registers a resource template definition.
func (s *Server) AddResourceTemplate(def *ResourceTemplateDefinition) error {
	return s.resources.RegisterTemplate(def)
}

// AddPrompt registers a prompt definition.
func (s *Server) AddPrompt(def *PromptDefinition) error {
	return s.prompts.Register(def)
}

// Serve consumes messages from the session until it is exhausted or ctx is
// done, then waits for in-flight requests to drain. The session itself is not
// stopped; that remains the caller's responsibility.
func (s *Server) Serve(ctx context.Context, sess Session) error {
	s.logger.Info("session started",
		slog.String("sessionID", sess.ID()),
		slog.String("server", s.info.Name))

	for msg := range sess.Messages() {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		default:
		}

		switch msg.kind() {
		case kindRequest:
			s.wg.Add(1)
			go func(msg JSONRPCMessage) {
				defer s.wg.Done()
				s.handleRequest(ctx, sess, msg)
			}(msg)
		case kindNotification:
			s.handleNotification(msg)
		case kindResponse:
			s.logger.Warn("dropping unexpected response message", slog.String("id", string(msg.ID)))
		default:
			s.logger.Warn("dropping message that is neither request nor notification")
		}
	}

	s.wg.Wait()
	s.logger.Info("session ended", slog.String("sessionID", sess.ID()))
	return nil
}

// Shutdown waits for in-flight requests to drain, or returns the context's
// error if it expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drained:
		return nil
	}
}

func (s *Server) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case methodNotificationsInitialized:
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.logger.Info("client completed initialization")
	case MethodCancelRequest:
		var params cancelRequestParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("dropping malformed cancel notification", slog.String("err", err.Error()))
			return
		}
		s.logger.Info("cancelling request",
			slog.String("requestID", string(params.ID)),
			slog.String("reason", params.Reason))
		s.cancels.cancel(params.ID)
	default:
		// Unknown notifications are dropped without a response, per JSON-RPC.
		s.logger.Debug("dropping unknown notification", slog.String("method", msg.Method))
	}
}

// handleRequest routes a single request and sends exactly one response for it.
func (s *Server) handleRequest(ctx context.Context, sess Session, msg JSONRPCMessage) {
	if msg.Method != methodInitialize && msg.Method != methodPing {
		s.mu.Lock()
		ready := s.initialized
		s.mu.Unlock()
		if !ready {
			// Tolerated: some clients start issuing requests before sending
			// notifications/initialized.
			s.logger.Debug("request before initialized notification",
				slog.String("method", msg.Method))
		}
	}

	var result json.RawMessage
	var err error

	switch msg.Method {
	case methodPing:
		result = json.RawMessage("{}")
	case methodInitialize:
		result, err = s.handleInitialize(msg.Params)
	case MethodToolsList:
		result, err = marshalResult(ListToolsResult{Tools: s.tools.List()})
	case MethodToolsCall:
		result, err = s.handleToolCall(ctx, sess, msg)
	case MethodResourcesList:
		result, err = marshalResult(ListResourcesResult{Resources: s.resources.List()})
	case MethodResourcesTemplatesList:
		result, err = marshalResult(ListResourceTemplatesResult{Templates: s.resources.ListTemplates()})
	case MethodResourcesRead:
		result, err = s.handleResourceRead(ctx, sess, msg)
	case MethodPromptsList:
		result, err = marshalResult(ListPromptsResult{Prompts: s.prompts.List()})
	case MethodPromptsGet:
		result, err = s.handlePromptGet(ctx, sess, msg)
	default:
		err = MethodNotFoundError{Method: msg.Method}
	}

	if err != nil {
		s.sendError(ctx, sess, msg, err)
		return
	}
	s.sendResult(ctx, sess, msg.ID, result)
}

func (s *Server) handleInitialize(raw json.RawMessage) (json.RawMessage, error) {
	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, InvalidParamsError{Cause: err.Error()}
		}
	}
	s.logger.Info("initializing session",
		slog.String("clientName", params.ClientInfo.Name),
		slog.String("clientProtocolVersion", params.ProtocolVersion))

	caps := ServerCapabilities{}
	if s.tools.Len() > 0 {
		caps.Tools = &ToolsCapability{}
	}
	if s.resources.Len() > 0 {
		caps.Resources = &ResourcesCapability{}
	}
	if s.prompts.Len() > 0 {
		caps.Prompts = &PromptsCapability{}
	}

	return marshalResult(initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.info,
		Instructions:    s.cfg.Instructions,
	})
}

// handleToolCall runs the full tool pipeline: parse, look up, validate,
// register for cancellation, admit through the limiter, then execute under a
// deadline. A cancel arriving before the response is sent wins over a
// successful result.
func (s *Server) handleToolCall(ctx context.Context, sess Session, msg JSONRPCMessage) (json.RawMessage, error) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, InvalidParamsError{Cause: err.Error()}
	}
	if params.Name == "" {
		return nil, InvalidParamsError{MissingFields: []string{"name"}}
	}

	def, ok := s.tools.Get(params.Name)
	if !ok {
		return nil, ToolNotFoundError{Name: params.Name}
	}

	args, err := def.validateArguments(params.Arguments)
	if err != nil {
		return nil, err
	}

	token := newCancelToken(msg.ID)
	s.cancels.register(msg.ID, token)
	defer s.cancels.remove(msg.ID)

	progress := s.progressNotifier(sess, params.Meta.ProgressToken)

	start := time.Now()
	var result json.RawMessage
	err = s.limiter.Execute(params.Name, func() error {
		var execErr error
		result, execErr = withTimeout(ctx, "tools/call:"+params.Name, s.cfg.timeoutFor(def),
			func(ctx context.Context) (json.RawMessage, error) {
				if err := token.Err(); err != nil {
					return nil, err
				}
				res, err := s.tools.Call(ctx, params.Name, args, token, progress)
				if err != nil {
					return nil, err
				}
				return marshalResult(res)
			})
		return execErr
	})

	if err == nil {
		if cancelErr := token.Err(); cancelErr != nil {
			err = cancelErr
		}
	}

	s.logger.Info("tool call finished",
		slog.String("tool", params.Name),
		slog.String("requestID", string(msg.ID)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil))
	return result, err
}

func (s *Server) handleResourceRead(ctx context.Context, sess Session, msg JSONRPCMessage) (json.RawMessage, error) {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, InvalidParamsError{Cause: err.Error()}
	}
	if params.URI == "" {
		return nil, InvalidParamsError{MissingFields: []string{"uri"}}
	}

	token := newCancelToken(msg.ID)
	s.cancels.register(msg.ID, token)
	defer s.cancels.remove(msg.ID)

	progress := s.progressNotifier(sess, params.Meta.ProgressToken)

	result, err := withTimeout(ctx, "resources/read:"+params.URI, s.cfg.DefaultTimeout,
		func(ctx context.Context) (json.RawMessage, error) {
			if err := token.Err(); err != nil {
				return nil, err
			}
			res, err := s.resources.Read(ctx, params.URI, token, progress)
			if err != nil {
				return nil, err
			}
			return marshalResult(res)
		})

	if err == nil {
		if cancelErr := token.Err(); cancelErr != nil {
			err = cancelErr
		}
	}
	return result, err
}

func (s *Server) handlePromptGet(ctx context.Context, sess Session, msg JSONRPCMessage) (json.RawMessage, error) {
	var params GetPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, InvalidParamsError{Cause: err.Error()}
	}
	if params.Name == "" {
		return nil, InvalidParamsError{MissingFields: []string{"name"}}
	}

	def, ok := s.prompts.Get(params.Name)
	if !ok {
		return nil, PromptNotFoundError{Name: params.Name}
	}
	if err := def.validateArguments(params.Arguments); err != nil {
		return nil, err
	}

	token := newCancelToken(msg.ID)
	s.cancels.register(msg.ID, token)
	defer s.cancels.remove(msg.ID)

	progress := s.progressNotifier(sess, params.Meta.ProgressToken)

	return withTimeout(ctx, "prompts/get:"+params.Name, s.cfg.DefaultTimeout,
		func(ctx context.Context) (json.RawMessage, error) {
			res, err := s.prompts.Call(ctx, params.Name, params.Arguments, token, progress)
			if err != nil {
				return nil, err
			}
			return marshalResult(res)
		})
}

// progressNotifier builds a notifier bound to the session, or nil when the
// peer supplied no progress token. A nil notifier drops updates silently.
func (s *Server) progressNotifier(sess Session, token MustString) *ProgressNotifier {
	if token == "" {
		return nil
	}
	return &ProgressNotifier{
		token:       token,
		sendTimeout: defaultSendTimeout,
		send:        sess.Send,
		logger:      s.logger.With(slog.String("component", "progress")),
	}
}

func (s *Server) sendResult(ctx context.Context, sess Session, id MustString, result json.RawMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	if err := sess.Send(sendCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}); err != nil {
		s.logger.Error("failed to send response",
			slog.String("requestID", string(id)),
			slog.String("err", err.Error()))
	}
}

func (s *Server) sendError(ctx context.Context, sess Session, msg JSONRPCMessage, err error) {
	if !IsKnownError(err) {
		s.logger.Error("request failed with unclassified error",
			slog.String("method", msg.Method),
			slog.String("requestID", string(msg.ID)),
			slog.String("err", err.Error()))
	} else {
		s.logger.Info("request failed",
			slog.String("method", msg.Method),
			slog.String("requestID", string(msg.ID)),
			slog.String("err", err.Error()))
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	if sendErr := sess.Send(sendCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Error:   toWireError(err, msg.ID),
	}); sendErr != nil {
		s.logger.Error("failed to send error response",
			slog.String("requestID", string(msg.ID)),
			slog.String("err", sendErr.Error()))
	}
}

func marshalResult(v any) (json.RawMessage, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return bs, nil
}
