package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"

	"llmgate/internal/balancer"
	"llmgate/internal/config"
	"llmgate/internal/registry"
	"llmgate/internal/stream"
	"llmgate/internal/transform"
	"llmgate/internal/transform/anthropic"
	"llmgate/internal/transform/factory"
	"llmgate/internal/transform/openai"
	"llmgate/internal/unified"
)

const defaultLongContextThreshold = 60000

// ProxyHandler terminates client requests on either protocol surface,
// routes them to an upstream binding and translates both directions
// through the unified model.
type ProxyHandler struct {
	config   *config.Manager
	registry *registry.Registry
	sessions *stream.Store
	logger   *slog.Logger
	client   *http.Client

	strategies map[string]balancer.Strategy

	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
}

func NewProxyHandler(cfg *config.Manager, reg *registry.Registry, sessions *stream.Store, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   cfg,
		registry: reg,
		sessions: sessions,
		logger:   logger,
		client:   &http.Client{},
		strategies: map[string]balancer.Strategy{
			balancer.StrategyRoundRobin: balancer.NewRoundRobin(),
			balancer.StrategyRandom:     balancer.Random{},
			balancer.StrategyHybrid:     balancer.Hybrid{},
		},
	}
}

// protocolForPath maps the request path onto the client's protocol.
func protocolForPath(path string) string {
	switch {
	case strings.HasSuffix(path, "/messages"):
		return anthropic.ProtocolName
	case strings.HasSuffix(path, "/chat/completions"):
		return openai.ProtocolName
	default:
		return ""
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientProtocol := protocolForPath(r.URL.Path)
	if clientProtocol == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodPost {
		writeProtocolError(w, clientProtocol, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusBadRequest, "failed to read request body")
		return
	}

	clientT, err := factory.New(clientProtocol)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusInternalServerError, err.Error())
		return
	}

	req, err := clientT.RequestToUnified(body)
	if err != nil {
		writeProtocolError(w, clientProtocol, statusFor(err), err.Error())
		return
	}

	cfg := h.config.Get()
	requestedModel := req.Model

	logical, candidates := h.route(req, cfg)
	if len(candidates) == 0 {
		writeProtocolError(w, clientProtocol, http.StatusNotFound,
			"model "+logical+" has no available bindings")
		return
	}

	binding := h.strategy(cfg.Router.Strategy).Select(logical, candidates)
	if binding == nil {
		writeProtocolError(w, clientProtocol, http.StatusNotFound,
			"model "+logical+" has no available bindings")
		return
	}

	upstreamT, err := factory.New(binding.Protocol)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusInternalServerError, err.Error())
		return
	}

	req.Model = binding.Model

	upstreamBody, err := upstreamT.RequestFromUnified(req)
	if err != nil {
		writeProtocolError(w, clientProtocol, statusFor(err), err.Error())
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, binding.APIBase, bytes.NewReader(upstreamBody))
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusInternalServerError, "failed to create upstream request")
		return
	}

	h.setUpstreamHeaders(upstreamReq, binding, req.Stream)

	h.logger.Info("proxying request",
		"model", logical,
		"provider", binding.Provider,
		"upstream_model", binding.Model,
		"client_protocol", clientProtocol,
		"upstream_protocol", binding.Protocol,
		"stream", req.Stream,
	)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if isEventStream(resp) {
		h.streamResponse(w, resp, upstreamT, clientT, clientProtocol, requestedModel, logical, binding)
	} else {
		h.jsonResponse(w, resp, upstreamT, clientT, clientProtocol, requestedModel, logical, binding)
	}
}

// route picks the logical model for a request. Requests whose estimated
// input exceeds the long-context threshold divert to the configured
// long-context model; unknown logical names fall back to the router
// default when one is set.
func (h *ProxyHandler) route(req *unified.ChatRequest, cfg *config.Config) (string, []*registry.Binding) {
	logical := req.Model

	if cfg.Router.LongContext != "" {
		threshold := cfg.Router.LongContextThreshold
		if threshold == 0 {
			threshold = defaultLongContextThreshold
		}

		if h.estimateInputTokens(req) > threshold {
			logical = cfg.Router.LongContext
		}
	}

	candidates := h.registry.Candidates(logical)
	if len(candidates) == 0 && cfg.Router.Default != "" && logical != cfg.Router.Default {
		logical = cfg.Router.Default
		candidates = h.registry.Candidates(logical)
	}

	return logical, candidates
}

func (h *ProxyHandler) strategy(name string) balancer.Strategy {
	if s, ok := h.strategies[name]; ok {
		return s
	}

	return h.strategies[balancer.StrategyRoundRobin]
}

// estimateInputTokens approximates the prompt size for routing. Exact
// counts come back from the upstream in usage.
func (h *ProxyHandler) estimateInputTokens(req *unified.ChatRequest) int {
	h.encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			h.logger.Error("failed to load token encoding", "error", err)
			return
		}

		h.encoding = enc
	})

	if h.encoding == nil {
		return 0
	}

	var sb strings.Builder
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			sb.WriteString(part.Text)
		}

		for _, call := range msg.ToolCalls {
			sb.WriteString(call.Arguments)
		}
	}

	return len(h.encoding.Encode(sb.String(), nil, nil))
}

func (h *ProxyHandler) setUpstreamHeaders(req *http.Request, binding *registry.Binding, streaming bool) {
	req.Header.Set("Content-Type", "application/json")

	switch binding.Protocol {
	case anthropic.ProtocolName:
		if binding.APIKey != "" {
			req.Header.Set("x-api-key", binding.APIKey)
		}

		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		if binding.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+binding.APIKey)
		}
	}

	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}

func (h *ProxyHandler) streamResponse(w http.ResponseWriter, resp *http.Response,
	upstreamT, clientT transform.Transformer, clientProtocol, requestedModel, logical string,
	binding *registry.Binding,
) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusBadGateway, "decompression error: "+err.Error())
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	session := h.sessions.Open(upstreamT, clientT, requestedModel)
	defer h.sessions.Remove(session.ID)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		// Event names are redundant here; every vendor payload carries
		// its own discriminator. Comments keep the connection warm.
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		frames, err := session.Translate([]byte(payload))
		if err != nil {
			h.logger.Error("stream translation failed", "session", session.ID, "error", err)
			continue
		}

		for _, frame := range frames {
			if _, err := w.Write(frame); err != nil {
				h.logger.Warn("client write failed", "session", session.ID, "error", err)
				return
			}
		}

		if len(frames) > 0 {
			h.flushResponse(w)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("stream read error", "session", session.ID, "error", err)
	}

	if err := session.Err(); err != nil {
		h.logger.Warn("upstream reported stream error", "session", session.ID, "error", err)
	}

	h.logCompletion(binding, logical, session.Usage())
}

func (h *ProxyHandler) jsonResponse(w http.ResponseWriter, resp *http.Response,
	upstreamT, clientT transform.Transformer, clientProtocol, requestedModel, logical string,
	binding *registry.Binding,
) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusBadGateway, "decompression error: "+err.Error())
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusBadGateway, "failed to read upstream response")
		return
	}

	unifiedResp, err := upstreamT.ResponseToUnified(respBody)
	if err != nil {
		status := resp.StatusCode
		if status == http.StatusOK {
			status = http.StatusBadGateway
		}

		h.logger.Error("upstream error response", "model", logical, "provider", binding.Provider,
			"status", resp.StatusCode, "error", err)
		writeProtocolError(w, clientProtocol, status, err.Error())

		return
	}

	// Clients see the logical name they asked for, not the binding's
	// concrete model.
	unifiedResp.Model = requestedModel

	clientBody, err := clientT.ResponseFromUnified(unifiedResp)
	if err != nil {
		writeProtocolError(w, clientProtocol, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if _, err := w.Write(clientBody); err != nil {
		h.logger.Warn("client write failed", "error", err)
	}

	h.logCompletion(binding, logical, unifiedResp.Usage)
}

func (h *ProxyHandler) logCompletion(binding *registry.Binding, logical string, usage *unified.Usage) {
	fields := []any{
		"model", logical,
		"provider", binding.Provider,
		"upstream_model", binding.Model,
	}

	if usage != nil {
		fields = append(fields,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
		)

		if binding.Pricing != nil {
			cost := binding.Pricing.Cost(*usage)
			fields = append(fields,
				"cost_usd", cost.Total,
				"pricing_mode", binding.Pricing.Mode(),
			)
		}
	}

	h.logger.Info("completed request", fields...)
}

func (h *ProxyHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func (h *ProxyHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
