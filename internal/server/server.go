package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/games"
	"github.com/park285/chess-indexer/internal/ingest"
	"github.com/park285/chess-indexer/internal/kv"
	"github.com/park285/chess-indexer/pkg/indexdto"
)

const maxBatchBody = 8 << 20

type GameReader interface {
	GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error)
	ListRecent(ctx context.Context, kind games.RecentKind, limit int, includeMoves bool) ([]*domain.Game, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

type ProgressReader interface {
	GetHeight(ctx context.Context) (uint64, error)
}

type BatchIngester interface {
	Ingest(ctx context.Context, b *domain.Batch) (*ingest.Result, error)
}

type Deps struct {
	Games    GameReader
	Accounts AccountReader
	Progress ProgressReader
	Ingester BatchIngester
	Secret   string
	Logger   *zap.Logger
	// RequestTimeout bounds each request's context. Zero means 30s.
	RequestTimeout time.Duration
}

// Server is the HTTP surface of the indexer.
type Server struct {
	deps    Deps
	logger  *zap.Logger
	timeout time.Duration
	srv     *fasthttp.Server
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Server{deps: deps, logger: logger, timeout: timeout}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler,
		Name:               "chess-indexer",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxRequestBodySize: maxBatchBody,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// Handler routes a request. Exposed for in-memory tests.
func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	path := string(rc.Path())
	rc.Response.Header.Set("Access-Control-Allow-Origin", "*")
	switch {
	case rc.IsOptions():
		rc.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rc.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		rc.SetStatusCode(fasthttp.StatusNoContent)
	case path == "/batch" && rc.IsPost():
		s.handleBatch(ctx, rc)
	case path == "/info" && rc.IsGet():
		s.handleInfo(ctx, rc)
	case strings.HasPrefix(path, "/games/game/") && rc.IsGet():
		s.handleGame(ctx, rc, strings.TrimPrefix(path, "/games/game/"))
	case strings.HasPrefix(path, "/games/recent/") && rc.IsGet():
		s.handleRecent(ctx, rc, strings.TrimPrefix(path, "/games/recent/"))
	case strings.HasPrefix(path, "/accounts/account/") && rc.IsGet():
		s.handleAccount(ctx, rc, strings.TrimPrefix(path, "/accounts/account/"))
	case strings.HasPrefix(path, "/accounts/") && rc.IsGet():
		s.handleAccount(ctx, rc, strings.TrimPrefix(path, "/accounts/"))
	case path == "/healthz":
		rc.SetStatusCode(fasthttp.StatusNoContent)
	default:
		rc.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleBatch(ctx context.Context, rc *fasthttp.RequestCtx) {
	if !s.authorized(rc) {
		s.writeError(rc, fasthttp.StatusUnauthorized, indexdto.DomainError{Code: indexdto.CodeUnauthorized, Message: "Unauthorized"})
		return
	}
	b, err := domain.DecodeBatch(rc.PostBody())
	if err != nil {
		s.logger.Warn("batch_rejected", zap.Error(err))
		s.writeError(rc, fasthttp.StatusBadRequest, indexdto.DomainError{Code: indexdto.CodeBadRequest, Message: err.Error()})
		return
	}
	res, err := s.deps.Ingester.Ingest(ctx, b)
	if err != nil {
		s.logger.Error("batch_failed", zap.Uint64("height", b.BlockHeight), zap.Error(err))
		s.writeError(rc, fasthttp.StatusInternalServerError, indexdto.DomainError{
			Code:      indexdto.CodeStorage,
			Message:   "batch ingestion failed",
			Retryable: true,
		})
		return
	}
	rc.Response.Header.Set("X-Batch-Id", res.BatchID)
	rc.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleInfo(ctx context.Context, rc *fasthttp.RequestCtx) {
	h, err := s.deps.Progress.GetHeight(ctx)
	if err != nil {
		s.failRead(rc, err)
		return
	}
	s.writeJSON(rc, indexdto.InfoView{LastBlockHeight: h})
}

func (s *Server) handleGame(ctx context.Context, rc *fasthttp.RequestCtx, raw string) {
	id, err := domain.ParseGameID(unescape(raw))
	if err != nil {
		s.writeError(rc, fasthttp.StatusBadRequest, indexdto.DomainError{Code: indexdto.CodeBadRequest, Message: err.Error()})
		return
	}
	g, err := s.deps.Games.GetGame(ctx, id)
	if err != nil {
		s.failRead(rc, err)
		return
	}
	s.writeJSON(rc, indexdto.NewGameView(g, true))
}

func (s *Server) handleRecent(ctx context.Context, rc *fasthttp.RequestCtx, rawKind string) {
	kind, err := games.ParseRecentKind(strings.Trim(rawKind, "/"))
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	args := rc.QueryArgs()
	limit := games.MaxRecent
	if v := args.Peek("limit"); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil || n <= 0 || n > games.MaxRecent {
			s.writeError(rc, fasthttp.StatusBadRequest, indexdto.DomainError{Code: indexdto.CodeBadRequest, Message: "limit must be between 1 and 25"})
			return
		}
		limit = n
	}
	includeMoves := false
	if v := args.Peek("moves"); len(v) > 0 {
		b, err := strconv.ParseBool(string(v))
		if err != nil {
			s.writeError(rc, fasthttp.StatusBadRequest, indexdto.DomainError{Code: indexdto.CodeBadRequest, Message: "moves must be a boolean"})
			return
		}
		includeMoves = b
	}
	list, err := s.deps.Games.ListRecent(ctx, kind, limit, includeMoves)
	if err != nil {
		s.failRead(rc, err)
		return
	}
	s.writeJSON(rc, indexdto.NewGameViews(list, includeMoves))
}

func (s *Server) handleAccount(ctx context.Context, rc *fasthttp.RequestCtx, raw string) {
	accountID := strings.TrimSpace(unescape(raw))
	if accountID == "" || strings.Contains(accountID, "/") {
		rc.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	acc, err := s.deps.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		s.failRead(rc, err)
		return
	}
	s.writeJSON(rc, indexdto.NewAccountView(acc))
}

func (s *Server) authorized(rc *fasthttp.RequestCtx) bool {
	secret := s.deps.Secret
	if secret == "" {
		return false
	}
	auth := string(rc.Request.Header.Peek(fasthttp.HeaderAuthorization))
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) == 1
}

// failRead maps read errors: not found has no body, everything else is a 500 with a DomainError.
func (s *Server) failRead(rc *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rc.SetStatusCode(fasthttp.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidEvent):
		s.writeError(rc, fasthttp.StatusBadRequest, indexdto.DomainError{Code: indexdto.CodeBadRequest, Message: err.Error()})
	default:
		reqID := uuid.NewString()
		s.logger.Error("read_failed",
			zap.String("request_id", reqID),
			zap.String("path", string(rc.Path())),
			zap.Error(err),
		)
		s.writeError(rc, fasthttp.StatusInternalServerError, indexdto.DomainError{
			Code:      codeFor(err),
			Message:   "internal error (request " + reqID + ")",
			Retryable: errors.Is(err, kv.ErrStorage),
		})
	}
}

func codeFor(err error) string {
	if errors.Is(err, kv.ErrStorage) {
		return indexdto.CodeStorage
	}
	return indexdto.CodeInternal
}

func (s *Server) writeJSON(rc *fasthttp.RequestCtx, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode_response_failed", zap.Error(err))
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	rc.SetContentType("application/json")
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetBody(raw)
}

func (s *Server) writeError(rc *fasthttp.RequestCtx, status int, body indexdto.DomainError) {
	raw, _ := json.Marshal(body)
	rc.SetContentType("application/json")
	rc.SetStatusCode(status)
	rc.SetBody(raw)
}

// unescape decodes path segments that arrive still percent-encoded.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
