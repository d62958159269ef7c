// Package httpapi exposes game lifecycle and intents over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/cardtable/internal/platform/errors"
	"github.com/louisbranch/cardtable/internal/platform/logging"
	"github.com/louisbranch/cardtable/internal/platform/requestctx"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
	"github.com/louisbranch/cardtable/internal/services/table/intent"
)

// Submitter runs intents through the intent pipeline.
type Submitter interface {
	Submit(ctx context.Context, gameID string, in rules.Intent, broadcast intent.BroadcastFunc) intent.Result
}

// Config tunes the handler.
type Config struct {
	// AllowGodView lets visibility.GodViewer read unfiltered views.
	AllowGodView bool
}

// Handler serves the table HTTP API.
type Handler struct {
	cfg       Config
	store     *gamestore.Store
	submitter Submitter
	broadcast intent.BroadcastFunc
	sockets   http.Handler
	scheduler intent.Scheduler
	logger    *zap.Logger
}

// NewHandler creates a handler. broadcast fans committed changes out to
// connected viewers and sockets serves /ws; either may be nil.
func NewHandler(cfg Config, store *gamestore.Store, submitter Submitter, broadcast intent.BroadcastFunc, sockets http.Handler, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	return &Handler{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		broadcast: broadcast,
		sockets:   sockets,
		logger:    logger,
	}
}

// SetScheduler lets newly created all-AI tables start playing.
func (h *Handler) SetScheduler(s intent.Scheduler) {
	h.scheduler = s
}

// Register mounts the routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/rules", h.ListRules)
	e.POST("/games", h.CreateGame)
	e.DELETE("/games/:id", h.CloseGame)
	e.GET("/games/:id/view", h.GetView)
	e.POST("/games/:id/intents", h.SubmitIntent)
	if h.sockets != nil {
		e.GET("/ws", echo.WrapHandler(h.sockets))
	}
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) ListRules(c echo.Context) error {
	return c.JSON(http.StatusOK, RulesResponse{Rules: h.store.Rules().IDs()})
}

func (h *Handler) CreateGame(c echo.Context) error {
	var req CreateGameRequest
	if err := c.Bind(&req); err != nil {
		return h.mapError(c, apperrors.Wrap(apperrors.CodeGameInvalidSetup, "decode create game request", err))
	}
	initial, err := h.store.InitGame(c.Request().Context(), gamestore.CreateParams{
		GameID:  req.GameID,
		RulesID: req.RulesID,
		Players: req.Players,
		Seed:    req.Seed,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	if h.scheduler != nil {
		h.scheduler.MaybeScheduleAITurn(initial.GameID, h.broadcast)
	}
	return c.JSON(http.StatusCreated, GameResponse{
		GameID:  initial.GameID,
		RulesID: initial.RulesID,
		Players: initial.Players,
	})
}

func (h *Handler) CloseGame(c echo.Context) error {
	if err := h.store.CloseGame(c.Param("id")); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetView returns the game as ?viewer= sees it.
func (h *Handler) GetView(c echo.Context) error {
	snap, err := h.store.Snapshot(c.Param("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	viewer := c.QueryParam("viewer")
	if !h.mayView(snap, viewer) {
		return h.mapError(c, apperrors.New(apperrors.CodeViewerForbidden, "viewer may not see this game"))
	}
	return c.JSON(http.StatusOK, visibility.BuildView(snap.State, snap.Salt, viewer))
}

// SubmitIntent runs the body as an intent of ?viewer=. Card ids are in the
// viewer's id space, exactly as the view endpoint returns them.
func (h *Handler) SubmitIntent(c echo.Context) error {
	var in rules.Intent
	if err := c.Bind(&in); err != nil {
		return h.mapError(c, apperrors.Wrap(apperrors.CodeIntentMalformed, "decode intent", err))
	}
	in.PlayerID = c.QueryParam("viewer")
	res := h.submitter.Submit(c.Request().Context(), c.Param("id"), in, h.broadcast)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
		if res.Reason == intent.ReasonGameNotFound {
			status = http.StatusNotFound
		}
	}
	return c.JSON(status, IntentResponse{
		Success: res.Success,
		Reason:  res.Reason,
		Events:  len(res.Events),
		Version: lastVersion(res.Events),
	})
}

func (h *Handler) mayView(snap gamestore.Snapshot, viewer string) bool {
	if viewer == visibility.GodViewer {
		return h.cfg.AllowGodView
	}
	_, seated := snap.State.Player(viewer)
	return seated
}

func (h *Handler) mapError(c echo.Context, err error) error {
	requestID := requestctx.RequestIDFromContext(c.Request().Context())
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown {
		switch {
		case errors.Is(err, gamestore.ErrGameNotFound):
			code = apperrors.CodeGameNotFound
		case errors.Is(err, gamestore.ErrGameExists):
			code = apperrors.CodeGameExists
		case errors.Is(err, gamestore.ErrTooManyGames):
			code = apperrors.CodeGameLimitReached
		case errors.Is(err, gamestore.ErrInvalidSetup):
			code = apperrors.CodeGameInvalidSetup
		case errors.Is(err, rules.ErrRulesNotFound):
			code = apperrors.CodeRulesUnknown
		}
	}
	status := code.HTTPStatus()
	message := err.Error()
	if code == apperrors.CodeUnknown {
		h.logger.Error("request failed", zap.String("request_id", requestID), zap.Error(err))
		message = "internal error"
	}
	return c.JSON(status, ErrorResponse{Error: message, Code: string(code), RequestID: requestID})
}
