package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/rooms"
	"github.com/boardroom/pkg/models"
)

// SubmitMessageRequest is the body of a message submission.
type SubmitMessageRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// SubmitMessageResponse acknowledges that a message entered the room log.
// Deliberation runs asynchronously; poll the room state for the outcome.
type SubmitMessageResponse struct {
	RoomID   string `json:"room_id"`
	RecordID int64  `json:"record_id"`
	Status   string `json:"status"`
}

// RoomStateResponse is the public view of a room and its deliberation state.
type RoomStateResponse struct {
	RoomID             string           `json:"room_id"`
	Status             string           `json:"status"`
	Roster             []string         `json:"roster"`
	Phase              string           `json:"phase"`
	Turn               int              `json:"turn,omitempty"`
	Proposal           *models.Proposal `json:"proposal,omitempty"`
	LastRecordID       int64            `json:"last_record_id,omitempty"`
	CheckpointSequence int64            `json:"checkpoint_sequence,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (s *Server) submitMessage(c echo.Context) error {
	roomID := strings.TrimSpace(c.Param("room"))
	if roomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room id required")
	}

	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}

	ctx := c.Request().Context()

	// a known-closed room rejects up front; unknown rooms are created
	// lazily by the consumer on first delivery
	if room, err := s.registry.Get(ctx, roomID); err == nil && room.Status == models.RoomClosed {
		return echo.NewHTTPError(http.StatusConflict, "room is closed")
	}

	payload, err := json.Marshal(models.MessagePayload{
		Author:  actorFor(c, req.Author),
		Content: req.Content,
		RoomID:  roomID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode message")
	}

	recordID, err := s.log.Append(ctx, roomID, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Msg("log append failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message log unavailable")
	}

	return c.JSON(http.StatusAccepted, SubmitMessageResponse{
		RoomID:   roomID,
		RecordID: recordID,
		Status:   "queued",
	})
}

func (s *Server) getRoomState(c echo.Context) error {
	roomID := strings.TrimSpace(c.Param("room"))
	if roomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room id required")
	}

	ctx := c.Request().Context()

	room, roomErr := s.registry.Get(ctx, roomID)
	state, seq, cpErr := s.checkpoints.Restore(ctx, roomID)

	if errors.Is(roomErr, rooms.ErrNotFound) && errors.Is(cpErr, checkpoint.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	if roomErr != nil && !errors.Is(roomErr, rooms.ErrNotFound) {
		s.logger.Error().Err(roomErr).Str("room", roomID).Msg("room lookup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "room lookup failed")
	}

	resp := RoomStateResponse{
		RoomID: roomID,
		Status: string(models.RoomOpen),
		Phase:  string(models.PhaseIdle),
	}
	if room != nil {
		resp.Status = string(room.Status)
		resp.Roster = room.Roster
		resp.UpdatedAt = room.UpdatedAt
	}

	switch {
	case cpErr == nil:
		resp.Phase = string(state.Phase)
		resp.Turn = state.Turn
		resp.Proposal = state.Proposal
		resp.LastRecordID = state.LastRecordID
		resp.CheckpointSequence = seq
		if state.UpdatedAt.After(resp.UpdatedAt) {
			resp.UpdatedAt = state.UpdatedAt
		}
	case errors.Is(cpErr, checkpoint.ErrNotFound):
		// room exists but has never deliberated; idle view is fine
	case errors.Is(cpErr, checkpoint.ErrCorrupt):
		// surface the room as degraded rather than failing the read
		resp.Status = string(models.RoomDegraded)
	default:
		s.logger.Error().Err(cpErr).Str("room", roomID).Msg("state restore failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "state restore failed")
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listRooms(c echo.Context) error {
	open, err := s.registry.ListOpen(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("room listing failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "room listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"rooms": open,
		"count": len(open),
	})
}
