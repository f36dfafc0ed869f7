package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const devTokenTTL = 24 * time.Hour

type handlers struct {
	orch   *orch.Orchestrator
	cfg    *config.Config
	tokens auth.Issuer
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, errorResponse{Error: orch.CodeInternal, Message: "internal error"})
		return
	}
	c.JSON(status, errorResponse{Error: orch.ErrorCode(err), Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: orch.CodeBadPayload, Message: err.Error()})
}

func roomID(c *gin.Context) domain.RoomID { return domain.RoomID(c.Param("id")) }

func targetUser(c *gin.Context) (domain.UserID, bool) {
	uid, err := domain.ParseUserID(c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return uid, true
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"online":      h.orch.Presence.Online(),
		"connections": h.orch.Conns.Len(),
	})
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.ICEServers(h.cfg.ICEServers)})
}

type loginRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	uid, err := domain.ParseUserID(req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(userKey, string(uid))
	if err := sess.Save(); err != nil {
		writeError(c, err)
		return
	}
	token, err := h.tokens.Issue(uid, devTokenTTL)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(uid)).Msg("dev session started")
	c.JSON(http.StatusOK, gin.H{"userId": uid, "token": token})
}

func (h *handlers) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	if err := sess.Save(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listRooms(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	rooms, err := h.orch.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type createRoomRequest struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (h *handlers) createRoom(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind, err := domain.ParseRoomKind(req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	room, err := h.orch.CreateRoom(c.Request.Context(), uid, kind, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *handlers) randomRoom(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	room, err := h.orch.RandomRoom(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) getRoom(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	room, err := h.orch.GetRoom(c.Request.Context(), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type updateRoomRequest struct {
	Admin *string `json:"admin"`
	Title *string `json:"title"`
	Kind  *string `json:"kind"`
}

func (req updateRoomRequest) patch() (domain.RoomPatch, error) {
	var p domain.RoomPatch
	if req.Admin != nil {
		uid, err := domain.ParseUserID(*req.Admin)
		if err != nil {
			return p, err
		}
		p.Admin = &uid
	}
	if req.Kind != nil {
		kind, err := domain.ParseRoomKind(*req.Kind)
		if err != nil {
			return p, err
		}
		p.Kind = &kind
	}
	p.Title = req.Title
	return p, nil
}

func (h *handlers) updateRoom(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(c, err)
		return
	}
	room, err := h.orch.UpdateRoom(c.Request.Context(), uid, roomID(c), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) deleteRoom(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.orch.DeleteRoom(c.Request.Context(), uid, roomID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type membershipResponse struct {
	RoomID domain.RoomID     `json:"roomId"`
	UserID domain.UserID     `json:"userId"`
	State  domain.Membership `json:"state"`
}

func (h *handlers) requestJoin(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	m, err := h.orch.RequestJoin(c.Request.Context(), uid, roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, membershipResponse{RoomID: roomID(c), UserID: uid, State: m})
}

func (h *handlers) leaveRoom(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.orch.LeaveRoom(c.Request.Context(), uid, roomID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, membershipResponse{RoomID: roomID(c), UserID: uid, State: domain.MemberNone})
}

func (h *handlers) approveJoin(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	target, ok := targetUser(c)
	if !ok {
		return
	}
	room, err := h.orch.ApproveJoin(c.Request.Context(), uid, roomID(c), target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) rejectJoin(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	target, ok := targetUser(c)
	if !ok {
		return
	}
	removed, err := h.orch.RejectJoin(c.Request.Context(), uid, roomID(c), target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handlers) removeMember(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	target, ok := targetUser(c)
	if !ok {
		return
	}
	room, err := h.orch.RemoveMember(c.Request.Context(), uid, roomID(c), target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}
