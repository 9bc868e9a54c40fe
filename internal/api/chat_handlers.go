// internal/api/chat_handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/models"
)

// SubmitMessageRequest 用户消息
type SubmitMessageRequest struct {
	Text string `json:"text"`
}

// busyCode names which pipeline refused the request.
func busyCode(err error) string {
	switch {
	case errors.Is(err, conversation.ErrTurnInProgress):
		return ErrorTurnInProgress
	case errors.Is(err, conversation.ErrImageInProgress):
		return ErrorImageInProgress
	default:
		return ErrorSessionBusy
	}
}

func (h *Handler) session(c *gin.Context) (*conversation.Session, bool) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return nil, false
	}
	return s, true
}

// ListMessages 返回场景的消息列表（含占位消息）
func (h *Handler) ListMessages(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, s.Messages())
}

// SubmitMessage accepts a user line and answers 202 while the reply is
// generated in the background. With ?wait=true it blocks until the turn
// resolves and answers 200 with the reply.
func (h *Handler) SubmitMessage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid message", err.Error())
		return
	}

	turn, err := s.SubmitUserMessage(c.Request.Context(), req.Text)
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}

	data := gin.H{"user_message": turn.User, "speaker_id": turn.SpeakerID}
	if wait, _ := strconv.ParseBool(c.Query("wait")); !wait {
		h.Response.Accepted(c, data)
		return
	}

	reply, err := turn.Wait(c.Request.Context())
	if reply.ID != "" {
		data["reply"] = reply
	}
	if err != nil {
		data["error"] = err.Error()
	}
	h.Response.Success(c, data)
}

// ClearMessages resets the message log and the memory of a scenario and
// deletes the images it produced.
func (h *Handler) ClearMessages(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	msgs := s.Messages()
	if err := s.Clear(c.Request.Context()); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.deleteImages(c.Request.Context(), msgs)
	h.Response.Success(c, gin.H{"cleared": len(msgs)})
}

// GetMemory 查看分层记忆
func (h *Handler) GetMemory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, s.Memory())
}

// PutMemory stores a user edit of the summaries. Counters are kept.
func (h *Handler) PutMemory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var edit models.MemoryStore
	if err := c.ShouldBindJSON(&edit); err != nil {
		h.Response.BadRequest(c, "invalid memory", err.Error())
		return
	}
	mem, err := s.SetMemory(c.Request.Context(), edit)
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.Response.Success(c, mem)
}

// Compress 触发一次压缩检查
func (h *Handler) Compress(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	started := s.TriggerCompressionCheck()
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	h.Response.write(c, status, gin.H{"started": started, "state": s.State()}, nil)
}

// ForceImage starts the image pipeline regardless of the cadence.
func (h *Handler) ForceImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ForceImage(); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.Response.Accepted(c, gin.H{"started": true})
}

// GetState 返回三条流水线的状态
func (h *Handler) GetState(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, s.State())
}
