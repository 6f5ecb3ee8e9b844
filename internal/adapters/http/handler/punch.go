package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
)

// PunchHandler は打刻 API の HTTP 実装です。
type PunchHandler struct {
	svc punch.UseCase
}

// NewPunchHandler は PunchHandler を生成します。
func NewPunchHandler(svc punch.UseCase) *PunchHandler {
	return &PunchHandler{svc: svc}
}

type punchResponse struct {
	ID           string    `json:"id"`
	EmployeeID   int64     `json:"employeeId"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         int       `json:"kind"`
	Consolidated bool      `json:"consolidated"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type listPunchesResponse struct {
	Punches       []punchResponse `json:"punches"`
	NextPageToken string          `json:"nextPageToken"`
}

type createPunchRequest struct {
	EmployeeID int64     `json:"employeeId"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       int       `json:"kind"`
}

type updatePunchRequest struct {
	EmployeeID *int64     `json:"employeeId"`
	Timestamp  *time.Time `json:"timestamp"`
	Kind       *int       `json:"kind"`
}

type listPunchesQuery struct {
	PageSize     int    `form:"page_size"`
	PageToken    string `form:"page_token"`
	EmployeeID   *int64 `form:"employee_id"`
	Consolidated *bool  `form:"consolidated"`
}

// Create は打刻を登録します。
func (h *PunchHandler) Create(c *gin.Context) {
	var req createPunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	created, err := h.svc.CreatePunch(c.Request.Context(), punch.CreatePunchInput{
		EmployeeID: req.EmployeeID,
		PunchedAt:  req.Timestamp,
		Kind:       punch.Kind(req.Kind),
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	respondOK(c, "punch recorded", toPunchResponse(created))
}

// Update は打刻を部分更新します。
func (h *PunchHandler) Update(c *gin.Context) {
	var req updatePunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	var kindPtr *punch.Kind
	if req.Kind != nil {
		kind := punch.Kind(*req.Kind)
		kindPtr = &kind
	}

	updated, err := h.svc.UpdatePunch(c.Request.Context(), punch.UpdatePunchInput{
		ID:         c.Param("id"),
		EmployeeID: req.EmployeeID,
		PunchedAt:  req.Timestamp,
		Kind:       kindPtr,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	respondOK(c, "punch updated", toPunchResponse(updated))
}

// Get は打刻を取得します。
func (h *PunchHandler) Get(c *gin.Context) {
	found, err := h.svc.GetPunch(c.Request.Context(), punch.GetPunchInput{ID: c.Param("id")})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	respondOK(c, "", toPunchResponse(found))
}

// Delete は打刻を削除し、削除した記録を返します。
func (h *PunchHandler) Delete(c *gin.Context) {
	deleted, err := h.svc.DeletePunch(c.Request.Context(), punch.DeletePunchInput{ID: c.Param("id")})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	respondOK(c, "punch deleted", toPunchResponse(deleted))
}

// List は打刻の一覧を取得します。
func (h *PunchHandler) List(c *gin.Context) {
	var q listPunchesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, "invalid query: "+err.Error())
		return
	}

	result, err := h.svc.ListPunches(c.Request.Context(), punch.ListPunchesInput{
		PageSize:     q.PageSize,
		PageToken:    q.PageToken,
		EmployeeID:   q.EmployeeID,
		Consolidated: q.Consolidated,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	items := make([]punchResponse, 0, len(result.Punches))
	for _, p := range result.Punches {
		items = append(items, toPunchResponse(p))
	}
	respondOK(c, "", listPunchesResponse{Punches: items, NextPageToken: result.NextPageToken})
}

func toPunchResponse(p *punch.Punch) punchResponse {
	return punchResponse{
		ID:           p.ID,
		EmployeeID:   p.EmployeeID,
		Timestamp:    p.PunchedAt,
		Kind:         int(p.Kind),
		Consolidated: p.Consolidated,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
