package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ConsolidationHandler は集計実行と日次集計参照の HTTP 実装です。
type ConsolidationHandler struct {
	engine     consolidation.UseCase
	aggregates aggregate.UseCase
	log        *zap.Logger
}

// NewConsolidationHandler は ConsolidationHandler を生成します。
func NewConsolidationHandler(engine consolidation.UseCase, aggregates aggregate.UseCase, log *zap.Logger) *ConsolidationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsolidationHandler{engine: engine, aggregates: aggregates, log: log}
}

type aggregateResponse struct {
	ID            string `json:"id"`
	EmployeeID    int64  `json:"employeeId"`
	WorkDate      string `json:"workDate"`
	MinutesWorked int64  `json:"minutesWorked"`
	Version       int64  `json:"version"`
}

type runResponse struct {
	Pairs      int                 `json:"pairs"`
	Aggregates []aggregateResponse `json:"aggregates"`
	Retriable  bool                `json:"retriable"`
}

// Run は集計を 1 回実行します。途中で失敗した場合も確定済みの集計を返します。
func (h *ConsolidationHandler) Run(c *gin.Context) {
	touched, err := h.engine.Consolidate(c.Request.Context())

	resp := runResponse{Pairs: len(touched), Aggregates: toAggregateResponses(touched)}
	if err != nil {
		var runErr *consolidation.RunError
		if errors.As(err, &runErr) {
			resp.Pairs = runErr.Pairs
		}
		resp.Retriable = consolidation.Retriable(err)
		h.log.Warn("consolidation request failed", zap.Int("pairs", resp.Pairs), zap.Error(err))
		respondError(c, err, resp)
		return
	}

	respondOK(c, "consolidation completed", resp)
}

// GetForDate は指定日 (YYYY-MM-DD) の集計を返します。
func (h *ConsolidationHandler) GetForDate(c *gin.Context) {
	date, err := time.Parse(dateLayout, c.Param("date"))
	if err != nil {
		respondBadRequest(c, "date must be formatted as YYYY-MM-DD")
		return
	}

	found, err := h.aggregates.GetAggregatesForDate(c.Request.Context(), aggregate.GetAggregatesForDateInput{Date: date})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	respondOK(c, "", toAggregateResponses(found))
}

func toAggregateResponses(list []*aggregate.DailyAggregate) []aggregateResponse {
	out := make([]aggregateResponse, 0, len(list))
	for _, a := range list {
		out = append(out, aggregateResponse{
			ID:            a.ID,
			EmployeeID:    a.EmployeeID,
			WorkDate:      a.WorkDate.Format(dateLayout),
			MinutesWorked: a.MinutesWorked,
			Version:       a.Version,
		})
	}
	return out
}
