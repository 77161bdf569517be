package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/workshop"
)

// WorkshopServiceInterface はワークショップハンドラーが必要とするサービスインターフェース。
type WorkshopServiceInterface interface {
	List(ctx context.Context, from time.Time, limit int) ([]*model.Workshop, error)
	Get(ctx context.Context, id string) (*model.Workshop, error)
	Create(ctx context.Context, actor workshop.Actor, in workshop.Input) (*model.Workshop, error)
	Update(ctx context.Context, actor workshop.Actor, id string, in workshop.Input) (*model.Workshop, error)
	Delete(ctx context.Context, actor workshop.Actor, id string) error
}

// WorkshopHandler はワークショップのHTTPハンドラー。
type WorkshopHandler struct {
	service   WorkshopServiceInterface
	validator *requestValidator
}

// NewWorkshopHandler はWorkshopHandlerを生成する。
func NewWorkshopHandler(service WorkshopServiceInterface) *WorkshopHandler {
	return &WorkshopHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

// workshopRequest はワークショップ作成・更新リクエストのボディ。
type workshopRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=200"`
	StartsAt    time.Time `json:"startsAt" validate:"required"`
	EndsAt      time.Time `json:"endsAt" validate:"required,gtfield=StartsAt"`
	Capacity    int       `json:"capacity" validate:"required,min=1"`
}

// workshopResponse はワークショップのAPIレスポンス。
type workshopResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	Capacity     int       `json:"capacity"`
	InstructorID string    `json:"instructorId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type workshopListResponse struct {
	Workshops []workshopResponse `json:"workshops"`
}

func toWorkshopResponse(w *model.Workshop) workshopResponse {
	return workshopResponse{
		ID:           w.ID,
		Title:        w.Title,
		Description:  w.Description,
		Location:     w.Location,
		StartsAt:     w.StartsAt,
		EndsAt:       w.EndsAt,
		Capacity:     w.Capacity,
		InstructorID: w.InstructorID,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// List はワークショップ一覧を返す。
// GET /api/workshops?from=RFC3339&limit=N
func (h *WorkshopHandler) List(w http.ResponseWriter, r *http.Request) {
	var from time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			handleServiceError(w, r, model.NewValidationError("from must be an RFC 3339 timestamp"))
			return
		}
		from = t
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			handleServiceError(w, r, model.NewValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	workshops, err := h.service.List(r.Context(), from, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := workshopListResponse{Workshops: make([]workshopResponse, len(workshops))}
	for i, ws := range workshops {
		resp.Workshops[i] = toWorkshopResponse(ws)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はワークショップ詳細を返す。
// GET /api/workshops/{id}
func (h *WorkshopHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkshopResponse(ws))
}

// Create はワークショップを作成する。
// POST /api/workshops
func (h *WorkshopHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, in, ok := h.bind(w, r)
	if !ok {
		return
	}

	ws, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkshopResponse(ws))
}

// Update はワークショップを更新する。
// PUT /api/workshops/{id}
func (h *WorkshopHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, in, ok := h.bind(w, r)
	if !ok {
		return
	}

	ws, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkshopResponse(ws))
}

// Delete はワークショップを削除する。
// DELETE /api/workshops/{id}
func (h *WorkshopHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkshopHandler) bind(w http.ResponseWriter, r *http.Request) (workshop.Actor, workshop.Input, bool) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return workshop.Actor{}, workshop.Input{}, false
	}

	var req workshopRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return workshop.Actor{}, workshop.Input{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		handleServiceError(w, r, err)
		return workshop.Actor{}, workshop.Input{}, false
	}

	return actor, workshop.Input{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
	}, true
}

// actorFromRequest はセッションから操作主体を取り出す。
func actorFromRequest(w http.ResponseWriter, r *http.Request) (workshop.Actor, bool) {
	claims, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return workshop.Actor{}, false
	}
	return workshop.Actor{UserID: claims.SubjectID(), Role: claims.Role}, true
}
