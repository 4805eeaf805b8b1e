package workflow

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/transport"
)

type ServiceAPI interface {
	Create(ctx context.Context, dto loan.CreateApplicationDTO) (*Result, error)
	Submit(ctx context.Context, applicationID string) (*Result, error)
	Approve(ctx context.Context, applicationID string, dto loan.ApproveDTO) (*Result, error)
	ApproveWithToken(ctx context.Context, dto loan.TokenApprovalDTO) (*Result, error)
	Reject(ctx context.Context, applicationID string, dto loan.RejectDTO) (*Result, error)
	RequestInfo(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error)
	ProvideInfo(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error)
	PrepareIssuance(ctx context.Context, applicationID string) (*Result, error)
	Issue(ctx context.Context, applicationID string, dto loan.IssueDTO) (*Result, error)
	StartReturn(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error)
	Return(ctx context.Context, applicationID string, dto loan.ReturnDTO) (*Result, error)
	Extend(ctx context.Context, applicationID string, dto loan.ExtendDTO) (*Result, error)
	Recall(ctx context.Context, applicationID string, dto loan.RecallDTO) (*Result, error)
	ConfirmDamage(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error)
	Complete(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error)
	LinkTicket(ctx context.Context, applicationID string, dto loan.LinkTicketDTO) (*Result, error)
	Anonymize(ctx context.Context, applicationID string) (*Result, error)
	Claim(ctx context.Context, applicationID string) (*Result, error)
	Get(ctx context.Context, applicationID string) (*loan.Application, error)
	GetByNumber(ctx context.Context, number string) (*loan.Application, error)
	List(ctx context.Context, q loan.ListQuery) ([]*loan.Application, error)
	Details(ctx context.Context, applicationID string) (*Details, error)
}

// ApplicationsResponse is the body of GET /loans.
type ApplicationsResponse struct {
	Applications []*loan.Application `json:"applications"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// Routes mounts the authenticated command surface. manager wraps the
// commands reserved for asset managers. Creation and token approval are
// mounted by the caller since they do not require a bearer token.
func (h *Handler) Routes(r chi.Router, manager func(http.HandlerFunc) http.HandlerFunc) {
	r.Get("/", h.ListApplications)
	r.Get("/number/{number}", h.GetApplicationByNumber)
	r.Get("/{id}", h.GetApplication)
	r.Get("/{id}/details", h.GetDetails)

	r.Post("/{id}/submit", h.command("submit", h.Service.Submit))
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/request-info", h.noteCommand("request_info", h.Service.RequestInfo))
	r.Post("/{id}/provide-info", h.noteCommand("provide_info", h.Service.ProvideInfo))
	r.Post("/{id}/extend", h.Extend)
	r.Post("/{id}/claim", h.command("claim", h.Service.Claim))

	r.Post("/{id}/prepare-issuance", manager(h.command("prepare_issuance", h.Service.PrepareIssuance)))
	r.Post("/{id}/issue", manager(h.Issue))
	r.Post("/{id}/start-return", manager(h.noteCommand("start_return", h.Service.StartReturn)))
	r.Post("/{id}/return", manager(h.Return))
	r.Post("/{id}/recall", manager(h.Recall))
	r.Post("/{id}/confirm-damage", manager(h.noteCommand("confirm_damage", h.Service.ConfirmDamage)))
	r.Post("/{id}/complete", manager(h.noteCommand("complete", h.Service.Complete)))
	r.Post("/{id}/links", manager(h.LinkTicket))
	r.Post("/{id}/anonymize", manager(h.command("anonymize", h.Service.Anonymize)))
}

// CreateApplication handles POST /loans. Guests may apply; an authenticated
// caller becomes the applicant user.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var dto loan.CreateApplicationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if actorID := internal.ActorIDFromContext(r.Context()); actorID != "" {
		dto.ApplicantUserID = &actorID
	}

	res, err := h.Service.Create(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateApplication: application created",
		"application_id", res.Application.ID,
		"application_number", res.Application.Number,
		"status", res.Application.Status)
	h.WriteJSON(w, http.StatusCreated, res.Application)
}

// ListApplications handles GET /loans?status=&mine=&limit=&offset=
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	q := loan.ListQuery{
		Status: r.URL.Query().Get("status"),
		Mine:   r.URL.Query().Get("mine") == "true",
		Limit:  20,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			q.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			q.Offset = o
		}
	}

	apps, err := h.Service.List(r.Context(), q)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ApplicationsResponse{Applications: apps, Limit: q.Limit, Offset: q.Offset})
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) GetApplicationByNumber(w http.ResponseWriter, r *http.Request) {
	app, err := h.Service.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) GetDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.Details(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var dto loan.ApproveDTO
	h.decodeAndRun(w, r, "approve", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Approve(ctx, id, dto)
	})
}

// ApproveWithToken handles POST /loans/approve-by-token. The signed token
// identifies the application and level, so no bearer token is needed.
func (h *Handler) ApproveWithToken(w http.ResponseWriter, r *http.Request) {
	var dto loan.TokenApprovalDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if dto.Token == "" {
		dto.Token = r.URL.Query().Get("token")
	}

	res, err := h.Service.ApproveWithToken(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res.Application)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var dto loan.RejectDTO
	h.decodeAndRun(w, r, "reject", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Reject(ctx, id, dto)
	})
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var dto loan.IssueDTO
	h.decodeAndRun(w, r, "issue", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Issue(ctx, id, dto)
	})
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	var dto loan.ReturnDTO
	h.decodeAndRun(w, r, "return", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Return(ctx, id, dto)
	})
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var dto loan.ExtendDTO
	h.decodeAndRun(w, r, "extend", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Extend(ctx, id, dto)
	})
}

func (h *Handler) Recall(w http.ResponseWriter, r *http.Request) {
	var dto loan.RecallDTO
	h.decodeAndRun(w, r, "recall", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.Recall(ctx, id, dto)
	})
}

func (h *Handler) LinkTicket(w http.ResponseWriter, r *http.Request) {
	var dto loan.LinkTicketDTO
	h.decodeAndRun(w, r, "link_ticket", &dto, func(ctx context.Context, id string) (*Result, error) {
		return h.Service.LinkTicket(ctx, id, dto)
	})
}

func (h *Handler) noteCommand(name string, fn func(context.Context, string, loan.NoteDTO) (*Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto loan.NoteDTO
		h.decodeAndRun(w, r, name, &dto, func(ctx context.Context, id string) (*Result, error) {
			return fn(ctx, id, dto)
		})
	}
}

func (h *Handler) command(name string, fn func(context.Context, string) (*Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := fn(r.Context(), id)
		h.respond(w, name, id, res, err)
	}
}

func (h *Handler) decodeAndRun(w http.ResponseWriter, r *http.Request, name string, dst interface{}, fn func(context.Context, string) (*Result, error)) {
	if err := h.DecodeJSON(r, dst); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	res, err := fn(r.Context(), id)
	h.respond(w, name, id, res, err)
}

func (h *Handler) respond(w http.ResponseWriter, name, id string, res *Result, err error) {
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.Logger.Debug("loan command handled",
		"command", name,
		"application_id", id,
		"status", res.Application.Status)
	h.WriteJSON(w, http.StatusOK, res.Application)
}
