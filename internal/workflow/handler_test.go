package workflow_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/transport"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

// commandStub records the calls the handler makes. Methods it does not
// override panic through the nil embedded interface.
type commandStub struct {
	workflow.ServiceAPI
	apps      map[string]*loan.Application
	created   loan.CreateApplicationDTO
	approved  loan.ApproveDTO
	submitted string
	issued    string
}

func (s *commandStub) result(id string, status loan.Status) (*workflow.Result, error) {
	app, ok := s.apps[id]
	if !ok {
		return nil, internal.ErrApplicationNotFound
	}
	app.Status = status
	ev, _ := events.NewLoanEvent(events.EventTypeStatusChanged, id, events.StatusChanged{ApplicationID: id}, app.UpdatedAt)
	return &workflow.Result{Application: app, Events: []*events.BaseEvent{ev}}, nil
}

func (s *commandStub) Create(_ context.Context, dto loan.CreateApplicationDTO) (*workflow.Result, error) {
	s.created = dto
	app := &loan.Application{ID: "app-new", Number: "LA2026030001", Status: loan.StatusDraft}
	s.apps[app.ID] = app
	return &workflow.Result{Application: app}, nil
}

func (s *commandStub) Submit(_ context.Context, id string) (*workflow.Result, error) {
	s.submitted = id
	return s.result(id, loan.StatusUnderReview)
}

func (s *commandStub) Approve(_ context.Context, id string, dto loan.ApproveDTO) (*workflow.Result, error) {
	s.approved = dto
	return s.result(id, loan.StatusApproved)
}

func (s *commandStub) Issue(_ context.Context, id string, _ loan.IssueDTO) (*workflow.Result, error) {
	s.issued = id
	return s.result(id, loan.StatusIssued)
}

func (s *commandStub) Get(_ context.Context, id string) (*loan.Application, error) {
	if app, ok := s.apps[id]; ok {
		return app, nil
	}
	return nil, internal.ErrApplicationNotFound
}

func (s *commandStub) List(_ context.Context, q loan.ListQuery) ([]*loan.Application, error) {
	out := []*loan.Application{}
	for _, app := range s.apps {
		if q.Status == "" || string(app.Status) == q.Status {
			out = append(out, app)
		}
	}
	return out, nil
}

var _ = Describe("Loan Handler", func() {
	var (
		stub          *commandStub
		router        chi.Router
		managerCalled bool
		allowManager  bool
	)

	BeforeEach(func() {
		stub = &commandStub{apps: map[string]*loan.Application{
			"app-1": {ID: "app-1", Number: "LA2026030001", Status: loan.StatusDraft},
		}}
		managerCalled = false
		allowManager = true

		h := workflow.NewHandler(transport.NewBaseHandler(slog.New(slog.NewTextHandler(io.Discard, nil))), stub)
		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if actor := r.Header.Get("X-Test-Actor"); actor != "" {
					r = r.WithContext(internal.ContextWithActorID(r.Context(), actor))
				}
				next.ServeHTTP(w, r)
			})
		})
		router.Route("/loans", func(lr chi.Router) {
			lr.Post("/", h.CreateApplication)
			h.Routes(lr, func(next http.HandlerFunc) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					managerCalled = true
					if !allowManager {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					next(w, r)
				}
			})
		})
	})

	do := func(method, path, body, actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if actor != "" {
			req.Header.Set("X-Test-Actor", actor)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Context("POST /loans", func() {
		It("binds the authenticated caller as applicant user", func() {
			rec := do(http.MethodPost, "/loans", `{"applicant_name":"Dewi","applicant_email":"dewi@example.com","purpose":"demo","loan_start_date":"2026-03-02","loan_end_date":"2026-03-06","total_value":"100","items":[]}`, "emp-1")

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(stub.created.ApplicantUserID).NotTo(BeNil())
			Expect(*stub.created.ApplicantUserID).To(Equal("emp-1"))
			Expect(stub.created.StartDate.Format("2006-01-02")).To(Equal("2026-03-02"))
		})

		It("leaves guest applications unbound", func() {
			rec := do(http.MethodPost, "/loans", `{"applicant_name":"Guest","applicant_email":"g@example.com"}`, "")

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(stub.created.ApplicantUserID).To(BeNil())
		})

		It("rejects unknown fields", func() {
			rec := do(http.MethodPost, "/loans", `{"applicant_nam":"typo"}`, "emp-1")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed dates", func() {
			rec := do(http.MethodPost, "/loans", `{"loan_start_date":"02/03/2026"}`, "emp-1")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("commands", func() {
		It("passes the path id and decoded body to the service", func() {
			rec := do(http.MethodPost, "/loans/app-1/approve", `{"level":2,"remarks":"ok"}`, "mgr-1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(stub.approved.Level).To(Equal(2))
			Expect(stub.approved.Remarks).To(Equal("ok"))
		})

		It("returns the application without the emitted events", func() {
			rec := do(http.MethodPost, "/loans/app-1/submit", "", "emp-1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(stub.submitted).To(Equal("app-1"))

			var body map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("status", string(loan.StatusUnderReview)))
			Expect(body).NotTo(HaveKey("events"))
		})

		It("maps a missing application to 404", func() {
			rec := do(http.MethodPost, "/loans/missing/submit", "", "emp-1")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("routes issuance through the manager guard", func() {
			rec := do(http.MethodPost, "/loans/app-1/issue", `{}`, "am-1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(managerCalled).To(BeTrue())
			Expect(stub.issued).To(Equal("app-1"))
		})

		It("stops at the manager guard when it refuses", func() {
			allowManager = false

			rec := do(http.MethodPost, "/loans/app-1/issue", `{}`, "emp-1")

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(stub.issued).To(BeEmpty())
		})

		It("does not guard approver commands as manager commands", func() {
			do(http.MethodPost, "/loans/app-1/approve", `{"level":1}`, "mgr-1")

			Expect(managerCalled).To(BeFalse())
		})
	})

	Context("reads", func() {
		It("filters the list by status", func() {
			rec := do(http.MethodGet, "/loans?status=draft&limit=500", "", "emp-1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body workflow.ApplicationsResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Applications).To(HaveLen(1))
			Expect(body.Limit).To(Equal(20))
		})

		It("returns one application by id", func() {
			rec := do(http.MethodGet, "/loans/app-1", "", "emp-1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("LA2026030001"))
		})
	})
})
