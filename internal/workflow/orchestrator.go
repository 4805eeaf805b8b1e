package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/calendar"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/linkage"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/sla"
)

type Config struct {
	NumberPrefix     string
	SequentialLevels bool
	ReturnLeadWindow time.Duration
	// Location is where loan dates turn into instants.
	Location *time.Location
}

func ConfigFromSettings(cfg internal.WorkflowConfig, loc *time.Location) Config {
	return Config{
		NumberPrefix:     cfg.NumberPrefix,
		SequentialLevels: cfg.SequentialLevels,
		ReturnLeadWindow: cfg.ReturnLeadWindow,
		Location:         loc,
	}
}

type Deps struct {
	UnitOfWork   UnitOfWork
	Locker       Locker
	Rules        approvalmatrix.Source
	Resolver     *approvalmatrix.Resolver
	Tracker      *sla.Tracker
	Linker       *linkage.Linker
	Directory    Directory
	Availability AvailabilityChecker
	Tokens       ApprovalTokens
	Clock        calendar.Clock
	Logger       *slog.Logger
}

// Orchestrator is the only writer of loan applications. Every command runs
// under the application's lock and inside one transaction, so state, timers,
// transactions and outbox events commit together or not at all.
type Orchestrator struct {
	cfg          Config
	uow          UnitOfWork
	locker       Locker
	rules        approvalmatrix.Source
	resolver     *approvalmatrix.Resolver
	tracker      *sla.Tracker
	linker       *linkage.Linker
	directory    Directory
	availability AvailabilityChecker
	tokens       ApprovalTokens
	clock        calendar.Clock
	logger       *slog.Logger
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "LA"
	}
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Resolver == nil {
		deps.Resolver = approvalmatrix.NewResolver()
	}
	if deps.Linker == nil {
		deps.Linker = linkage.NewLinker()
	}
	if deps.Clock == nil {
		deps.Clock = calendar.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:          cfg,
		uow:          deps.UnitOfWork,
		locker:       deps.Locker,
		rules:        deps.Rules,
		resolver:     deps.Resolver,
		tracker:      deps.Tracker,
		linker:       deps.Linker,
		directory:    deps.Directory,
		availability: deps.Availability,
		tokens:       deps.Tokens,
		clock:        deps.Clock,
		logger:       deps.Logger,
	}
}

// Result is the state after a command and the events it emitted.
type Result struct {
	Application *loan.Application
	Events      []*events.BaseEvent
}

func (r *Result) EventTypes() []string {
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, name, applicationID string, fn func(c *command) error) (*Result, error) {
	unlock, err := o.locker.Lock(ctx, applicationID)
	if err != nil {
		o.logFailure(name, applicationID, err)
		return nil, err
	}
	defer unlock()

	now := o.clock.Now()
	var c *command
	err = o.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		app, err := r.Loans.GetByIDForUpdate(ctx, applicationID)
		if err != nil {
			return err
		}
		c = o.newCommand(ctx, r, app, now)
		if err := fn(c); err != nil {
			return err
		}
		return c.commit()
	})
	if err != nil {
		o.logFailure(name, applicationID, err)
		return nil, err
	}

	if len(c.events) > 0 {
		o.logger.Info("loan command applied",
			"command", name,
			"application_id", applicationID,
			"status", c.app.Status,
			"events", len(c.events))
	}
	return &Result{Application: c.app, Events: c.events}, nil
}

func (o *Orchestrator) logFailure(name, applicationID string, err error) {
	var appErr *internal.AppError
	if errors.As(err, &appErr) && appErr.UserFacing() {
		o.logger.Warn("loan command refused",
			"command", name,
			"application_id", applicationID,
			"code", appErr.Code,
			"error", err)
		return
	}
	o.logger.Error("loan command failed",
		"command", name,
		"application_id", applicationID,
		"error", err)
}

// Create stores a new draft, or submits it straight away when asked to.
func (o *Orchestrator) Create(ctx context.Context, dto loan.CreateApplicationDTO) (*Result, error) {
	if actorID := internal.ActorIDFromContext(ctx); actorID != "" && dto.ApplicantUserID == nil {
		dto.ApplicantUserID = &actorID
	}
	now := o.clock.Now()
	app, err := loan.NewApplication(dto, now)
	if err != nil {
		o.logFailure("create", "", err)
		return nil, err
	}

	var c *command
	err = o.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		number, err := r.Loans.NextNumber(ctx, o.cfg.NumberPrefix, now)
		if err != nil {
			return err
		}
		app.Number = number
		if err := r.Loans.Create(ctx, app); err != nil {
			return err
		}

		c = o.newCommand(ctx, r, app, now)
		if !dto.Submit {
			c.skipUpdate = true
			return nil
		}
		if err := c.submit(); err != nil {
			return err
		}
		return c.commit()
	})
	if err != nil {
		o.logFailure("create", app.ID, err)
		return nil, err
	}

	o.logger.Info("loan application created",
		"application_id", app.ID,
		"application_number", app.Number,
		"status", app.Status)
	return &Result{Application: c.app, Events: c.events}, nil
}

func (o *Orchestrator) Submit(ctx context.Context, applicationID string) (*Result, error) {
	return o.execute(ctx, "submit", applicationID, func(c *command) error {
		if err := o.authorize(c.ctx, c.app, accessOwner); err != nil {
			return err
		}
		return c.submit()
	})
}

// Approve records an approve decision for one level by an eligible actor.
func (o *Orchestrator) Approve(ctx context.Context, applicationID string, dto loan.ApproveDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "approve", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandApprove, c.app.Status); err != nil {
			return err
		}
		progress, err := c.progress()
		if err != nil {
			return err
		}
		lvl, err := progress.CheckDecidable(dto.Level, o.cfg.SequentialLevels)
		if err != nil {
			return err
		}
		if err := c.checkEligible(lvl); err != nil {
			return err
		}
		return c.recordApproval(progress, lvl, dto.Remarks)
	})
}

// ApproveWithToken consumes an out-of-band approval link. The link itself
// proves eligibility, so the directory is not consulted.
func (o *Orchestrator) ApproveWithToken(ctx context.Context, dto loan.TokenApprovalDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	claims, err := o.tokens.Parse(dto.Token, o.clock.Now())
	if err != nil {
		o.logFailure("approve_with_token", "", err)
		return nil, err
	}

	return o.execute(ctx, "approve_with_token", claims.ApplicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandApprove, c.app.Status); err != nil {
			return err
		}
		if !c.app.HasApprovalToken() || !o.tokens.Matches(claims, *c.app.ApprovalTokenHash) {
			return internal.ErrInvalidToken
		}
		if c.app.ApprovalTokenExpired(c.now) {
			return internal.ErrTokenExpired
		}
		progress, err := c.progress()
		if err != nil {
			return err
		}
		lvl, err := progress.CheckDecidable(claims.Level, o.cfg.SequentialLevels)
		if err != nil {
			return err
		}
		if c.actor == "" {
			c.actor = "token:" + claims.ID
		}
		return c.recordApproval(progress, lvl, dto.Remarks)
	})
}

// Reject ends the review. Any required level may reject, in any order.
func (o *Orchestrator) Reject(ctx context.Context, applicationID string, dto loan.RejectDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "reject", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandReject, c.app.Status); err != nil {
			return err
		}
		progress, err := c.progress()
		if err != nil {
			return err
		}
		lvl, ok := progress.Level(dto.Level)
		if !ok {
			return internal.NewGuardFailedError("required_level",
				fmt.Sprintf("level %d is not required for this application", dto.Level))
		}
		if progress.Approved[dto.Level] != nil {
			return internal.NewConflictError(fmt.Sprintf("level %d has already been approved", dto.Level), internal.ErrCodeAlreadyDecided)
		}
		if err := c.checkEligible(lvl); err != nil {
			return err
		}

		reason := strings.TrimSpace(dto.Reason)
		d := loan.NewDecision(c.app.ID, dto.Level, loan.DecisionReject, c.actor, reason, c.now)
		if err := c.repos.Loans.RecordDecision(c.ctx, d); err != nil {
			return err
		}
		c.app.RejectionReason = &reason
		c.app.ClearApprovalToken()
		if err := c.move(loan.StatusRejected, string(loan.CommandReject), reason); err != nil {
			return err
		}
		if err := o.tracker.StopAll(c.ctx, c.repos.Timers, c.app.ID, c.now); err != nil {
			return err
		}
		return c.emit(events.EventTypeApplicationRejected, events.ApplicationRejected{
			ApplicationID:     c.app.ID,
			ApplicationNumber: c.app.Number,
			Level:             dto.Level,
			RejectedBy:        c.actor,
			Reason:            reason,
			RejectedAt:        c.now,
		})
	})
}

// RequestInfo parks the review until the applicant answers. The resolution
// clock does not run meanwhile.
func (o *Orchestrator) RequestInfo(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error) {
	return o.execute(ctx, "request_info", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandRequestInfo, c.app.Status); err != nil {
			return err
		}
		progress, err := c.progress()
		if err != nil {
			return err
		}
		if next, ok := progress.NextPending(); ok {
			if err := c.checkEligible(next); err != nil {
				return err
			}
		}
		if err := c.stopTimer(sla.KindResponse); err != nil {
			return err
		}
		if err := o.tracker.Pause(c.ctx, c.repos.Timers, c.app.ID, sla.KindResolution, c.now); err != nil {
			return err
		}
		return c.move(loan.StatusPendingInfo, string(loan.CommandRequestInfo), dto.Notes)
	})
}

func (o *Orchestrator) ProvideInfo(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error) {
	return o.execute(ctx, "provide_info", applicationID, func(c *command) error {
		if err := o.authorize(c.ctx, c.app, accessOwner); err != nil {
			return err
		}
		if err := loan.CheckCommand(loan.CommandProvideInfo, c.app.Status); err != nil {
			return err
		}
		if err := o.tracker.Resume(c.ctx, c.repos.Timers, c.app.ID, sla.KindResolution, c.now); err != nil {
			return err
		}
		return c.move(loan.StatusUnderReview, string(loan.CommandProvideInfo), dto.Notes)
	})
}

// PrepareIssuance retries the reservation of an approved application.
func (o *Orchestrator) PrepareIssuance(ctx context.Context, applicationID string) (*Result, error) {
	return o.execute(ctx, "prepare_issuance", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandPrepareIssuance, c.app.Status); err != nil {
			return err
		}
		return c.prepareIssuance(true)
	})
}

// Issue records the physical hand-over and starts the return-due timer.
func (o *Orchestrator) Issue(ctx context.Context, applicationID string, dto loan.IssueDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "issue", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandIssue, c.app.Status); err != nil {
			return err
		}

		for _, in := range dto.Items {
			it := c.app.Item(in.AssetID)
			if it == nil {
				return internal.NewGuardFailedError("known_asset",
					fmt.Sprintf("asset %s is not part of this application", in.AssetID))
			}
			cond, err := loan.ParseCondition(in.Condition)
			if err != nil {
				return err
			}
			it.ConditionBefore = &cond
			if len(in.Accessories) > 0 {
				it.AccessoriesIssued = in.Accessories
			}
		}

		actor := c.actorOrSystem()
		for _, it := range c.app.Items {
			tx := loan.NewTransaction(c.app.ID, loan.TransactionIssue, actor, c.now)
			assetID := it.AssetID
			tx.AssetID = &assetID
			tx.ConditionBefore = it.ConditionBefore
			tx.Notes = dto.Notes
			if err := c.record(tx); err != nil {
				return err
			}
		}

		if err := c.move(loan.StatusIssued, string(loan.CommandIssue), dto.Notes); err != nil {
			return err
		}
		if err := o.tracker.StopAll(c.ctx, c.repos.Timers, c.app.ID, c.now); err != nil {
			return err
		}
		due := c.app.ReturnDueAt(o.cfg.Location)
		if _, err := o.tracker.StartWithDue(c.ctx, c.repos.Timers, c.app.ID, sla.KindReturn, c.now, due); err != nil {
			return err
		}
		if err := c.emit(events.EventTypeAssetIssued, events.AssetIssued{
			ApplicationID:     c.app.ID,
			ApplicationNumber: c.app.Number,
			AssetIDs:          c.app.AssetIDs(),
			IssuedBy:          actor,
			IssuedAt:          c.now,
			ReturnDueAt:       due,
		}); err != nil {
			return err
		}
		if err := c.move(loan.StatusInUse, string(loan.CommandIssue), ""); err != nil {
			return err
		}
		return c.advanceReturnState()
	})
}

func (o *Orchestrator) StartReturn(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error) {
	return o.execute(ctx, "start_return", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandStartReturn, c.app.Status); err != nil {
			return err
		}
		return c.move(loan.StatusReturning, string(loan.CommandStartReturn), dto.Notes)
	})
}

// Return records the condition of every item. Poor or damaged items flag the
// application for maintenance and get one damage link each.
func (o *Orchestrator) Return(ctx context.Context, applicationID string, dto loan.ReturnDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "return", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandReturn, c.app.Status); err != nil {
			return err
		}

		byAsset := make(map[string]loan.ReturnItemDTO, len(dto.Items))
		for _, in := range dto.Items {
			if c.app.Item(in.AssetID) == nil {
				return internal.NewGuardFailedError("known_asset",
					fmt.Sprintf("asset %s is not part of this application", in.AssetID))
			}
			byAsset[in.AssetID] = in
		}
		for _, it := range c.app.Items {
			if _, ok := byAsset[it.AssetID]; !ok {
				return internal.NewGuardFailedError("all_items_condition",
					fmt.Sprintf("condition after return is missing for asset %s", it.AssetID))
			}
		}

		if c.app.Status != loan.StatusReturning {
			if err := c.move(loan.StatusReturning, string(loan.CommandReturn), ""); err != nil {
				return err
			}
		}

		actor := c.actorOrSystem()
		var damaged []*loan.Item
		returned := make([]events.ReturnedItem, 0, len(c.app.Items))
		for _, it := range c.app.Items {
			in := byAsset[it.AssetID]
			cond, err := loan.ParseCondition(in.Condition)
			if err != nil {
				return err
			}
			it.ConditionAfter = &cond
			if len(in.Accessories) > 0 {
				it.AccessoriesReturned = in.Accessories
			}
			if report := strings.TrimSpace(in.DamageReport); report != "" {
				it.DamageReport = &report
			}

			tx := loan.NewTransaction(c.app.ID, loan.TransactionReturn, actor, c.now)
			assetID := it.AssetID
			tx.AssetID = &assetID
			tx.ConditionBefore = it.ConditionBefore
			tx.ConditionAfter = it.ConditionAfter
			tx.Notes = dto.Notes
			if err := c.record(tx); err != nil {
				return err
			}

			returned = append(returned, events.ReturnedItem{
				AssetID:      it.AssetID,
				Condition:    string(cond),
				DamageReport: in.DamageReport,
			})
			if cond.NeedsMaintenance() {
				damaged = append(damaged, it)
			}
		}

		if err := c.move(loan.StatusReturned, string(loan.CommandReturn), dto.Notes); err != nil {
			return err
		}
		if err := o.tracker.StopAll(c.ctx, c.repos.Timers, c.app.ID, c.now); err != nil {
			return err
		}

		if len(damaged) > 0 {
			c.app.MaintenanceRequired = true
		}
		for _, it := range damaged {
			if err := c.linkDamage(it, actor); err != nil {
				return err
			}
		}

		return c.emit(events.EventTypeAssetReturned, events.AssetReturned{
			ApplicationID:       c.app.ID,
			ApplicationNumber:   c.app.Number,
			ReturnedBy:          actor,
			Items:               returned,
			MaintenanceRequired: c.app.MaintenanceRequired,
			ReturnedAt:          c.now,
		})
	})
}

func (c *command) linkDamage(it *loan.Item, actor string) error {
	in := linkage.DamageInput{
		ApplicationNumber: c.app.Number,
		AssetID:           it.AssetID,
		Category:          it.Category,
		ReportedBy:        actor,
	}
	if it.ConditionAfter != nil {
		in.Condition = string(*it.ConditionAfter)
	}
	if it.DamageReport != nil {
		in.Description = *it.DamageReport
	}

	link, created, err := c.o.linker.LinkOnDamage(c.ctx, c.repos.Links, c.app.ID, in, c.now)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return c.emit(events.EventTypeDamageLinked, events.DamageLinked{
		ApplicationID:     c.app.ID,
		ApplicationNumber: c.app.Number,
		LinkID:            link.ID,
		AssetID:           in.AssetID,
		Category:          in.Category,
		Condition:         in.Condition,
		Description:       in.Description,
		ReportedBy:        actor,
		ReportedAt:        c.now,
	})
}

// Extend moves the end date out and reschedules the return-due timer.
func (o *Orchestrator) Extend(ctx context.Context, applicationID string, dto loan.ExtendDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "extend", applicationID, func(c *command) error {
		if err := o.authorize(c.ctx, c.app, accessOwner); err != nil {
			return err
		}
		if err := loan.CheckCommand(loan.CommandExtend, c.app.Status); err != nil {
			return err
		}
		newEnd := dto.NewEndDate.Time
		if !newEnd.After(c.app.EndDate) {
			return internal.NewGuardFailedError("later_end_date",
				fmt.Sprintf("new end date %s must be after %s", newEnd.Format("2006-01-02"), c.app.EndDate.Format("2006-01-02")))
		}
		busy, err := o.availability.Unavailable(c.ctx, c.app.AssetIDs(), c.app.EndDate.AddDate(0, 0, 1), newEnd, c.app.ID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return internal.NewGuardFailedError("asset_available",
				fmt.Sprintf("assets are booked during the extension: %s", strings.Join(busy, ", ")))
		}

		tx := loan.NewTransaction(c.app.ID, loan.TransactionExtend, c.actorOrSystem(), c.now)
		tx.Notes = fmt.Sprintf("end date %s -> %s: %s",
			c.app.EndDate.Format("2006-01-02"), newEnd.Format("2006-01-02"), strings.TrimSpace(dto.Justification))
		if err := c.record(tx); err != nil {
			return err
		}

		c.app.EndDate = newEnd
		c.app.UpdatedAt = c.now
		due := c.app.ReturnDueAt(o.cfg.Location)
		if _, err := o.tracker.Reschedule(c.ctx, c.repos.Timers, c.app.ID, sla.KindReturn, due, c.now); err != nil {
			return err
		}

		if c.app.Status == loan.StatusReturnDue && c.now.Before(due.Add(-o.cfg.ReturnLeadWindow)) {
			return c.move(loan.StatusInUse, string(loan.CommandExtend), dto.Justification)
		}
		return nil
	})
}

// Recall forces an active loan straight into returning.
func (o *Orchestrator) Recall(ctx context.Context, applicationID string, dto loan.RecallDTO) (*Result, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return o.execute(ctx, "recall", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandRecall, c.app.Status); err != nil {
			return err
		}
		tx := loan.NewTransaction(c.app.ID, loan.TransactionRecall, c.actorOrSystem(), c.now)
		tx.Notes = strings.TrimSpace(dto.Reason)
		if err := c.record(tx); err != nil {
			return err
		}
		if err := c.stopTimer(sla.KindResponse); err != nil {
			return err
		}
		if err := c.stopTimer(sla.KindResolution); err != nil {
			return err
		}
		c.app.ClearApprovalToken()
		return c.move(loan.StatusReturning, string(loan.CommandRecall), tx.Notes)
	})
}

func (o *Orchestrator) ConfirmDamage(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error) {
	return o.execute(ctx, "confirm_damage", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandConfirmDamage, c.app.Status); err != nil {
			return err
		}
		return c.move(loan.StatusMaintenanceRequired, string(loan.CommandConfirmDamage), dto.Notes)
	})
}

// Complete closes the loan. Damage reports must have reached the helpdesk
// first.
func (o *Orchestrator) Complete(ctx context.Context, applicationID string, dto loan.NoteDTO) (*Result, error) {
	return o.execute(ctx, "complete", applicationID, func(c *command) error {
		if err := loan.CheckCommand(loan.CommandComplete, c.app.Status); err != nil {
			return err
		}
		if c.app.MaintenanceRequired {
			links, err := c.repos.Links.ListByApplication(c.ctx, c.app.ID)
			if err != nil {
				return err
			}
			for _, l := range links {
				if l.Type == linkage.LinkAssetDamageReport && !l.HasTicket() {
					return internal.NewGuardFailedError("maintenance_ticket",
						fmt.Sprintf("damage report for asset %s has no helpdesk ticket yet", derefOr(l.AssetID, "?")))
				}
			}
		}
		if err := o.tracker.StopAll(c.ctx, c.repos.Timers, c.app.ID, c.now); err != nil {
			return err
		}
		return c.move(loan.StatusCompleted, string(loan.CommandComplete), dto.Notes)
	})
}

// Evaluate is the time-driven step for one application: SLA crossings,
// expired approval links and the return-due edges.
func (o *Orchestrator) Evaluate(ctx context.Context, applicationID string) error {
	_, err := o.execute(ctx, "evaluate", applicationID, func(c *command) error {
		c.skipUpdate = true

		crossings, err := o.tracker.Evaluate(c.ctx, c.repos.Timers, c.app.ID, c.now)
		if err != nil {
			return err
		}
		for _, x := range crossings {
			eventType := events.EventTypeSlaAtRisk
			if x.Level == sla.LevelBreached {
				eventType = events.EventTypeSlaBreached
			}
			if err := c.emit(eventType, events.SlaCrossed{
				ApplicationID: x.ApplicationID,
				Kind:          string(x.Kind),
				Level:         string(x.Level),
				DueAt:         x.DueAt,
				ElapsedPct:    x.ElapsedPct,
				EvaluatedAt:   x.EvaluatedAt,
			}); err != nil {
				return err
			}
		}

		if c.app.HasApprovalToken() && c.app.ApprovalTokenExpired(c.now) {
			c.app.ClearApprovalToken()
			c.app.UpdatedAt = c.now
			c.skipUpdate = false
		}

		before := c.app.Status
		if before == loan.StatusInUse || before == loan.StatusReturnDue {
			if err := c.advanceReturnState(); err != nil {
				return err
			}
			if c.app.Status != before {
				c.skipUpdate = false
			}
		}
		return nil
	})
	return err
}

// RecordHelpdeskTicket stores the ticket the helpdesk opened for a link.
func (o *Orchestrator) RecordHelpdeskTicket(ctx context.Context, linkID, ticketID string) (*Result, error) {
	link, err := o.uow.Repos().Links.GetByID(ctx, linkID)
	if err != nil {
		o.logFailure("record_ticket", "", err)
		return nil, err
	}
	target, err := linkage.NewRef(string(linkage.ModuleHelpdesk), ticketID)
	if err != nil {
		return nil, err
	}

	return o.execute(ctx, "record_ticket", link.Source.EntityID, func(c *command) error {
		current, err := c.repos.Links.GetByID(c.ctx, linkID)
		if err != nil {
			return err
		}
		if current.HasTicket() {
			if current.Target.EntityID == ticketID {
				c.skipUpdate = true
				return nil
			}
			return internal.NewConflictError(
				fmt.Sprintf("link already has ticket %s", current.Target.EntityID), internal.ErrCodeTicketAlreadyRecorded)
		}
		if err := c.repos.Links.SetTarget(c.ctx, linkID, target); err != nil {
			return err
		}
		c.app.AddRelatedTicket(ticketID)
		c.app.UpdatedAt = c.now
		return c.emit(events.EventTypeHelpdeskTicketRecorded, events.HelpdeskTicketRecorded{
			ApplicationID: c.app.ID,
			LinkID:        linkID,
			TicketID:      ticketID,
			RecordedAt:    c.now,
		})
	})
}

// LinkTicket links an existing helpdesk ticket by hand. Damage links are
// only created by returns.
func (o *Orchestrator) LinkTicket(ctx context.Context, applicationID string, dto loan.LinkTicketDTO) (*Result, error) {
	linkType, err := linkage.ParseLinkType(dto.LinkType)
	if err != nil {
		return nil, err
	}
	if linkType == linkage.LinkAssetDamageReport {
		return nil, internal.NewValidationFieldError("link_type", "damage report links are created by returns", internal.ErrCodeValidationFailed)
	}
	return o.execute(ctx, "link_ticket", applicationID, func(c *command) error {
		if _, _, err := o.linker.LinkTicket(c.ctx, c.repos.Links, c.app.ID, dto.TicketID, linkType, c.now); err != nil {
			return err
		}
		if c.app.AddRelatedTicket(dto.TicketID) {
			c.app.UpdatedAt = c.now
		}
		return nil
	})
}

func (o *Orchestrator) Anonymize(ctx context.Context, applicationID string) (*Result, error) {
	return o.execute(ctx, "anonymize", applicationID, func(c *command) error {
		return c.app.Anonymize(c.now)
	})
}

// Claim binds a guest application to the authenticated actor whose
// directory email matches the applicant email.
func (o *Orchestrator) Claim(ctx context.Context, applicationID string) (*Result, error) {
	return o.execute(ctx, "claim", applicationID, func(c *command) error {
		if c.actor == "" {
			return internal.NewUnauthorizedError("claiming an application requires a signed-in user", internal.ErrCodeInvalidToken)
		}
		user, err := o.directory.Lookup(c.ctx, c.actor)
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(user.Email), c.app.ApplicantEmail) {
			return internal.NewGuardFailedError("applicant_email", "only the applicant can claim this application")
		}
		return c.app.Claim(c.actor, c.now)
	})
}

func (o *Orchestrator) Get(ctx context.Context, applicationID string) (*loan.Application, error) {
	app, err := o.uow.Repos().Loans.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, app, accessReader); err != nil {
		return nil, err
	}
	return app, nil
}

func (o *Orchestrator) GetByNumber(ctx context.Context, number string) (*loan.Application, error) {
	app, err := o.uow.Repos().Loans.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, app, accessReader); err != nil {
		return nil, err
	}
	return app, nil
}

// List shows managers every application and everyone else their own.
func (o *Orchestrator) List(ctx context.Context, q loan.ListQuery) ([]*loan.Application, error) {
	actorID := internal.ActorIDFromContext(ctx)
	if actorID != "" && !q.Mine {
		user, err := o.directory.Lookup(ctx, actorID)
		if err != nil && !internal.IsErrorCode(err, internal.ErrCodeUserNotFound) {
			return nil, err
		}
		q.Mine = err != nil || !isManager(user)
	}
	filter, err := q.Filter(actorID)
	if err != nil {
		return nil, err
	}
	return o.uow.Repos().Loans.List(ctx, filter)
}

// Details is an application with its full history.
type Details struct {
	Application  *loan.Application   `json:"application"`
	Decisions    []*loan.Decision    `json:"decisions"`
	Transactions []*loan.Transaction `json:"transactions"`
	Links        []*linkage.Link     `json:"links"`
	Timers       []*sla.Timer        `json:"timers"`
}

func (o *Orchestrator) Details(ctx context.Context, applicationID string) (*Details, error) {
	r := o.uow.Repos()
	app, err := r.Loans.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, app, accessReader); err != nil {
		return nil, err
	}
	decisions, err := r.Loans.ListDecisions(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	txs, err := r.Loans.ListTransactions(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	links, err := r.Links.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	timers, err := r.Timers.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return &Details{
		Application:  app,
		Decisions:    decisions,
		Transactions: txs,
		Links:        links,
		Timers:       timers,
	}, nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
