package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frahmantamala/asset-loan/internal/workflow"
)

var ErrQueueFull = errors.New("helpdesk ticket queue full")

// TicketRecorder stores the ticket id the helpdesk assigned to a link.
type TicketRecorder interface {
	RecordHelpdeskTicket(ctx context.Context, linkID, ticketID string) (*workflow.Result, error)
}

type TicketJob struct {
	Request TicketRequest
	Attempt int
}

type Worker struct {
	ID         int
	WorkerPool chan chan TicketJob
	JobChannel chan TicketJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan TicketJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan TicketJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(TicketJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "link_id", job.Request.ExternalID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	BaseURL      string
	APIKey       string
	CallbackURL  string
	Timeout      time.Duration
	MaxWorkers   int
	JobQueueSize int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
	recorder    TicketRecorder
	logger      *slog.Logger

	jobQueue   chan TicketJob
	workerPool chan chan TicketJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewClient(config Config, recorder TicketRecorder, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := config.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	client := &Client{
		baseURL:     config.BaseURL,
		apiKey:      config.APIKey,
		callbackURL: config.CallbackURL,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		httpClient:  &http.Client{Timeout: timeout},
		recorder:    recorder,
		logger:      logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan TicketJob, jobQueueSize),
		workerPool: make(chan chan TicketJob, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.startWorkerPool()

	return client
}

func (c *Client) startWorkerPool() {
	c.once.Do(func() {
		for i := 0; i < c.maxWorkers; i++ {
			worker := NewWorker(i, c.workerPool, c.logger)
			worker.Start(c.ctx, &c.wg, c.processTicketJob)
		}

		c.wg.Add(1)
		go c.dispatch()

		c.logger.Info("helpdesk worker pool started",
			"max_workers", c.maxWorkers,
			"queue_size", cap(c.jobQueue))
	})
}

func (c *Client) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case job := <-c.jobQueue:
			select {
			case jobChannel := <-c.workerPool:
				select {
				case jobChannel <- job:
				case <-c.ctx.Done():
					c.logger.Info("dispatcher shutting down")
					return
				}
			case <-c.ctx.Done():
				c.logger.Info("dispatcher shutting down")
				return
			}
		case <-c.ctx.Done():
			c.logger.Info("dispatcher shutting down")
			return
		}
	}
}

func (c *Client) Shutdown() {
	c.logger.Info("shutting down helpdesk client")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("helpdesk client shutdown complete")
}

// Enabled reports whether a helpdesk endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Enqueue schedules ticket creation. It never blocks; a full queue is an
// error so the caller can retry the event later.
func (c *Client) Enqueue(req TicketRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}

	select {
	case c.jobQueue <- TicketJob{Request: req, Attempt: 1}:
		c.logger.Info("helpdesk ticket job queued",
			"link_id", req.ExternalID,
			"application_id", req.ApplicationID,
			"queue_length", len(c.jobQueue))
		return nil
	default:
		c.logger.Warn("helpdesk job queue full",
			"link_id", req.ExternalID,
			"queue_capacity", cap(c.jobQueue))
		return ErrQueueFull
	}
}

func (c *Client) processTicketJob(job TicketJob) {
	for attempt := job.Attempt; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.CreateTicket(c.ctx, &job.Request)
		if err == nil {
			c.record(job.Request, resp)
			return
		}

		c.logger.Warn("helpdesk ticket creation failed",
			"link_id", job.Request.ExternalID,
			"attempt", attempt,
			"error", err)

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-c.ctx.Done():
			c.logger.Info("helpdesk job cancelled", "link_id", job.Request.ExternalID)
			return
		}
	}

	c.logger.Error("giving up on helpdesk ticket",
		"link_id", job.Request.ExternalID,
		"application_id", job.Request.ApplicationID,
		"attempts", c.maxAttempts)
}

// record stores the ticket id when the helpdesk returned one synchronously.
// Otherwise the helpdesk callback delivers it later.
func (c *Client) record(req TicketRequest, resp *TicketResponse) {
	if resp.Data.ID == "" {
		c.logger.Info("helpdesk accepted ticket asynchronously", "link_id", req.ExternalID, "status", resp.Data.Status)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if _, err := c.recorder.RecordHelpdeskTicket(ctx, req.ExternalID, resp.Data.ID); err != nil {
		c.logger.Error("failed to record helpdesk ticket",
			"link_id", req.ExternalID,
			"ticket_id", resp.Data.ID,
			"error", err)
		return
	}
	c.logger.Info("helpdesk ticket recorded", "link_id", req.ExternalID, "ticket_id", resp.Data.ID)
}

// CreateTicket posts one ticket request to the helpdesk API.
func (c *Client) CreateTicket(ctx context.Context, req *TicketRequest) (*TicketResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ExternalID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("helpdesk API returned status %d", resp.StatusCode)
	}

	var apiResponse TicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &apiResponse, nil
}
