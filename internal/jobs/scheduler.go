package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
	// Schedule is a standard five-field cron expression, evaluated in UTC
	Schedule() string
}

// JobScheduler runs registered jobs on their cron schedules
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]Job
	handles   map[string]gocron.Job
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	running   bool
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]Job),
		handles:   make(map[string]gocron.Job),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// ValidateSchedule checks a five-field cron expression
func ValidateSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(name string, job Job) error {
	if err := ValidateSchedule(job.Schedule()); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s is already registered", name)
	}

	handle, err := s.scheduler.NewJob(
		gocron.CronJob(job.Schedule(), false),
		gocron.NewTask(func() {
			s.runJob(name, job)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = job
	s.handles[name] = handle
	log.Printf("✅ [SCHEDULER] Registered job: %s (%s)", name, job.Schedule())
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Started job scheduler with %d jobs", len(s.jobs))
}

// runJob executes a job once and logs the outcome
func (s *JobScheduler) runJob(name string, job Job) {
	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
}

// Stop cancels running jobs and waits for them to return
func (s *JobScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.running = false
	s.cancel()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow immediately runs a specific job
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return job.Run(s.ctx)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus)
	for name, job := range s.jobs {
		js := JobStatus{
			Name:       name,
			Schedule:   job.Schedule(),
			Registered: true,
		}
		if next, err := s.handles[name].NextRun(); err == nil {
			js.NextRunTime = next
		}
		status[name] = js
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	NextRunTime time.Time `json:"next_run_time"`
	Registered  bool      `json:"registered"`
}
