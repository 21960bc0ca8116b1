// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/distill"
	"github.com/StamperDavid/prospect-intel/internal/metrics"
	"github.com/StamperDavid/prospect-intel/internal/progress"
	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/ratelimit"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// PatternSource resolves the signal patterns and scoring rules configured for
// an industry.
type PatternSource interface {
	PatternsFor(ctx context.Context, industryID string) (distill.PatternSet, error)
}

// Config controls Runner behavior.
type Config struct {
	OrganizationID string
	ContentType    string
	BlobPrefix     string
	Topic          string
	CacheTTL       time.Duration
	RetentionTTL   time.Duration
	LeadScoreCap   float64
	// MinContentBytes triggers headless promotion when a plain fetch returns
	// less content than this.
	MinContentBytes int
}

func (c Config) withDefaults() Config {
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = 30 * 24 * time.Hour
	}
	if c.LeadScoreCap <= 0 {
		c.LeadScoreCap = distill.DefaultLeadScoreCap
	}
	if c.MinContentBytes <= 0 {
		c.MinContentBytes = 512
	}
	return c
}

// Runner consumes queued jobs and executes the scrape pipeline: rate-limited
// fetch, distillation, scoring, persistence, and progress emission.
type Runner struct {
	queue    *queue.Queue
	cache    *scrape.Cache
	limiter  *ratelimit.Limiter
	handler  *scrape.ErrorHandler
	tracker  *progress.Tracker
	engine   *distill.Engine
	patterns PatternSource

	probeFetcher    scrape.Fetcher
	headlessFetcher scrape.Fetcher

	scrapes   scrape.ScrapeStore
	blobs     scrape.BlobStore
	publisher scrape.Publisher
	hasher    scrape.Hasher
	clock     scrape.Clock
	ids       scrape.IDGenerator

	cfg    Config
	logger *zap.Logger
}

// Deps bundles the Runner's collaborators.
type Deps struct {
	Queue           *queue.Queue
	Cache           *scrape.Cache
	Limiter         *ratelimit.Limiter
	ErrorHandler    *scrape.ErrorHandler
	Tracker         *progress.Tracker
	Engine          *distill.Engine
	Patterns        PatternSource
	ProbeFetcher    scrape.Fetcher
	HeadlessFetcher scrape.Fetcher
	Scrapes         scrape.ScrapeStore
	Blobs           scrape.BlobStore
	Publisher       scrape.Publisher
	Hasher          scrape.Hasher
	Clock           scrape.Clock
	IDs             scrape.IDGenerator
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if deps.ProbeFetcher == nil {
		return nil, fmt.Errorf("probe fetcher is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("distill engine is required")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:           deps.Queue,
		cache:           deps.Cache,
		limiter:         deps.Limiter,
		handler:         deps.ErrorHandler,
		tracker:         deps.Tracker,
		engine:          deps.Engine,
		patterns:        deps.Patterns,
		probeFetcher:    deps.ProbeFetcher,
		headlessFetcher: deps.HeadlessFetcher,
		scrapes:         deps.Scrapes,
		blobs:           deps.Blobs,
		publisher:       deps.Publisher,
		hasher:          deps.Hasher,
		clock:           deps.Clock,
		ids:             deps.IDs,
		cfg:             cfg.withDefaults(),
		logger:          logger,
	}, nil
}

// Run blocks, consuming queued jobs until the context finishes or the queue
// closes.
func (r *Runner) Run(ctx context.Context) {
	for {
		config, err := r.queue.DequeueWait(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.logger.Debug("dequeued job", zap.String("job_id", config.JobID))
		r.processJob(ctx, config)
	}
}

func (r *Runner) processJob(ctx context.Context, config scrape.JobConfig) {
	if err := r.queue.MarkRunning(config.JobID); err != nil {
		r.logger.Warn("mark running failed", zap.String("job_id", config.JobID), zap.Error(err))
		return
	}
	attempt := 1
	if job, ok := r.queue.Job(config.JobID); ok {
		attempt = job.Attempt + 1
	}
	started := r.clock.Now()
	r.emit(progress.Event{JobID: config.JobID, TS: started, Stage: progress.StageJobStart, URL: config.URL, Attempt: attempt})

	signals, leadScore, err := r.execute(ctx, config, attempt)
	if err != nil {
		r.finishWithError(ctx, config, attempt, err)
		return
	}

	if err := r.queue.Complete(config.JobID, signals, leadScore); err != nil {
		r.logger.Error("complete job failed", zap.String("job_id", config.JobID), zap.Error(err))
		return
	}
	r.emit(progress.Event{
		JobID:       config.JobID,
		TS:          r.clock.Now(),
		Stage:       progress.StageJobDone,
		URL:         config.URL,
		SignalCount: len(signals),
		LeadScore:   leadScore,
		Dur:         r.clock.Now().Sub(started),
	})
}

// execute runs one attempt of the pipeline and returns the extracted signals
// and lead score.
func (r *Runner) execute(ctx context.Context, config scrape.JobConfig, attempt int) ([]scrape.ExtractedSignal, float64, error) {
	normalized, err := scrape.NormalizeURL(config.URL)
	if err != nil {
		return nil, 0, &scrape.ValidationError{Reason: fmt.Sprintf("unparseable url %q", config.URL)}
	}

	if r.cache != nil {
		if entry := r.cache.Get(normalized); entry != nil {
			metrics.ObserveCacheEvent("hit")
			r.emit(progress.Event{JobID: config.JobID, TS: r.clock.Now(), Stage: progress.StageCacheHit, URL: config.URL})
			return entry.Result.Signals, entry.Result.LeadScore, nil
		}
		metrics.ObserveCacheEvent("miss")
	}

	domain := scrape.NormalizeDomain(config.URL)
	if r.limiter != nil {
		waitStart := time.Now()
		if err := r.limiter.WaitForSlot(ctx, domain); err != nil {
			return nil, 0, fmt.Errorf("wait for rate-limit slot: %w", err)
		}
		metrics.ObserveRateLimitDelay(domain, time.Since(waitStart))
	}

	r.emit(progress.Event{JobID: config.JobID, TS: r.clock.Now(), Stage: progress.StageFetchStart, Domain: domain, URL: config.URL})
	resp, err := r.fetch(ctx, config)
	if err != nil {
		return nil, 0, err
	}
	r.emit(progress.Event{
		JobID:  config.JobID,
		TS:     r.clock.Now(),
		Stage:  progress.StageFetchDone,
		Domain: domain,
		URL:    config.URL,
		Bytes:  int64(len(resp.Content)),
		Dur:    resp.Duration,
	})

	hash, err := r.hasher.Hash(resp.Content)
	if err != nil {
		return nil, 0, fmt.Errorf("hash content: %w", err)
	}

	now := r.clock.Now()
	duplicate := false
	if r.scrapes != nil {
		_, duplicate, err = r.scrapes.ObserveContent(ctx, hash, now)
		if err != nil {
			r.logger.Warn("content dedup check failed", zap.String("job_id", config.JobID), zap.Error(err))
		}
	}

	blobURI := ""
	if r.blobs != nil && !duplicate {
		blobURI, err = r.blobs.PutObject(ctx, r.buildBlobPath(config.JobID, hash), r.cfg.ContentType, resp.Content)
		if err != nil {
			return nil, 0, fmt.Errorf("archive content: %w", err)
		}
	}

	scrapeID, err := r.ids.NewID()
	if err != nil {
		return nil, 0, fmt.Errorf("new scrape id: %w", err)
	}

	set, err := r.patternSet(ctx, config.IndustryID)
	if err != nil {
		return nil, 0, fmt.Errorf("load patterns: %w", err)
	}

	content := r.engine.RemoveFluff(string(resp.Content), set.FluffRegexps())
	signals := r.engine.DetectHighValueSignals(content, set.Signals, config.Platform, scrapeID)
	leadScore := r.engine.CalculateLeadScore(signals, set, nil, r.cfg.LeadScoreCap)
	r.emit(progress.Event{
		JobID:       config.JobID,
		TS:          r.clock.Now(),
		Stage:       progress.StageSignals,
		URL:         config.URL,
		SignalCount: len(signals),
	})

	if r.scrapes != nil {
		record := scrape.ScrapeRecord{
			ScrapeID:       scrapeID,
			OrganizationID: r.cfg.OrganizationID,
			URL:            normalized,
			Platform:       config.Platform,
			ContentHash:    hash,
			BlobURI:        blobURI,
			FetchedAt:      now,
			ExpiresAt:      now.Add(r.cfg.RetentionTTL),
		}
		if err := r.scrapes.SaveScrape(ctx, record); err != nil {
			r.logger.Error("save scrape record failed", zap.String("job_id", config.JobID), zap.Error(err))
		}
	}

	if r.cache != nil {
		r.cache.Set(normalized, scrape.CachedResult{
			Signals:     signals,
			LeadScore:   leadScore,
			ContentHash: hash,
			FetchedAt:   now,
		}, r.cfg.CacheTTL)
	}

	r.publishSignals(ctx, config, scrapeID, signals, leadScore)
	return signals, leadScore, nil
}

// fetch runs the plain fetch and promotes to the headless fetcher when the
// response looks like a JavaScript shell.
func (r *Runner) fetch(ctx context.Context, config scrape.JobConfig) (scrape.FetchResponse, error) {
	request := scrape.FetchRequest{
		JobID:    config.JobID,
		URL:      config.URL,
		Platform: config.Platform,
	}
	resp, err := r.probeFetcher.Fetch(ctx, request)
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("fetch %s: %w", config.URL, err)
	}

	if r.headlessFetcher == nil || !r.shouldPromote(resp) {
		return resp, nil
	}

	request.UseHeadless = true
	headlessResp, err := r.headlessFetcher.Fetch(ctx, request)
	if err != nil {
		r.logger.Warn("headless promotion failed",
			zap.String("job_id", config.JobID),
			zap.String("url", config.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	headlessResp.UsedHeadless = true
	r.logger.Info("headless promotion applied",
		zap.String("job_id", config.JobID),
		zap.String("url", config.URL),
	)
	return headlessResp, nil
}

// shouldPromote flags responses that likely need JavaScript rendering: a
// near-empty body or an explicit noscript prompt.
func (r *Runner) shouldPromote(resp scrape.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	if len(resp.Content) < r.cfg.MinContentBytes {
		return true
	}
	lowered := strings.ToLower(string(resp.Content))
	return strings.Contains(lowered, "enable javascript") ||
		strings.Contains(lowered, "<noscript")
}

func (r *Runner) finishWithError(ctx context.Context, config scrape.JobConfig, attempt int, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		if failErr := r.queue.Fail(config.JobID, "cancelled: "+err.Error()); failErr != nil {
			r.logger.Warn("fail job failed", zap.String("job_id", config.JobID), zap.Error(failErr))
		}
		r.emit(progress.Event{JobID: config.JobID, TS: r.clock.Now(), Stage: progress.StageJobCancelled, URL: config.URL, Note: err.Error()})
		return
	}

	if r.handler != nil && r.handler.ShouldRetry(err, attempt) {
		delay := r.handler.RetryDelay(attempt)
		r.emit(progress.Event{
			JobID:   config.JobID,
			TS:      r.clock.Now(),
			Stage:   progress.StageJobRetry,
			URL:     config.URL,
			Attempt: attempt,
			Note:    err.Error(),
		})
		r.logger.Info("retrying job",
			zap.String("job_id", config.JobID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if !sleep(ctx, delay) {
			if failErr := r.queue.Fail(config.JobID, "cancelled during retry backoff"); failErr != nil {
				r.logger.Warn("fail job failed", zap.String("job_id", config.JobID), zap.Error(failErr))
			}
			return
		}
		if requeueErr := r.queue.Requeue(config.JobID); requeueErr != nil {
			r.logger.Error("requeue failed", zap.String("job_id", config.JobID), zap.Error(requeueErr))
		}
		return
	}

	errText := err.Error()
	if r.handler != nil {
		errText = r.handler.Format(err).Message
	}
	if failErr := r.queue.Fail(config.JobID, errText); failErr != nil {
		r.logger.Warn("fail job failed", zap.String("job_id", config.JobID), zap.Error(failErr))
	}
	r.emit(progress.Event{JobID: config.JobID, TS: r.clock.Now(), Stage: progress.StageJobError, URL: config.URL, Note: errText})
}

func (r *Runner) patternSet(ctx context.Context, industryID string) (distill.PatternSet, error) {
	if r.patterns == nil {
		return distill.PatternSet{}, nil
	}
	return r.patterns.PatternsFor(ctx, industryID)
}

func (r *Runner) publishSignals(
	ctx context.Context,
	config scrape.JobConfig,
	scrapeID string,
	signals []scrape.ExtractedSignal,
	leadScore float64,
) {
	if r.publisher == nil || r.cfg.Topic == "" || len(signals) == 0 {
		return
	}
	payload := map[string]any{
		"job_id":       config.JobID,
		"industry_id":  config.IndustryID,
		"scrape_id":    scrapeID,
		"url":          config.URL,
		"platform":     config.Platform,
		"signals":      signals,
		"lead_score":   leadScore,
		"published_at": r.clock.Now().Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		r.logger.Error("publish signals failed",
			zap.String("job_id", config.JobID),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("signals published",
		zap.String("job_id", config.JobID),
		zap.Int("signal_count", len(signals)),
		zap.Float64("lead_score", leadScore),
	)
}

func (r *Runner) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(r.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (r *Runner) emit(evt progress.Event) {
	if r.tracker == nil {
		return
	}
	r.tracker.Emit(evt)
}

// sleep waits delay unless the context ends first. Returns false on cancel.
func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
