// Package generation runs the single-flight prompt worker: pull fresh code,
// generate, validate, retry, then commit and broadcast.
package generation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vibepie/internal/broadcast"
	"vibepie/internal/metrics"
	"vibepie/internal/queue"
	"vibepie/internal/state"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// Notices sent to the submitter.
const (
	MsgProcessing       = "🤖 AI 正在创作…"
	MsgPromptApplied    = "你的修改已生效！🎵"
	MsgGenerationFailed = "代码生成出了点问题，请换个说法试试"
)

// CodeSource supplies the code the generator should edit.
// The pull-sync coordinator satisfies it.
type CodeSource interface {
	RequestFreshCode(ctx context.Context, timeout time.Duration) (string, bool)
}

type Config struct {
	MaxAttempts    int
	SafetyInterval time.Duration
	FailureBackoff time.Duration
	PullTimeout    time.Duration
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		SafetyInterval: 5 * time.Second,
		FailureBackoff: time.Second,
		PullTimeout:    2 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

type Deps struct {
	Queue      *queue.PromptQueue
	Source     CodeSource
	Store      *state.Store
	Dispatcher *broadcast.Dispatcher
	Generator  interfaces.Generator
	Validator  interfaces.Validator
	History    interfaces.HistoryStore // optional
}

// Pipeline consumes the prompt queue one item at a time.
// ARCHITECTURAL DISCOVERY: one worker goroutine drains the queue; triggers
// are coalesced into a cap-1 channel so a burst of submissions is one wakeup
type Pipeline struct {
	cfg  Config
	deps Deps

	signal  chan struct{}
	running atomic.Bool
	busy    atomic.Bool
}

func NewPipeline(cfg Config, deps Deps) *Pipeline {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.SafetyInterval <= 0 {
		cfg.SafetyInterval = defaults.SafetyInterval
	}
	if cfg.FailureBackoff < 0 {
		cfg.FailureBackoff = defaults.FailureBackoff
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = defaults.PullTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaults.AttemptTimeout
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		signal: make(chan struct{}, 1),
	}
}

// Trigger wakes the worker. Never blocks; a wakeup already pending absorbs it.
func (p *Pipeline) Trigger() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Busy reports whether an item is being processed right now.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Run is the worker loop. Only one Run may be active per Pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	// FUNCTIONAL DISCOVERY: safety-net tick covers a trigger lost to a crash
	ticker := time.NewTicker(p.cfg.SafetyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.signal:
		case <-ticker.C:
		}
		p.drain(ctx)
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	for ctx.Err() == nil {
		item, ok := p.deps.Queue.Next()
		if !ok {
			return
		}

		err := p.safeProcess(ctx, item)
		p.deps.Dispatcher.ToAll(types.NewQueueUpdate(p.deps.Queue.Size()))

		if err != nil && p.cfg.FailureBackoff > 0 {
			select {
			case <-time.After(p.cfg.FailureBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

// safeProcess converts a panic anywhere in processing into a terminal
// failure for that item.
func (p *Pipeline) safeProcess(ctx context.Context, item *queue.Item) (err error) {
	p.busy.Store(true)
	defer p.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing prompt: %v", r)
			log.Printf("Generation worker recovered: %v", err)
			metrics.Generations.WithLabelValues("panic").Inc()
			broadcast.Reply(item.Reply, types.NewNotice(types.MessageTypeGenerationFailed, MsgGenerationFailed))
		}
	}()

	p.process(ctx, item)
	return nil
}

func (p *Pipeline) process(ctx context.Context, item *queue.Item) {
	started := time.Now()
	defer func() { metrics.GenerationDuration.Observe(time.Since(started).Seconds()) }()

	log.Printf("Generating code for %q (session %s)", item.Prompt, item.SessionID)
	broadcast.Reply(item.Reply, types.NewNotice(types.MessageTypeProcessing, MsgProcessing))

	codeForAI, fresh := p.deps.Source.RequestFreshCode(ctx, p.cfg.PullTimeout)
	// the store follows whatever the model is about to edit
	p.deps.Store.SetCode(codeForAI)
	if fresh {
		log.Printf("Got fresh code from master (%d chars)", len(codeForAI))
	} else {
		log.Printf("Using last known code (%d chars)", len(codeForAI))
	}
	log.Printf("Code preview: %s", preview(codeForAI))

	newCode, attempts, reason := p.generate(ctx, codeForAI, item.Prompt)
	if newCode == "" {
		log.Printf("Generation failed after %d attempts: %s", attempts, reason)
		metrics.Generations.WithLabelValues(types.GenerationStatusFailed).Inc()
		broadcast.Reply(item.Reply, types.NewNotice(types.MessageTypeGenerationFailed, MsgGenerationFailed))
		p.record(item, types.GenerationStatusFailed, reason, attempts, 0)
		return
	}

	recent := p.deps.Store.Commit(newCode, item.Prompt)
	delivered := p.deps.Dispatcher.ToScreens(types.NewCodeUpdate(newCode, item.Prompt, item.SessionID, recent))
	broadcast.Reply(item.Reply, types.NewNotice(types.MessageTypePromptApplied, MsgPromptApplied))

	metrics.Generations.WithLabelValues(types.GenerationStatusApplied).Inc()
	log.Printf("Code updated (%d chars) and sent to %d screens", len(newCode), delivered)
	p.record(item, types.GenerationStatusApplied, "", attempts, len(newCode))
}

// generate runs the bounded retry loop and returns the accepted code, or ""
// with the last failure reason.
func (p *Pipeline) generate(ctx context.Context, currentCode, prompt string) (string, int, string) {
	reason := ""
	attempt := 0
	for attempt < p.cfg.MaxAttempts && ctx.Err() == nil {
		attempt++
		request := prompt
		if attempt > 1 {
			request = augment(prompt, reason)
			log.Printf("Retrying (attempt %d/%d) after: %s", attempt, p.cfg.MaxAttempts, reason)
		}

		code, err := p.callGenerator(ctx, currentCode, request)
		if err != nil || strings.TrimSpace(code) == "" {
			if err != nil {
				log.Printf("Generator error: %v", err)
			}
			reason = ErrEmptyOutput.Error()
			metrics.GenerationAttempts.WithLabelValues("empty").Inc()
			continue
		}

		verdict := p.deps.Validator.Validate(ctx, code)
		if !verdict.Valid {
			reason = verdict.Reason
			log.Printf("Code validation failed: %s", reason)
			metrics.GenerationAttempts.WithLabelValues("invalid").Inc()
			continue
		}

		metrics.GenerationAttempts.WithLabelValues("ok").Inc()
		return code, attempt, ""
	}
	if reason == "" && ctx.Err() != nil {
		reason = ctx.Err().Error()
	}
	return "", attempt, reason
}

func (p *Pipeline) callGenerator(ctx context.Context, currentCode, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	return p.deps.Generator.Generate(attemptCtx, currentCode, prompt)
}

func (p *Pipeline) record(item *queue.Item, status, reason string, attempts, codeLength int) {
	if p.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &types.GenerationRecord{
		ID:         uuid.NewString(),
		SessionID:  item.SessionID,
		Prompt:     item.Prompt,
		Status:     status,
		Reason:     reason,
		Attempts:   attempts,
		CodeLength: codeLength,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.deps.History.RecordGeneration(ctx, rec); err != nil {
		log.Printf("Failed to record generation history: %v", err)
	}
}

func augment(prompt, reason string) string {
	return fmt.Sprintf("%s\n\nThe previous attempt was rejected (%s). Fix that problem and return the complete code.", prompt, reason)
}

func preview(code string) string {
	r := []rune(code)
	if len(r) > 60 {
		r = r[:60]
	}
	return strings.ReplaceAll(string(r), "\n", " | ") + "..."
}
