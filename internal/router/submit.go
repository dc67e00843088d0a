package router

import (
	"log"
	"strings"
	"unicode/utf8"

	"vibepie/internal/broadcast"
	"vibepie/internal/metrics"
	"vibepie/internal/queue"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// User-visible rejection texts.
const (
	MsgEmptyPrompt   = "请输入内容"
	MsgPromptTooLong = "内容过长，请控制在200字以内"
	MsgModerated     = "内容不合适，请换个说法"
	MsgQueueFull     = "队列已满，请稍后再试"
)

// submit runs the submission gates in order: length, rate limit, moderation,
// capacity. Only a prompt that passes all of them is enqueued, and only then
// is the session's rate-limit timestamp updated.
func (r *Router) submit(conn interfaces.Connection, msg *types.SubmitPrompt) error {
	prompt := strings.TrimSpace(msg.Prompt)
	sessionID := conn.GetSessionID()

	if prompt == "" {
		return r.reject(conn, metrics.SubmissionEmpty, types.NewError(MsgEmptyPrompt))
	}
	if utf8.RuneCountInString(prompt) > r.maxPromptRunes {
		return r.reject(conn, metrics.SubmissionTooLong, types.NewError(MsgPromptTooLong))
	}

	if wait, ok := r.limiter.Check(sessionID); !ok {
		return r.reject(conn, metrics.SubmissionRateLimited,
			&types.RateLimitedMessage{Type: types.MessageTypeRateLimited, WaitSeconds: wait})
	}

	if r.moderator != nil && !r.moderator.Allow(prompt) {
		log.Printf("Prompt from %s blocked by moderation", sessionID)
		return r.reject(conn, metrics.SubmissionModerated, types.NewError(MsgModerated))
	}

	position, err := r.queue.Add(queue.Item{Prompt: prompt, SessionID: sessionID, Reply: conn})
	if err != nil {
		return r.reject(conn, metrics.SubmissionQueueFull, types.NewError(MsgQueueFull))
	}

	r.limiter.Record(sessionID)
	metrics.Submissions.WithLabelValues(metrics.SubmissionQueued).Inc()
	broadcast.Reply(conn, &types.QueuedMessage{Type: types.MessageTypeQueued, Position: position})
	r.dispatcher.ToAll(types.NewQueueUpdate(r.queue.Size()))

	log.Printf("Prompt queued (#%d) from %s: %q", position, sessionID, prompt)

	if r.trigger != nil {
		r.trigger.Trigger()
	}
	return nil
}

func (r *Router) reject(conn interfaces.Connection, outcome string, reply interface{}) error {
	metrics.Submissions.WithLabelValues(outcome).Inc()
	broadcast.Reply(conn, reply)
	return ErrRejected
}
