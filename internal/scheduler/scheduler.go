// Package scheduler polls the job-control service and announces bot state
// changes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botdash/internal/model"
)

// StatusSource reports the state of the bot process.
type StatusSource interface {
	Status(ctx context.Context) (model.BotStatus, error)
}

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Scheduler periodically polls the bot status and notifies a chat when the
// bot starts, stops, or the job service becomes unreachable.
type Scheduler struct {
	src    StatusSource
	sender Sender
	chatID int64
	log    *slog.Logger
	tick   time.Duration

	mu        sync.Mutex
	current   model.BotStatus
	known     bool
	reachable bool
}

// New creates a Scheduler. With chatID 0 it only tracks the status.
func New(src StatusSource, sender Sender, chatID int64, log *slog.Logger) *Scheduler {
	return &Scheduler{
		src:       src,
		sender:    sender,
		chatID:    chatID,
		log:       log,
		tick:      5 * time.Second,
		reachable: true,
	}
}

// SetTickInterval overrides the default 5-second poll interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Current returns the last polled status. ok is false before the first
// successful poll.
func (s *Scheduler) Current() (status model.BotStatus, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.known
}

// Run starts the polling loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.poll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	st, err := s.src.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("poll bot status", "error", err)

		s.mu.Lock()
		wasReachable := s.reachable
		s.reachable = false
		s.mu.Unlock()

		if wasReachable {
			s.notify(fmt.Sprintf("⚠️ Job service unreachable: %v", err))
		}
		return
	}

	s.mu.Lock()
	prev, known, wasReachable := s.current, s.known, s.reachable
	s.current, s.known, s.reachable = st, true, true
	s.mu.Unlock()

	if !wasReachable {
		s.notify("✅ Job service reachable again.")
	}
	if !known || prev.Status == st.Status {
		return
	}

	s.log.Info("bot status changed", "from", prev.Status, "to", st.Status)
	s.notify(FormatTransition(st))
}

func (s *Scheduler) notify(text string) {
	if s.chatID == 0 || s.sender == nil {
		return
	}
	s.sender.SendMessage(s.chatID, text)
}

// FormatTransition describes the state the bot just entered.
func FormatTransition(st model.BotStatus) string {
	if st.Status != model.BotRunning {
		return "⏹ Bot stopped."
	}
	msg := "▶️ Bot started"
	if st.PID != nil {
		msg += fmt.Sprintf(" (pid %d", *st.PID)
		if st.Mode != "" {
			msg += ", mode " + st.Mode
		}
		msg += ")"
	}
	return msg + "."
}
