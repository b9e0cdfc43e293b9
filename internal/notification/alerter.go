package notification

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"golang.org/x/time/rate"
)

// BlockAlerter mails a summary whenever a source gets blocked. It implements
// model.Broadcaster and ignores every other event kind. Mails are spaced by at
// least minInterval; blocks arriving in between are folded into the next mail.
type BlockAlerter struct {
	notifier model.Notifier
	limiter  *rate.Limiter
	queue    chan model.BlockedIP
	dropped  atomic.Uint64
}

// NewBlockAlerter creates an alerter. A non-positive minInterval disables throttling.
func NewBlockAlerter(notifier model.Notifier, minInterval time.Duration) *BlockAlerter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &BlockAlerter{
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, 1),
		queue:    make(chan model.BlockedIP, 64),
	}
}

// Broadcast queues ip-blocked events for mailing.
func (a *BlockAlerter) Broadcast(kind model.EventKind, payload interface{}) {
	if kind != model.EventIPBlocked {
		return
	}
	var rec model.BlockedIP
	switch p := payload.(type) {
	case model.BlockedIP:
		rec = p
	case *model.BlockedIP:
		rec = *p
	default:
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.dropped.Add(1)
	}
}

// Serve mails queued blocks until ctx is cancelled. Pending blocks are mailed
// on the way out.
func (a *BlockAlerter) Serve(ctx context.Context) error {
	logging.Info().Msg("block alerter started")
	var pending []model.BlockedIP
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drain(&pending)
			if len(pending) > 0 {
				a.flush(pending)
			}
			return ctx.Err()
		case rec := <-a.queue:
			pending = append(pending, rec)
		case <-ticker.C:
		}
		if len(pending) > 0 && a.limiter.Allow() {
			a.flush(pending)
			pending = nil
		}
	}
}

func (a *BlockAlerter) drain(pending *[]model.BlockedIP) {
	for {
		select {
		case rec := <-a.queue:
			*pending = append(*pending, rec)
		default:
			return
		}
	}
}

func (a *BlockAlerter) flush(blocks []model.BlockedIP) {
	subject, body := Render(blocks, a.dropped.Swap(0))
	if err := a.notifier.Send(subject, body); err != nil {
		logging.Error().Err(err).Int("blocks", len(blocks)).Msg("failed to send block notification")
		return
	}
	logging.Info().Int("blocks", len(blocks)).Msg("block notification sent")
}

// markdownPunct is every byte the markdown parser honours a backslash escape for.
const markdownPunct = "\\`*_{}[]()#+-.!:|&<>~^$"

// Render builds the mail subject and HTML body for a set of blocks. Cell text
// is rendered literally and raw HTML is dropped.
func Render(blocks []model.BlockedIP, dropped uint64) (string, string) {
	var md strings.Builder
	md.WriteString("# Go2NetSentinel block report\n\n")
	md.WriteString("| Address | Blocked at (UTC) | Reason | Threats |\n")
	md.WriteString("|---|---|---|---|\n")
	for _, b := range blocks {
		fmt.Fprintf(&md, "| %s | %s | %s | %d |\n",
			escapeCell(b.IPAddress), b.BlockedAt.UTC().Format(time.RFC3339), escapeCell(b.Reason), b.ThreatCount)
	}
	if dropped > 0 {
		fmt.Fprintf(&md, "\n%d further block(s) were not itemised.\n", dropped)
	}

	var subject string
	switch len(blocks) {
	case 0:
		subject = "Go2NetSentinel: block report"
	case 1:
		subject = fmt.Sprintf("Go2NetSentinel: %s blocked", blocks[0].IPAddress)
	default:
		subject = fmt.Sprintf("Go2NetSentinel: %d sources blocked", len(blocks))
	}
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return subject, string(markdown.ToHTML([]byte(md.String()), nil, renderer))
}

// escapeCell backslash-escapes markdown punctuation so the text cannot open
// links, tags or new cells. Line breaks would end the table row.
func escapeCell(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r < 0x80 && strings.ContainsRune(markdownPunct, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
