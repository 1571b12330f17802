// Package meet drives a headless Chrome tab joined to a Google Meet call and
// feeds the caption and chat DOM into a capture session.
package meet

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/meetscribe/meetscribe/internal/capture"
	"github.com/meetscribe/meetscribe/internal/types"
)

const (
	// defaultPollInterval is how often the caption region is sampled. Meet
	// rewrites caption text in place, so sampling the full block suffices.
	defaultPollInterval = 500 * time.Millisecond

	// joinTimeout bounds the wait for the in-call UI (the call end icon).
	joinTimeout = 5 * time.Minute
)

// pageSnapshot is one sample of the in-call DOM.
type pageSnapshot struct {
	Ended       bool          `json:"ended"`
	HasCaptions bool          `json:"hasCaptions"`
	Speaker     string        `json:"speaker"`
	Avatar      string        `json:"avatar"`
	Text        string        `json:"text"`
	Chat        []chatMessage `json:"chat"`
}

type chatMessage struct {
	Person string `json:"person"`
	Text   string `json:"text"`
}

// Agent owns one meeting tab for its whole lifetime.
type Agent struct {
	url      string
	mode     string
	interval time.Duration
	session  *capture.Session
	names    capture.NameCache
}

// NewAgent creates an agent that will join url and feed session. Mode
// ModeAuto turns captions on after joining; ModeManual leaves them as found.
// names may be nil; it is used to label speakers whose caption block shows an
// avatar image but no name.
func NewAgent(url, mode string, session *capture.Session, names capture.NameCache) *Agent {
	return &Agent{
		url:      url,
		mode:     mode,
		interval: defaultPollInterval,
		session:  session,
		names:    names,
	}
}

// Run joins the meeting and samples captions and chat until the call ends or
// ctx is cancelled. The session is always ended before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	log.Printf("Joining meeting: %s", a.url)
	if err := a.join(browserCtx); err != nil {
		return fmt.Errorf("failed to join meeting: %w", err)
	}

	a.readIdentity(browserCtx)
	a.session.Start(time.Now())

	if a.mode == types.ModeAuto {
		if err := a.enableCaptions(browserCtx); err != nil {
			log.Printf("Failed to enable captions: %v", err)
		}
	}

	hasRegion := false
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(
		`document.querySelector('div[role="region"][tabindex="0"]') !== null`, &hasRegion)); err == nil && !hasRegion {
		a.session.NoteCaptionSourceMissing(types.ErrDomDependencyMissing)
	}

	err := a.observe(browserCtx)

	endCtx, endCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer endCancel()
	if endErr := a.session.End(endCtx, time.Now()); endErr != nil {
		log.Printf("Failed to end meeting session: %v", endErr)
	}
	return err
}

// join navigates to the meeting and waits for the in-call UI.
func (a *Agent) join(ctx context.Context) error {
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	// The call end icon appearing is the reliable signal that the lobby has
	// been passed and the call UI is live.
	const waitInCall = `
		new Promise((resolve) => {
			const check = () => {
				const inCall = Array.from(document.querySelectorAll(".google-symbols"))
					.some((el) => el.textContent === "call_end");
				if (inCall) { resolve(true); } else { setTimeout(check, 500); }
			};
			check();
		})`

	var inCall bool
	return chromedp.Run(joinCtx,
		chromedp.Navigate(a.url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(waitInCall, &inCall, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
}

// readIdentity picks up the local display name and the meeting title from
// the call UI. Both are best-effort; the session has fallbacks.
func (a *Agent) readIdentity(ctx context.Context) {
	var userName string
	if err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.querySelector(".awLEm")?.textContent ?? ""`, &userName)); err == nil && userName != "" {
		a.session.SetLocalDisplayName(userName)
	}

	var title string
	if err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.querySelector(".u6vdEc")?.textContent ?? ""`, &title)); err == nil && title != "" {
		a.session.SetTitle(title)
	}
}

// enableCaptions clicks the closed caption toggle if captions are off.
func (a *Agent) enableCaptions(ctx context.Context) error {
	const clickCaptions = `
		(() => {
			const icon = Array.from(document.querySelectorAll(".google-symbols"))
				.find((el) => el.textContent === "closed_caption_off");
			if (!icon) { return false; }
			icon.parentElement.click();
			return true;
		})()`

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(clickCaptions, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return types.ErrDomDependencyMissing
	}
	log.Println("Captions enabled")
	return nil
}

// samplePage reads the caption region, the call state and the newest chat
// messages in one evaluate round trip.
const samplePage = `
	(() => {
		const out = { ended: false, hasCaptions: false, speaker: "", text: "", chat: [] };

		out.ended = !Array.from(document.querySelectorAll(".google-symbols"))
			.some((el) => el.textContent === "call_end");

		const region = document.querySelector('div[role="region"][tabindex="0"]');
		if (region) {
			out.hasCaptions = true;
			const blocks = Array.from(region.children);
			// The last two children are non-caption chrome; the active
			// caption block sits just before them.
			const active = blocks[blocks.length - 3];
			if (active && active.children.length >= 2) {
				out.speaker = active.children[0]?.textContent ?? "";
				out.avatar = active.querySelector("img")?.src ?? "";
				out.text = active.children[1]?.textContent ?? "";
			}
		}

		const chatRoot = document.querySelector('div[aria-live="polite"].Ge9Kpc');
		if (chatRoot) {
			for (const entry of Array.from(chatRoot.children)) {
				const person = entry.querySelector("[data-sender-name]")?.getAttribute("data-sender-name")
					?? entry.firstChild?.firstChild?.textContent ?? "";
				const text = entry.lastChild?.textContent ?? "";
				if (text) { out.chat.push({ person: person, text: text }); }
			}
		}
		return out;
	})()`

// observe runs the sampling loop until the call ends or ctx is cancelled.
func (a *Agent) observe(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var snap pageSnapshot
		if err := chromedp.Run(ctx, chromedp.Evaluate(samplePage, &snap)); err != nil {
			return fmt.Errorf("failed to sample meeting page: %w", err)
		}

		now := time.Now()
		speaker := capture.ResolveSpeaker(a.names, snap.Speaker, snap.Avatar)
		if speaker != "" && snap.Text != "" {
			a.session.OnTextSnapshot(speaker, snap.Text, now)
		} else {
			a.session.OnSilence(now)
		}
		for _, m := range snap.Chat {
			a.session.OnChatMessage(m.Person, m.Text, now)
		}

		if snap.Ended {
			log.Println("Call end icon gone, meeting over")
			return nil
		}
	}
}
