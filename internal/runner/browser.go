package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/appwatch/appwatch/internal/probe"
)

// session abstracts the browser operations the login test runner performs,
// so the step state machine can be exercised against a fake in tests. Every
// method honors the deadline of the context it receives; contexts must derive
// from Context().
type session interface {
	// Context is the base context step deadlines are derived from.
	Context() context.Context
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	WaitReady(ctx context.Context) error
	Poll(ctx context.Context, expression string) error
	ElementExists(ctx context.Context, selector string) (bool, error)
	ElementVisible(ctx context.Context, selector string) (bool, error)
	Location(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	EvaluateBool(ctx context.Context, expression string) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]probe.Cookie, error)
	StorageSnapshot(ctx context.Context, kind string) (map[string]string, error)
	// Close releases page, browsing context, and browser process, in that
	// order, exactly once. Safe to call multiple times.
	Close() error
}

// sessionFactory creates a live browser session. Swapped out in tests.
type sessionFactory func(ctx context.Context, env probe.Environment, logger *slog.Logger) (session, error)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// chromedpSession drives a dedicated Chrome process through the devtools
// protocol. One process, one browsing context, one page per probe; nothing is
// reused across invocations.
type chromedpSession struct {
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newChromedpSession(ctx context.Context, env probe.Environment, logger *slog.Logger) (session, error) {
	width, height := env.ViewportWidth, env.ViewportHeight
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", env.Headless),
		chromedp.WindowSize(width, height),
	)
	if env.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(env.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	ctxOpts := []chromedp.ContextOption{}
	if logger != nil {
		ctxOpts = append(ctxOpts, chromedp.WithErrorf(func(format string, args ...any) {
			logger.Error(fmt.Sprintf(format, args...))
		}))
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	// Force the browser process to start so launch failures surface here
	// instead of on the first step.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, probe.NewError(probe.CodeBrowserCrashed, "browser launch failed: %v", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		browserCancel()
		allocCancel()
		return nil, probe.NewError(probe.CodeBrowserCrashed, "page creation failed: %v", err)
	}

	return &chromedpSession{
		tabCtx:        tabCtx,
		tabCancel:     tabCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (s *chromedpSession) Context() context.Context { return s.tabCtx }

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

func (s *chromedpSession) Click(ctx context.Context, selector string) error {
	return chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *chromedpSession) Type(ctx context.Context, selector, text string) error {
	return chromedp.Run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *chromedpSession) SelectOption(ctx context.Context, selector, value string) error {
	return chromedp.Run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (s *chromedpSession) SetChecked(ctx context.Context, selector string, checked bool) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.checked = %t;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, checked)
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return probe.NewError(probe.CodeElementNotFound, "element %q not found", selector)
	}
	return nil
}

// Hover dispatches mouse events in-page; the devtools protocol has no
// first-class hover primitive.
func (s *chromedpSession) Hover(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
			el.dispatchEvent(new MouseEvent(type, {bubbles: true}));
		}
		return true;
	})()`, selector)
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return probe.NewError(probe.CodeElementNotFound, "element %q not found", selector)
	}
	return nil
}

func (s *chromedpSession) Scroll(ctx context.Context, selector string) error {
	if selector == "" {
		return chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
	}
	return chromedp.Run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

func (s *chromedpSession) WaitVisible(ctx context.Context, selector string) error {
	return chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromedpSession) WaitReady(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *chromedpSession) Poll(ctx context.Context, expression string) error {
	return chromedp.Run(ctx, chromedp.Poll(expression, nil))
}

func (s *chromedpSession) ElementExists(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var exists bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &exists)); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *chromedpSession) ElementVisible(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		const style = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
	})()`, selector)
	var visible bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (s *chromedpSession) Location(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (s *chromedpSession) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := chromedp.Run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

func (s *chromedpSession) EvaluateBool(ctx context.Context, expression string) (bool, error) {
	var truthy bool
	expr := fmt.Sprintf("Boolean((%s))", expression)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &truthy)); err != nil {
		return false, err
	}
	return truthy, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) Cookies(ctx context.Context) ([]probe.Cookie, error) {
	var cookies []probe.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, probe.Cookie{
				Name:    c.Name,
				Value:   c.Value,
				Domain:  c.Domain,
				Path:    c.Path,
				Expires: c.Expires,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (s *chromedpSession) StorageSnapshot(ctx context.Context, kind string) (map[string]string, error) {
	if kind != "localStorage" && kind != "sessionStorage" {
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
	expr := fmt.Sprintf(`(() => {
		const out = {};
		const s = window.%s;
		for (let i = 0; i < s.length; i++) {
			const k = s.key(i);
			out[k] = s.getItem(k);
		}
		return out;
	})()`, kind)
	var snapshot map[string]string
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &snapshot)); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Close tears down page, browsing context, and browser process in that
// order. chromedp.Cancel waits for a graceful browser shutdown; the allocator
// cancel then reaps the process if it is still around.
func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := chromedp.Cancel(s.tabCtx); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.tabCancel()
		if err := chromedp.Cancel(s.browserCtx); err != nil {
			errs = append(errs, fmt.Errorf("close browser context: %w", err))
		}
		s.browserCancel()
		s.allocCancel()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
