// Package whatsweb delivers messages by driving WhatsApp Web in a Chromium
// instance through the DevTools protocol.
//
// The browser profile lives in ProfileDir, so the QR login only has to be
// done once per profile.
package whatsweb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"velo/internal/transport"
	logx "velo/pkg/logx"
)

const DefaultBaseURL = "https://web.whatsapp.com"

// Page landmarks.
const (
	xpathChatList     = `//div[@id="pane-side"]`
	xpathQRCode       = `//canvas[@aria-label="Scan me!"]`
	xpathMessageBox   = `//div[@contenteditable="true"][@data-tab="10"]`
	xpathSendButton   = `//span[@data-icon="send"]`
	xpathInvalid      = `//div[contains(text(), "Phone number shared via url is invalid")]`
	xpathInvalidPopup = `//div[@data-animate-modal-popup="true"]//div[contains(@class, "popup")]`
)

var ErrNotOpen = errors.New("whatsweb: session not open")

type Config struct {
	ProfileDir   string
	Headless     bool
	BrowserBin   string
	BaseURL      string
	LoginTimeout time.Duration
	PageTimeout  time.Duration
	// Settle is how long to wait after pressing send before the next navigation.
	Settle time.Duration
}

type Transport struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func New(cfg Config, log logx.Logger) *Transport {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 2 * time.Minute
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{cfg: cfg, log: log.With(logx.String("comp", "transport.whatsweb"))}
}

func (t *Transport) Name() string { return "whatsweb" }

// Open launches the browser, loads WhatsApp Web and waits until the chat
// list is visible. When a QR code is shown instead, it keeps waiting up to
// LoginTimeout for the code to be scanned.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.page != nil {
		return nil
	}

	l := launcher.New().Headless(t.cfg.Headless)
	if t.cfg.ProfileDir != "" {
		l = l.UserDataDir(t.cfg.ProfileDir)
	}
	if t.cfg.BrowserBin != "" {
		l = l.Bin(t.cfg.BrowserBin)
	}
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: t.cfg.BaseURL})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return fmt.Errorf("open page: %w", err)
	}
	t.launch, t.browser, t.page = l, browser, page

	if err := t.awaitLogin(ctx); err != nil {
		_ = t.closeLocked()
		return err
	}
	t.log.Info("whatsapp web ready", logx.String("profile", t.cfg.ProfileDir))
	return nil
}

func (t *Transport) awaitLogin(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, t.cfg.LoginTimeout)
	defer cancel()
	p := t.page.Context(lctx)

	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("load %s: %w", t.cfg.BaseURL, err)
	}
	qr := false
	sawQR := func(*rod.Element) error { qr = true; return nil }
	_, err := p.Race().ElementX(xpathChatList).ElementX(xpathQRCode).Handle(sawQR).Do()
	if err != nil {
		return loginErr(err)
	}
	if !qr {
		return nil
	}
	t.log.Warn("whatsapp web shows a QR code; scan it with the phone to log in",
		logx.Duration("timeout", t.cfg.LoginTimeout))
	if _, err := p.ElementX(xpathChatList); err != nil {
		return loginErr(err)
	}
	return nil
}

func loginErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("whatsweb: not logged in before login timeout")
	}
	return fmt.Errorf("whatsweb: wait for login: %w", err)
}

// Send opens the chat for recipientID with message pre-filled and presses
// enter. An "invalid number" popup is reported as a rejection.
func (t *Transport) Send(ctx context.Context, recipientID, message string) transport.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.page == nil {
		return transport.FromError(ErrNotOpen)
	}

	pctx, cancel := context.WithTimeout(ctx, t.cfg.PageTimeout)
	defer cancel()
	p := t.page.Context(pctx)

	if err := p.Navigate(SendURL(t.cfg.BaseURL, recipientID, message)); err != nil {
		return classify("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return classify("load chat", err)
	}

	invalid := false
	sawInvalid := func(*rod.Element) error { invalid = true; return nil }
	box, err := p.Race().
		ElementX(xpathInvalid).Handle(sawInvalid).
		ElementX(xpathInvalidPopup).Handle(sawInvalid).
		ElementX(xpathMessageBox).
		Do()
	if err != nil {
		return classify("wait for chat", err)
	}
	if invalid {
		return transport.Rejected("phone number shared via url is invalid")
	}

	if err := box.Type(input.Enter); err != nil {
		// fall back to the send button
		btn, berr := p.ElementX(xpathSendButton)
		if berr != nil {
			return classify("press send", err)
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return classify("click send", err)
		}
	}

	timer := time.NewTimer(t.cfg.Settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// the message has already been submitted
	case <-timer.C:
	}
	return transport.Delivered()
}

func classify(step string, err error) transport.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transport.TimedOut(step + ": " + err.Error())
	}
	return transport.Failed("%s: %v", step, err)
}

// SendURL builds the click-to-chat URL that opens recipientID's chat with
// message typed into the composer.
func SendURL(base, recipientID, message string) string {
	q := url.Values{}
	q.Set("phone", recipientID)
	if message != "" {
		q.Set("text", message)
	}
	return strings.TrimRight(base, "/") + "/send?" + q.Encode()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	var err error
	if t.browser != nil {
		err = t.browser.Close()
	}
	if t.launch != nil {
		t.launch.Kill()
	}
	t.launch, t.browser, t.page = nil, nil, nil
	return err
}
