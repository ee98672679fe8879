package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

const (
	jsClick        = `function() { this.click(); return true; }`
	jsResetValue   = `function() { if ('value' in this) { this.value = ''; this.dispatchEvent(new Event('input', { bubbles: true })); } return true; }`
	jsInteractable = `function() {
	const el = this.closest('button') || this;
	const rect = this.getBoundingClientRect();
	const style = window.getComputedStyle(this);
	return rect.width > 0 && rect.height > 0 &&
		style.visibility !== 'hidden' && style.pointerEvents !== 'none' &&
		!el.disabled && !el.classList.contains('disabled') && el.getAttribute('aria-disabled') !== 'true';
}`
)

// chromePage drives a live tab through chromedp
type chromePage struct {
	ctx context.Context
}

func newChromePage(browserCtx context.Context) *chromePage {
	return &chromePage{ctx: browserCtx}
}

// run executes actions on the tab, bounded by the caller's ctx
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func queryBy(probe selectors.Probe) chromedp.QueryOption {
	if probe.By == selectors.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) ClearCookies(ctx context.Context) error {
	return p.run(ctx, network.Enable(), network.ClearBrowserCookies())
}

func (p *chromePage) SetCookies(ctx context.Context, pageURL string, cookies []*models.Cookie) error {
	return p.run(ctx, network.Enable(), chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			if err := toSetCookie(pageURL, c).Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, network.Enable(), chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(cookies), nil
}

// nodes returns matches for probe without waiting for them to appear
func (p *chromePage) nodes(ctx context.Context, probe selectors.Probe) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(probe.Query, &nodes, queryBy(probe), chromedp.AtLeast(0)))
	return nodes, err
}

func (p *chromePage) Present(ctx context.Context, probe selectors.Probe) (bool, error) {
	nodes, err := p.nodes(ctx, probe)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromePage) Interactable(ctx context.Context, probe selectors.Probe) (bool, error) {
	value, found, err := p.callOn(ctx, probe, jsInteractable)
	if err != nil || !found {
		return false, err
	}
	return value == "true", nil
}

// callOn runs fn with `this` bound to the first node matching probe
func (p *chromePage) callOn(ctx context.Context, probe selectors.Probe, fn string) (string, bool, error) {
	nodes, err := p.nodes(ctx, probe)
	if err != nil {
		return "", false, err
	}
	if len(nodes) == 0 {
		return "", false, nil
	}

	var value string
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(nodes[0].BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		res, exception, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return fmt.Errorf("script exception: %s", exception.Text)
		}
		if res != nil {
			value = strings.TrimSpace(string(res.Value))
		}
		return nil
	}))
	return value, true, err
}

func (p *chromePage) mustCallOn(ctx context.Context, probe selectors.Probe, fn string) error {
	_, found, err := p.callOn(ctx, probe, fn)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no element matches %s", probe)
	}
	return nil
}

func (p *chromePage) SetFiles(ctx context.Context, probe selectors.Probe, paths ...string) error {
	return p.run(ctx, chromedp.SetUploadFiles(probe.Query, paths, queryBy(probe)))
}

func (p *chromePage) Focus(ctx context.Context, probe selectors.Probe) error {
	return p.run(ctx, chromedp.Focus(probe.Query, queryBy(probe)))
}

func (p *chromePage) Click(ctx context.Context, probe selectors.Probe) error {
	return p.run(ctx, chromedp.Click(probe.Query, queryBy(probe), chromedp.NodeVisible))
}

func (p *chromePage) DispatchClick(ctx context.Context, probe selectors.Probe) error {
	return p.mustCallOn(ctx, probe, jsClick)
}

func (p *chromePage) RemoveAttribute(ctx context.Context, probe selectors.Probe, name string) error {
	return p.run(ctx, chromedp.RemoveAttribute(probe.Query, name, queryBy(probe)))
}

func (p *chromePage) Clear(ctx context.Context, probe selectors.Probe) error {
	if err := p.mustCallOn(ctx, probe, jsResetValue); err != nil {
		return err
	}
	return p.run(ctx,
		chromedp.Focus(probe.Query, queryBy(probe)),
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(kb.Delete),
	)
}

func (p *chromePage) Type(ctx context.Context, probe selectors.Probe, text string) error {
	return p.run(ctx, chromedp.SendKeys(probe.Query, text, queryBy(probe)))
}

func (p *chromePage) Append(ctx context.Context, probe selectors.Probe, text string) error {
	return p.run(ctx,
		chromedp.Focus(probe.Query, queryBy(probe)),
		chromedp.KeyEvent(kb.End, chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(text),
	)
}

func (p *chromePage) Press(ctx context.Context, key string) error {
	return p.run(ctx, chromedp.KeyEvent(key))
}
