// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/browser"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

var _ browser.Page = (*FakePage)(nil)

// Element is the fake state of one control, keyed by probe query
type Element struct {
	Present      bool
	Interactable bool
	Text         string
	Attributes   map[string]string
	Files        []string
	Clicks       int
	Dispatched   int
	// Commits counts Enter presses while focused
	Commits int
}

// FakePage records interactions and serves scripted page state
type FakePage struct {
	mu sync.Mutex

	Location    string
	Content     string
	Jar         []*models.Cookie
	Visited     []string
	Calls       []string
	Reloads     int
	Elements    map[string]*Element
	focused     string
	failures    map[string]error
	OnNavigate  func(p *FakePage, url string)
	OnPresent   func(p *FakePage, probe selectors.Probe)
	InjectedURL string
}

// NewFakePage returns an empty page
func NewFakePage() *FakePage {
	return &FakePage{
		Elements: make(map[string]*Element),
		failures: make(map[string]error),
	}
}

// AddElement registers a present, interactable control for probe query
func (p *FakePage) AddElement(query string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := &Element{Present: true, Interactable: true, Attributes: map[string]string{}}
	p.Elements[query] = el
	return el
}

// Element returns the control registered for query, or nil
func (p *FakePage) Element(query string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[query]
}

// Fail makes the named method return err
func (p *FakePage) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

// CallLog returns a copy of the recorded calls
func (p *FakePage) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

func (p *FakePage) record(method, detail string) error {
	if detail != "" {
		p.Calls = append(p.Calls, method+" "+detail)
	} else {
		p.Calls = append(p.Calls, method)
	}
	return p.failures[method]
}

func (p *FakePage) element(method string, probe selectors.Probe) (*Element, error) {
	if err := p.record(method, probe.Query); err != nil {
		return nil, err
	}
	el, ok := p.Elements[probe.Query]
	if !ok || !el.Present {
		return nil, fmt.Errorf("no element matches %s", probe)
	}
	return el, nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.record("Navigate", url); err != nil {
		p.mu.Unlock()
		return err
	}
	p.Location = url
	p.Visited = append(p.Visited, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reloads++
	return p.record("Reload", "")
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Location, p.record("URL", "")
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Content, p.record("HTML", "")
}

func (p *FakePage) ClearCookies(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ClearCookies", ""); err != nil {
		return err
	}
	p.Jar = nil
	return nil
}

func (p *FakePage) SetCookies(ctx context.Context, pageURL string, cookies []*models.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SetCookies", pageURL); err != nil {
		return err
	}
	p.InjectedURL = pageURL
	for _, c := range cookies {
		replayed := *c
		replayed.Expiry = 0
		p.Jar = append(p.Jar, &replayed)
	}
	return nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Cookies", ""); err != nil {
		return nil, err
	}
	return append([]*models.Cookie(nil), p.Jar...), nil
}

func (p *FakePage) Present(ctx context.Context, probe selectors.Probe) (bool, error) {
	p.mu.Lock()
	if err := p.record("Present", probe.Query); err != nil {
		p.mu.Unlock()
		return false, err
	}
	hook := p.OnPresent
	p.mu.Unlock()

	if hook != nil {
		hook(p, probe)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[probe.Query]
	return ok && el.Present, nil
}

func (p *FakePage) Interactable(ctx context.Context, probe selectors.Probe) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Interactable", probe.Query); err != nil {
		return false, err
	}
	el, ok := p.Elements[probe.Query]
	return ok && el.Present && el.Interactable, nil
}

func (p *FakePage) SetFiles(ctx context.Context, probe selectors.Probe, paths ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("SetFiles", probe)
	if err != nil {
		return err
	}
	el.Files = append([]string(nil), paths...)
	return nil
}

func (p *FakePage) Focus(ctx context.Context, probe selectors.Probe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.element("Focus", probe); err != nil {
		return err
	}
	p.focused = probe.Query
	return nil
}

func (p *FakePage) Click(ctx context.Context, probe selectors.Probe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("Click", probe)
	if err != nil {
		return err
	}
	el.Clicks++
	return nil
}

func (p *FakePage) DispatchClick(ctx context.Context, probe selectors.Probe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("DispatchClick", probe)
	if err != nil {
		return err
	}
	el.Dispatched++
	return nil
}

func (p *FakePage) RemoveAttribute(ctx context.Context, probe selectors.Probe, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("RemoveAttribute", probe)
	if err != nil {
		return err
	}
	delete(el.Attributes, name)
	return nil
}

func (p *FakePage) Clear(ctx context.Context, probe selectors.Probe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("Clear", probe)
	if err != nil {
		return err
	}
	el.Text = ""
	p.focused = probe.Query
	return nil
}

func (p *FakePage) Type(ctx context.Context, probe selectors.Probe, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("Type", probe)
	if err != nil {
		return err
	}
	el.Text += text
	p.focused = probe.Query
	return nil
}

func (p *FakePage) Append(ctx context.Context, probe selectors.Probe, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element("Append", probe)
	if err != nil {
		return err
	}
	el.Text += text
	p.focused = probe.Query
	return nil
}

// Press appends printable keys to the focused element; Enter counts as a commit
func (p *FakePage) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Press", fmt.Sprintf("%q", key)); err != nil {
		return err
	}
	el, ok := p.Elements[p.focused]
	if !ok {
		return fmt.Errorf("no focused element")
	}
	if key == browser.KeyEnter {
		el.Commits++
		return nil
	}
	if strings.TrimSpace(key) == "" || len(key) == 1 {
		el.Text += key
	}
	return nil
}
