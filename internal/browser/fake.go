package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Action is a single call recorded by FakePage.
type Action struct {
	Kind     string
	Selector string
	Value    string
}

// FakePage is an in-memory Page backed by a static HTML document, it is used
// to test portal workflows without a browser.
//
// Form values are stored as attributes on the document so they show up in
// later snapshots. Hooks run after the default behaviour of an action and may
// call Load to simulate the page changing.
type FakePage struct {
	mutex   sync.Mutex
	url     string
	doc     *goquery.Document
	cookies []Cookie
	actions []Action
	closed  bool
	reads   int

	OnNavigate func(p *FakePage, url string) error
	// OnClick receives the clicked element, native is false for ClickJS.
	OnClick func(p *FakePage, el *goquery.Selection, native bool) error
	OnEnter func(p *FakePage, el *goquery.Selection) error
	OnHash  func(p *FakePage, hash string) error
	// OnHTML runs before every HTML read with the number of the read,
	// starting at 1, to simulate content rendered late by scripts.
	OnHTML func(p *FakePage, read int)

	// NativeClickFails makes Click fail on elements matching this selector
	// the way a covered or animating element fails a trusted click.
	NativeClickFails string
}

// NewFakePage returns a page showing content at url.
func NewFakePage(url, content string) *FakePage {
	p := &FakePage{}
	p.Load(url, content)
	return p
}

// Load replaces the current url and document.
func (p *FakePage) Load(url, content string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		panic(fmt.Sprintf("fake page: parse html: %v", err))
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.url = url
	p.doc = doc
}

// Actions returns every action performed on the page so far.
func (p *FakePage) Actions() []Action {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Action(nil), p.actions...)
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.closed
}

func (p *FakePage) record(kind, selector, value string) {
	p.actions = append(p.actions, Action{Kind: kind, Selector: selector, Value: value})
}

func (p *FakePage) find(selector string) (*goquery.Selection, error) {
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	return sel, nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	p.record("navigate", "", url)
	p.url = url
	hook := p.OnNavigate
	p.mutex.Unlock()

	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *FakePage) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.url, ctx.Err()
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mutex.Lock()
	p.reads++
	read := p.reads
	hook := p.OnHTML
	p.mutex.Unlock()

	if hook != nil {
		hook(p, read)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.doc.Html()
}

func (p *FakePage) Value(ctx context.Context, selector string) (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	el, err := p.find(selector)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(el) == "select" {
		opt := el.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = el.Find("option").First()
		}
		return opt.AttrOr("value", ""), nil
	}
	return el.AttrOr("value", ""), nil
}

func (p *FakePage) SetValue(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	el, err := p.find(selector)
	if err != nil {
		return err
	}
	p.record("set-value", selector, value)
	el.SetAttr("value", value)
	return nil
}

func (p *FakePage) SelectOption(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	el, err := p.find(selector)
	if err != nil {
		return err
	}
	p.record("select", selector, value)
	el.Find("option").Each(func(_ int, opt *goquery.Selection) {
		if opt.AttrOr("value", "") == value {
			opt.SetAttr("selected", "selected")
			return
		}
		opt.RemoveAttr("selected")
	})
	return nil
}

func (p *FakePage) click(ctx context.Context, selector string, native bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	el, err := p.find(selector)
	if err != nil {
		p.mutex.Unlock()
		return err
	}
	kind := "click-js"
	if native {
		kind = "click"
	}
	p.record(kind, selector, "")
	if native && p.NativeClickFails != "" && el.Is(p.NativeClickFails) {
		p.mutex.Unlock()
		return fmt.Errorf("click %s: element is not clickable", selector)
	}
	hook := p.OnClick
	p.mutex.Unlock()

	if hook != nil {
		return hook(p, el, native)
	}
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	return p.click(ctx, selector, true)
}

func (p *FakePage) ClickJS(ctx context.Context, selector string) error {
	return p.click(ctx, selector, false)
}

func (p *FakePage) PressEnter(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	el, err := p.find(selector)
	if err != nil {
		p.mutex.Unlock()
		return err
	}
	p.record("enter", selector, "")
	hook := p.OnEnter
	p.mutex.Unlock()

	if hook != nil {
		return hook(p, el)
	}
	return nil
}

func (p *FakePage) SetHash(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mutex.Lock()
	p.record("hash", "", hash)
	base, _, _ := strings.Cut(p.url, "#")
	p.url = base + "#" + strings.TrimPrefix(hash, "#")
	hook := p.OnHash
	p.mutex.Unlock()

	if hook != nil {
		return hook(p, hash)
	}
	return nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]Cookie, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Cookie(nil), p.cookies...), ctx.Err()
}

func (p *FakePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.record("set-cookies", "", fmt.Sprint(len(cookies)))
	p.cookies = append(p.cookies, cookies...)
	return ctx.Err()
}

func (p *FakePage) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.closed = true
	return nil
}
