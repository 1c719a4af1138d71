package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

var (
	_ Page = (*ChromePage)(nil)
	_ Page = (*FakePage)(nil)
)

var fastPoll = PollOptions{
	Timeout:     200 * time.Millisecond,
	Interval:    time.Millisecond,
	MaxInterval: 5 * time.Millisecond,
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Poll(ctx, fastPoll, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	err = Poll(ctx, fastPoll, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)

	boom := errors.New("boom")
	calls = 0
	err = Poll(ctx, fastPoll, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	err = Poll(ctx, PollOptions{}, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = Poll(cancelled, fastPoll, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

// stuckClickPage never finishes a native click, like chrome waiting for an
// element that does not become visible.
type stuckClickPage struct {
	*FakePage
}

func (p stuckClickPage) Click(ctx context.Context, selector string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestClickFallback(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://example.com", `<a class="menu">menu</a><a class="hidden">x</a>`)

	require.NoError(t, ClickFallback(ctx, page, "a.menu", time.Second))
	require.Equal(t, []Action{{Kind: "click", Selector: "a.menu"}}, page.Actions())

	page.NativeClickFails = "a.menu"
	require.NoError(t, ClickFallback(ctx, page, "a.menu", time.Second))
	require.Equal(t, "click-js", page.Actions()[2].Kind)

	err := ClickFallback(ctx, page, "a.missing", time.Second)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClickFallbackBoundsNativeClick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	page := stuckClickPage{NewFakePage("https://example.com", `<a class="hidden">x</a>`)}

	start := time.Now()
	require.NoError(t, ClickFallback(ctx, page, "a.hidden", 50*time.Millisecond))
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, []Action{{Kind: "click-js", Selector: "a.hidden"}}, page.Actions())

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err := ClickFallback(cancelled, page, "a.hidden", 50*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitSelector(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://example.com", `<div id="loading"></div>`)

	err := WaitSelector(ctx, page, "#mydatatable", fastPoll)
	require.ErrorIs(t, err, ErrTimeout)

	page.Load("https://example.com", `<table id="mydatatable"></table>`)
	require.NoError(t, WaitSelector(ctx, page, "#mydatatable", fastPoll))
}

func TestFakePage(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://portal.test/#/login", `
		<form>
			<input name="user" type="text">
			<select name="tipo">
				<option value="A">A</option>
				<option value="B">B</option>
			</select>
			<button type="submit">Entrar</button>
		</form>`,
	)

	require.NoError(t, page.SetValue(ctx, `input[name="user"]`, "maria"))
	value, err := page.Value(ctx, `input[name="user"]`)
	require.NoError(t, err)
	require.Equal(t, "maria", value)

	value, err = page.Value(ctx, `select[name="tipo"]`)
	require.NoError(t, err)
	require.Equal(t, "A", value)
	require.NoError(t, page.SelectOption(ctx, `select[name="tipo"]`, "B"))
	value, err = page.Value(ctx, `select[name="tipo"]`)
	require.NoError(t, err)
	require.Equal(t, "B", value)

	require.ErrorIs(t, page.Click(ctx, "#missing"), ErrNotFound)

	page.NativeClickFails = "button"
	page.OnClick = func(p *FakePage, el *goquery.Selection, native bool) error {
		require.False(t, native)
		p.Load("https://portal.test/#/home", `<div class="dashboard"></div>`)
		return nil
	}
	require.Error(t, page.Click(ctx, "button"))
	require.NoError(t, page.ClickJS(ctx, "button"))

	url, err := page.URL(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://portal.test/#/home", url)

	require.NoError(t, page.SetHash(ctx, "#/list/person"))
	url, err = page.URL(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://portal.test/#/list/person", url)

	require.NoError(t, page.SetCookies(ctx, []Cookie{{Name: "sid", Value: "1"}}))
	cookies, err := page.Cookies(ctx)
	require.NoError(t, err)
	require.Equal(t, []Cookie{{Name: "sid", Value: "1"}}, cookies)

	require.NoError(t, page.Close())
	require.True(t, page.Closed())

	kinds := []string{}
	for _, a := range page.Actions() {
		kinds = append(kinds, a.Kind)
	}
	require.Equal(t, []string{"set-value", "select", "click", "click-js", "hash", "set-cookies"}, kinds)
}
