package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// playwrightPage adapts a playwright.Page to the narrow Page interface.
type playwrightPage struct {
	page playwright.Page
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	return nil
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("selector %q did not appear: %w", selector, err)
	}

	return nil
}

func (p *playwrightPage) WaitForLoad(timeout time.Duration) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("load state not reached: %w", err)
	}

	return nil
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Click(selector)
}

func (p *playwrightPage) Fill(selector, value string) error {
	return p.page.Fill(selector, value)
}

func (p *playwrightPage) Check(selector string) error {
	return p.page.Check(selector)
}

func (p *playwrightPage) Uncheck(selector string) error {
	return p.page.Uncheck(selector)
}

func (p *playwrightPage) SelectOption(selector, value string) error {
	_, err := p.page.SelectOption(selector, playwright.SelectOptionValues{
		Values: &[]string{value},
	})

	return err
}

func (p *playwrightPage) SetInputFiles(selector, path string) error {
	return p.page.SetInputFiles(selector, path)
}

// SetValueDirect assigns el.value without focus/typing, used for hidden
// inputs that reject user-style interaction.
func (p *playwrightPage) SetValueDirect(selector, value string) error {
	_, err := p.page.EvalOnSelector(selector, "(el, val) => el.value = val", value)

	return err
}

func (p *playwrightPage) Evaluate(expression string) (any, error) {
	return p.page.Evaluate(expression)
}

func (p *playwrightPage) ExposeFunction(name string, fn func(args ...any) any) error {
	return p.page.ExposeFunction(name, func(args ...interface{}) interface{} {
		return fn(args...)
	})
}

func (p *playwrightPage) OnLoad(handler func()) {
	p.page.OnLoad(func(playwright.Page) {
		handler()
	})
}

func (p *playwrightPage) MatchCount(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})

	return err
}
