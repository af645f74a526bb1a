// ABOUTME: Selenium WebDriver implementation of the Driver interface.
// ABOUTME: Talks to a remote Selenium or chromedriver endpoint over HTTP.

package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// locatorStrategies maps our locator names to WebDriver strategies.
var locatorStrategies = map[string]string{
	ByCSS:      selenium.ByCSSSelector,
	ByXPath:    selenium.ByXPATH,
	ByID:       selenium.ByID,
	ByName:     selenium.ByName,
	ByTag:      selenium.ByTagName,
	ByClass:    selenium.ByClassName,
	ByLinkText: selenium.ByLinkText,
}

// seleniumDriver wraps one remote WebDriver session.
type seleniumDriver struct {
	wd selenium.WebDriver
}

// NewSeleniumFactory returns a DriverFactory backed by the WebDriver server
// at serverURL, e.g. "http://localhost:4444/wd/hub".
func NewSeleniumFactory(serverURL string) DriverFactory {
	return func(ctx context.Context, opts SessionOptions) (Driver, error) {
		caps := selenium.Capabilities{"browserName": "chrome"}
		chromeCaps := chrome.Capabilities{
			Args: []string{
				"--no-sandbox",
				"--disable-dev-shm-usage",
				"--disable-gpu",
				"--window-size=1920,1080",
			},
		}
		if opts.Headless {
			chromeCaps.Args = append(chromeCaps.Args, "--headless=new")
		}
		caps.AddChrome(chromeCaps)

		wd, err := selenium.NewRemote(caps, serverURL)
		if err != nil {
			return nil, fmt.Errorf("creating webdriver session: %w", err)
		}
		if opts.PageLoadTimeout > 0 {
			if err := wd.SetPageLoadTimeout(opts.PageLoadTimeout); err != nil {
				_ = wd.Quit()
				return nil, fmt.Errorf("setting page load timeout: %w", err)
			}
		}
		return &seleniumDriver{wd: wd}, nil
	}
}

func (d *seleniumDriver) Navigate(ctx context.Context, url string) error {
	if err := d.wd.Get(url); err != nil {
		return translateError(err)
	}
	return nil
}

func (d *seleniumDriver) PageInfo(ctx context.Context, includeSource bool) (*PageInfo, error) {
	url, err := d.wd.CurrentURL()
	if err != nil {
		return nil, translateError(err)
	}
	title, err := d.wd.Title()
	if err != nil {
		return nil, translateError(err)
	}
	info := &PageInfo{URL: url, Title: title}
	if includeSource {
		source, err := d.wd.PageSource()
		if err != nil {
			return nil, translateError(err)
		}
		info.Source = source
	}
	return info, nil
}

func (d *seleniumDriver) FindElements(ctx context.Context, by, value string, limit int) ([]Element, error) {
	strategy, ok := locatorStrategies[by]
	if !ok {
		return nil, fmt.Errorf("unknown locator strategy %q", by)
	}
	found, err := d.wd.FindElements(strategy, value)
	if err != nil {
		return nil, translateError(err)
	}
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	elements := make([]Element, 0, len(found))
	for _, el := range found {
		tag, _ := el.TagName()
		text, _ := el.Text()
		displayed, _ := el.IsDisplayed()
		elements = append(elements, Element{Tag: tag, Text: text, Displayed: displayed})
	}
	return elements, nil
}

func (d *seleniumDriver) findOne(by, value string) (selenium.WebElement, error) {
	strategy, ok := locatorStrategies[by]
	if !ok {
		return nil, fmt.Errorf("unknown locator strategy %q", by)
	}
	el, err := d.wd.FindElement(strategy, value)
	if err != nil {
		return nil, translateError(err)
	}
	return el, nil
}

func (d *seleniumDriver) Click(ctx context.Context, by, value string) error {
	el, err := d.findOne(by, value)
	if err != nil {
		return err
	}
	if err := el.Click(); err != nil {
		return translateError(err)
	}
	return nil
}

func (d *seleniumDriver) TypeText(ctx context.Context, by, value, text string, clear bool) error {
	el, err := d.findOne(by, value)
	if err != nil {
		return err
	}
	if clear {
		if err := el.Clear(); err != nil {
			return translateError(err)
		}
	}
	if err := el.SendKeys(text); err != nil {
		return translateError(err)
	}
	return nil
}

func (d *seleniumDriver) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := d.wd.Screenshot()
	if err != nil {
		return nil, translateError(err)
	}
	return png, nil
}

func (d *seleniumDriver) Close(ctx context.Context) error {
	return d.wd.Quit()
}

// translateError maps WebDriver wire errors onto the driver sentinels so the
// service layer can classify them without knowing selenium error strings.
func translateError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such element"):
		return fmt.Errorf("%w: %s", ErrElementNotFound, err.Error())
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %s", ErrNavigationTimeout, err.Error())
	default:
		return err
	}
}
