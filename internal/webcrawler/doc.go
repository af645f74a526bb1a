// Package webcrawler is the single-page crawling service.
//
// # Behavior
//
// Each crawl_page call fetches one http or https URL, parses the body with
// github.com/PuerkitoBio/goquery, and returns the page title, visible text,
// meta tags, and optionally resolved links and images. Text extraction can
// be narrowed to a CSS selector. Response bodies and extracted text are
// capped by configurable limits; the service holds no state between calls.
package webcrawler
