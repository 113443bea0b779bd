package botdetect

import (
	"regexp"
	"strings"
)

// signaturePatterns is the curated list of crawler, tool, and automation
// fragments. Matching is case-insensitive substring semantics; generic
// fragments like "bot" and "crawl" deliberately cover whole families
// (Googlebot, Bingbot, DuckDuckBot) without listing each one.
var signaturePatterns = []string{
	"bot",
	"crawl",
	"spider",
	"scrape",
	"slurp",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"httpclient",
	"libwww",
	"axios",
	"node-fetch",
	"headless",
	"phantomjs",
	"selenium",
	"puppeteer",
	"playwright",
	"lighthouse",
	"pingdom",
	"uptimerobot",
	"statuscake",
	"facebookexternalhit",
	"whatsapp",
	"telegram",
	"discord",
	"yandex",
	"ahrefs",
	"semrush",
	"postmanruntime",
	"insomnia",
	"httpie",
	"feedfetcher",
	"dataminr",
	"monitoring",
}

var signatureRegex = regexp.MustCompile(`(?i)(` + strings.Join(signaturePatterns, "|") + `)`)
