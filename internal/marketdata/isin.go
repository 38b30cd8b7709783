package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const DefaultISINLookupURL = "https://markets.businessinsider.com/ajax/SearchController_Suggest"

// userAgent is sent on ISIN lookup requests.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// ErrISINNotFound is returned when the lookup service has no ISIN for a ticker.
var ErrISINNotFound = errors.New("marketdata: isin not found")

var isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// ValidISIN reports whether s has the shape of an ISIN.
func ValidISIN(s string) bool {
	return isinPattern.MatchString(s)
}

// ISINResolver maps ticker symbols to ISINs through a search-suggest
// service. Every lookup is bounded by a hard timeout.
type ISINResolver struct {
	url     string
	timeout time.Duration
	cli     *http.Client
}

// NewISINResolver creates a resolver. A zero timeout means five seconds.
func NewISINResolver(lookupURL string, timeout time.Duration) *ISINResolver {
	if lookupURL == "" {
		lookupURL = DefaultISINLookupURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ISINResolver{
		url:     lookupURL,
		timeout: timeout,
		cli:     &http.Client{Timeout: timeout},
	}
}

// Resolve returns the ISIN for ticker.
//
// The suggest service answers with a script-like body in which every match
// carries a keyword field of the form "TICKER|ISIN|...". The ISIN is the
// field following the ticker.
func (r *ISINResolver) Resolve(ctx context.Context, ticker string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The service only knows the base symbol, without exchange suffix.
	base := strings.ToUpper(ticker)
	if i := strings.IndexAny(base, ".-="); i > 0 {
		base = base[:i]
	}

	u := r.url + "?max_results=25&query=" + url.QueryEscape(base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.cli.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: isin lookup: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: isin lookup: http %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: isin lookup: %v", ErrUpstreamUnavailable, err)
	}

	isin, ok := extractISIN(string(body), base)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrISINNotFound, ticker)
	}
	return isin, nil
}

func extractISIN(body, ticker string) (string, bool) {
	marker := `"` + ticker + `|`
	for {
		i := strings.Index(body, marker)
		if i < 0 {
			return "", false
		}
		body = body[i+len(marker):]

		field := body
		if end := strings.IndexAny(field, `|"`); end >= 0 {
			field = field[:end]
		}
		if ValidISIN(field) {
			return field, true
		}
	}
}
