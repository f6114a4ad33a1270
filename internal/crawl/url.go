package crawl

import (
	"net/url"
	"strconv"
)

const listingPath = "/en/result"

// listingURL builds the search URL for one result page of a city. Page 1
// carries no page parameter; later pages append it.
func listingURL(base *url.URL, city string, page int) string {
	u := *base
	u.Path = listingPath

	q := url.Values{}
	q.Set("destination", city)
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
