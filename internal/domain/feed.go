package domain

import "fmt"

// Listing names one of the listing families the archiver can walk. On a
// subreddit, gilded and comments yield comment items and the rest yield
// posts; every redditor listing mixes the two.
type Listing string

const (
	ListingNew           Listing = "new"
	ListingHot           Listing = "hot"
	ListingRising        Listing = "rising"
	ListingTop           Listing = "top"
	ListingControversial Listing = "controversial"
	ListingGilded        Listing = "gilded"
	ListingComments      Listing = "comments"
)

// TimeFilter scopes top and controversial listings.
type TimeFilter string

const (
	FilterAll   TimeFilter = "all"
	FilterDay   TimeFilter = "day"
	FilterHour  TimeFilter = "hour"
	FilterMonth TimeFilter = "month"
	FilterWeek  TimeFilter = "week"
	FilterYear  TimeFilter = "year"
)

// Feed is one configured remote listing being archived. A feed walks either
// a subreddit or a redditor's public history; exactly one of the two names
// is set.
type Feed struct {
	Subreddit  string
	Redditor   string
	Listing    Listing
	TimeFilter TimeFilter
}

// Key returns the stable checkpoint identity of the feed.
func (f Feed) Key() string {
	if f.Filtered() {
		return fmt.Sprintf("%s/%s?t=%s", f.owner(), f.Listing, f.TimeFilter)
	}
	return fmt.Sprintf("%s/%s", f.owner(), f.Listing)
}

func (f Feed) owner() string {
	if f.Redditor != "" {
		return "u/" + f.Redditor
	}
	return "r/" + f.Subreddit
}

// Filtered reports whether the listing takes a time filter.
func (f Feed) Filtered() bool {
	return f.Listing == ListingTop || f.Listing == ListingControversial
}

// Validate checks the feed definition is complete and names a known listing.
func (f Feed) Validate() error {
	if (f.Subreddit == "") == (f.Redditor == "") {
		return fmt.Errorf("feed must name exactly one of subreddit or redditor")
	}
	if f.Redditor != "" {
		switch f.Listing {
		case ListingHot, ListingNew, ListingTop, ListingControversial, ListingGilded:
		default:
			// rising and comments exist only on subreddits, and saved needs
			// a grant from the redditor that app-only auth never carries.
			return fmt.Errorf("feed %s: listing %q is not archivable for a redditor", f.owner(), f.Listing)
		}
	}
	switch f.Listing {
	case ListingNew, ListingHot, ListingRising, ListingGilded, ListingComments:
		if f.TimeFilter != "" {
			return fmt.Errorf("feed %s: listing %q does not take a time filter", f.Key(), f.Listing)
		}
	case ListingTop, ListingControversial:
		switch f.TimeFilter {
		case FilterAll, FilterDay, FilterHour, FilterMonth, FilterWeek, FilterYear:
		case "":
			return fmt.Errorf("feed %s/%s: listing requires a time filter", f.owner(), f.Listing)
		default:
			return fmt.Errorf("feed %s/%s: unknown time filter %q", f.owner(), f.Listing, f.TimeFilter)
		}
	default:
		return fmt.Errorf("feed %s: unknown listing %q", f.owner(), f.Listing)
	}
	return nil
}
