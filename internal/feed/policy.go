package feed

import "feedsync/internal/models"

// Policy is the per-feed-type merge and paging behaviour.
type Policy struct {
	// ReplaceOnly feeds replace their whole list on every fetch, including "load more".
	ReplaceOnly bool
	// ScrollPaging feeds are driven by the scroll trigger.
	ScrollPaging bool
}

// Policies is the declared policy table. The anonymous public feed is
// replace-only and never scroll-paged.
var Policies = map[models.FeedType]Policy{
	models.FeedPublic:    {ReplaceOnly: true, ScrollPaging: false},
	models.FeedFollowing: {ReplaceOnly: false, ScrollPaging: true},
	models.FeedSearch:    {ReplaceOnly: false, ScrollPaging: true},
	models.FeedProfile:   {ReplaceOnly: false, ScrollPaging: true},
}

// PolicyFor returns the policy of ft. Unknown types get the appendable default.
func PolicyFor(ft models.FeedType) Policy {
	if p, ok := Policies[ft]; ok {
		return p
	}
	return Policy{ScrollPaging: true}
}
