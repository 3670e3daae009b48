package services

import (
	"net/url"
	"strings"

	"bounty-board/models"

	"github.com/gosimple/slug"
)

// BountyURL is the public page for a bounty:
// {base}/issue/{org}/{repo}/{issue number}/{ledger id}, falling back to a title slug
// when the issue URL is not a GitHub issue.
func BountyURL(base string, b *models.Bounty) string {
	base = strings.TrimRight(base, "/")
	if u, err := url.Parse(b.IssueURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 4 && (parts[2] == "issues" || parts[2] == "pull") {
			return base + "/issue/" + slug.Make(parts[0]) + "/" + slug.Make(parts[1]) + "/" +
				url.PathEscape(parts[3]) + "/" + url.PathEscape(b.LedgerID)
		}
	}
	title := slug.Make(b.Title)
	if title == "" {
		title = "bounty"
	}
	return base + "/bounty/" + url.PathEscape(b.LedgerID) + "/" + title
}
