package bundle

import "strings"

// Coarse app categories used by the grouping strategies.
const (
	CategorySocial        = "social"
	CategoryMessaging     = "messaging"
	CategoryEmail         = "email"
	CategoryNews          = "news"
	CategoryShopping      = "shopping"
	CategoryEntertainment = "entertainment"
	CategoryProductivity  = "productivity"
	CategoryOther         = "other"
)

var appCategories = map[string]string{
	"facebook":  CategorySocial,
	"instagram": CategorySocial,
	"twitter":   CategorySocial,
	"x":         CategorySocial,
	"tiktok":    CategorySocial,
	"snapchat":  CategorySocial,
	"reddit":    CategorySocial,
	"linkedin":  CategorySocial,

	"whatsapp":  CategoryMessaging,
	"telegram":  CategoryMessaging,
	"messenger": CategoryMessaging,
	"signal":    CategoryMessaging,
	"discord":   CategoryMessaging,
	"wechat":    CategoryMessaging,

	"gmail":      CategoryEmail,
	"outlook":    CategoryEmail,
	"mail":       CategoryEmail,
	"protonmail": CategoryEmail,

	"cnn":     CategoryNews,
	"bbc":     CategoryNews,
	"reuters": CategoryNews,
	"nytimes": CategoryNews,

	"amazon":     CategoryShopping,
	"ebay":       CategoryShopping,
	"etsy":       CategoryShopping,
	"aliexpress": CategoryShopping,

	"youtube": CategoryEntertainment,
	"netflix": CategoryEntertainment,
	"spotify": CategoryEntertainment,
	"twitch":  CategoryEntertainment,
	"hulu":    CategoryEntertainment,
	"steam":   CategoryEntertainment,

	"slack":      CategoryProductivity,
	"teams":      CategoryProductivity,
	"jira":       CategoryProductivity,
	"confluence": CategoryProductivity,
	"asana":      CategoryProductivity,
	"trello":     CategoryProductivity,
	"notion":     CategoryProductivity,
	"calendar":   CategoryProductivity,
}

// substring fallbacks, checked in order after the exact-name lookup.
var categoryHints = []struct {
	hint     string
	category string
}{
	{hint: "mail", category: CategoryEmail},
	{hint: "news", category: CategoryNews},
	{hint: "shop", category: CategoryShopping},
	{hint: "chat", category: CategoryMessaging},
}

// categoryOf infers the coarse category from an app name.
func categoryOf(app string) string {
	app = strings.ToLower(strings.TrimSpace(app))
	if c, ok := appCategories[app]; ok {
		return c
	}
	for _, h := range categoryHints {
		if strings.Contains(app, h.hint) {
			return h.category
		}
	}
	return CategoryOther
}
