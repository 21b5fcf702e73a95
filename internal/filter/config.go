package filter

// Config carries the keyword and app catalogs driving classification.
// Empty slices fall back to the built-in defaults so a minimal config
// file still classifies sensibly.
type Config struct {
	CriticalKeywords  []string
	HighKeywords      []string
	LowKeywords       []string
	WorkApps          []string
	SocialApps        []string
	EntertainmentApps []string
}

func defaultCriticalKeywords() []string {
	return []string{"emergency", "urgent", "critical", "alarm", "security", "breach", "alert", "warning", "deadline"}
}

func defaultHighKeywords() []string {
	return []string{"meeting", "appointment", "call", "interview", "asap", "now"}
}

func defaultLowKeywords() []string {
	return []string{"newsletter", "promotion", "sale", "unsubscribe"}
}

func defaultWorkApps() []string {
	return []string{"slack", "teams", "outlook", "zoom", "jira", "confluence", "asana", "trello", "linear"}
}

func defaultSocialApps() []string {
	return []string{"facebook", "instagram", "twitter", "x", "tiktok", "snapchat", "whatsapp", "telegram", "messenger", "reddit", "linkedin"}
}

func defaultEntertainmentApps() []string {
	return []string{"youtube", "netflix", "spotify", "twitch", "hulu", "steam", "hbo", "disney"}
}

func (c Config) withDefaults() Config {
	if len(c.CriticalKeywords) == 0 {
		c.CriticalKeywords = defaultCriticalKeywords()
	}
	if len(c.HighKeywords) == 0 {
		c.HighKeywords = defaultHighKeywords()
	}
	if len(c.LowKeywords) == 0 {
		c.LowKeywords = defaultLowKeywords()
	}
	if len(c.WorkApps) == 0 {
		c.WorkApps = defaultWorkApps()
	}
	if len(c.SocialApps) == 0 {
		c.SocialApps = defaultSocialApps()
	}
	if len(c.EntertainmentApps) == 0 {
		c.EntertainmentApps = defaultEntertainmentApps()
	}
	return c
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[normalize(it)] = struct{}{}
	}
	return m
}
