package security

import "regexp"

const commandNames = `(rm|ls|cat|echo|wget|curl|nc|netcat|bash|sh|python|perl|ruby)\s`

// patternSet is one signature category. Sets are evaluated in the
// order of threatCategories and the first hit wins.
type patternSet struct {
	eventType EventType
	severity  Severity
	checkURL  bool
	checkUA   bool
	patterns  []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return out
}

var threatCategories = []patternSet{
	{
		eventType: EventSQLInjection,
		severity:  SeverityCritical,
		checkURL:  true,
		checkUA:   true,
		patterns: compileAll(
			`(%27)|(')|(--)|(%23)|(#)`,
			`((%3D)|(=))[^\n]*((%27)|(')|(--)|(%3B)|(;))`,
			`\w*((%27)|('))((%6F)|o|(%4F))((%72)|r|(%52))`,
			`((%27)|('))union`,
			`exec(\s|\+)+(s|x)p\w+`,
			`union[^a-z]+select`,
			`select.*from`,
			`insert.*into`,
			`delete.*from`,
			`update.*set`,
			`drop.*table`,
		),
	},
	{
		eventType: EventXSS,
		severity:  SeverityHigh,
		checkURL:  true,
		checkUA:   true,
		patterns: compileAll(
			`((%3C)|<)((%2F)|/)*[a-z0-9%]+((%3E)|>)`,
			`((%3C)|<)[^\n]+((%3E)|>)`,
			`<script[^>]*>.*?</script>`,
			`<iframe[^>]*>.*?</iframe>`,
			`javascript:`,
			`on\w+\s*=`,
			`<img[^>]+src[^>]*=.*javascript:`,
			`<body[^>]*onload`,
			`<svg[^>]*onload`,
		),
	},
	{
		eventType: EventPathTraversal,
		severity:  SeverityHigh,
		checkURL:  true,
		patterns: compileAll(
			`\.\./`,
			`\.\.\\`,
			`\.\.%2f`,
			`\.\.%5c`,
			`\.\.%252f`,
			`\.\.%255c`,
			`\.\.%c0%af`,
			`\.\.%c1%9c`,
		),
	},
	{
		eventType: EventCommandInjection,
		severity:  SeverityCritical,
		checkURL:  true,
		checkUA:   true,
		patterns: compileAll(
			`;.*`+commandNames,
			`\|.*`+commandNames,
			"`.*"+commandNames,
			`\$\(.*`+commandNames,
			`&&.*`+commandNames,
			`\|\|.*`+commandNames,
		),
	},
	{
		eventType: EventSuspiciousUA,
		severity:  SeverityMedium,
		checkURL:  true,
		checkUA:   true,
		patterns: compileAll(
			`scanner|crawler|spider|scraper|nikto|sqlmap|nmap|masscan|burp|zap|dirbuster|gobuster|wfuzz|ffuf`,
			`python-requests|curl/|wget|libwww-perl|Go-http-client`,
		),
	},
}
