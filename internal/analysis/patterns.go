package analysis

import "regexp"

// threatPattern is a compiled regex with a threat kind, reason label, and
// confidence weight. Weights follow the calibration rule: unambiguous
// machine-matchable formats score high, soft conversational signals score low
// enough that they can never cross the block threshold on their own.
type threatPattern struct {
	re     *regexp.Regexp
	kind   ThreatKind
	reason string
	weight float64
	// soft patterns flag intent without a concrete value; they are not
	// redacted span-by-span since there is nothing concrete to remove.
	soft bool
}

// Contact information: phone numbers, emails, physical addresses.
var contactPatterns = []threatPattern{
	{regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`), ThreatContactInfo, "contact:phone_number", 0.95, false},
	{regexp.MustCompile(`(?i)\b(?:zero|one|two|three|four|five|six|seven|eight|nine|oh)(?:[\s,.\-]+(?:zero|one|two|three|four|five|six|seven|eight|nine|oh)){6,}\b`), ThreatContactInfo, "contact:spelled_out_digits", 0.85, false},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), ThreatContactInfo, "contact:email", 0.95, false},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+\s*(?:\(|\[)?\s*at\s*(?:\)|\])?\s+[a-z0-9\-]+\s*(?:\(|\[)?\s*dot\s*(?:\)|\])?\s*(?:com|net|org|io|co|us)\b`), ThreatContactInfo, "contact:obfuscated_email", 0.9, false},
	{regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z ]{2,30}\s(?:street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd|court|ct|circle|cir|way|place|pl)\b\.?`), ThreatContactInfo, "contact:street_address", 0.75, false},
	{regexp.MustCompile(`(?i)\b(?:call|text|phone)\s+me\b|\bgive\s+me\s+a\s+(?:call|ring|shout)\b|\breach\s+me\s+(?:at|on)\b|\bmy\s+(?:cell|number)\b`), ThreatContactInfo, "contact:soft_call_me", 0.35, true},
}

// Social handles and platform names.
var socialPatterns = []threatPattern{
	{regexp.MustCompile(`(?i)\b(?:instagram|insta|facebook|whatsapp|telegram|snapchat|tiktok|signal app)\b`), ThreatSocialMedia, "social:platform_name", 0.7, false},
	{regexp.MustCompile(`(?i)(?:^|\s)@[a-zA-Z0-9_.]{3,30}\b`), ThreatSocialMedia, "social:handle", 0.6, false},
	{regexp.MustCompile(`(?i)\b(?:dm|direct message|follow)\s+me\b`), ThreatSocialMedia, "social:dm_me", 0.5, true},
}

// Off-platform meeting proposals.
var meetingPatterns = []threatPattern{
	{regexp.MustCompile(`(?i)\b(?:meet|meet\s+up|get\s+together)\s+(?:me\s+)?(?:in\s+person|at\s+the\s+(?:house|property|site|job\s*site)|for\s+coffee)\b`), ThreatExternalMeeting, "meeting:in_person", 0.7, true},
	{regexp.MustCompile(`(?i)\b(?:stop|come|swing|drop)\s+by\s+(?:the\s+)?(?:house|property|site|place)\b`), ThreatExternalMeeting, "meeting:come_by", 0.65, true},
	{regexp.MustCompile(`(?i)\blet'?s\s+(?:meet|talk)\s+(?:offline|in\s+person|face\s+to\s+face)\b`), ThreatExternalMeeting, "meeting:offline", 0.7, true},
}

// Payment apps and wire-style payment mentions.
var paymentPatterns = []threatPattern{
	{regexp.MustCompile(`(?i)\b(?:venmo|paypal|zelle|cash\s?app|apple\s?pay|western\s+union|wire\s+transfer)\b`), ThreatPaymentBypass, "payment:app_mention", 0.85, false},
	{regexp.MustCompile(`(?i)\bpay\s+(?:me\s+)?(?:in\s+)?cash\b|\bcash\s+(?:only|discount|deal)\b`), ThreatPaymentBypass, "payment:cash", 0.7, true},
	{regexp.MustCompile(`(?i)\b(?:avoid|skip|save(?:\s+on)?)\s+the\s+(?:fee|fees|commission|service\s+charge)\b`), ThreatPaymentBypass, "payment:avoid_fees", 0.75, true},
}

// Generic "move this off the platform" language.
var bypassPatterns = []threatPattern{
	{regexp.MustCompile(`(?i)\b(?:off|outside)\s+(?:of\s+)?(?:the\s+)?(?:platform|app|site|instabids)\b`), ThreatPlatformBypass, "bypass:off_platform", 0.8, true},
	{regexp.MustCompile(`(?i)\bdeal\s+(?:with\s+(?:me|you)\s+)?directly\b|\bwork\s+(?:with\s+(?:me|you)\s+)?directly\b|\bcut\s+out\s+the\s+middle\s?man\b`), ThreatPlatformBypass, "bypass:directly", 0.7, true},
	{regexp.MustCompile(`(?i)\bdon'?t\s+(?:go|do\s+(?:this|it))\s+through\s+the\s+(?:platform|app|site)\b`), ThreatPlatformBypass, "bypass:not_through_platform", 0.8, true},
}

var allThreatPatterns []threatPattern

func init() {
	allThreatPatterns = make([]threatPattern, 0,
		len(contactPatterns)+len(socialPatterns)+len(meetingPatterns)+len(paymentPatterns)+len(bypassPatterns))
	allThreatPatterns = append(allThreatPatterns, contactPatterns...)
	allThreatPatterns = append(allThreatPatterns, socialPatterns...)
	allThreatPatterns = append(allThreatPatterns, meetingPatterns...)
	allThreatPatterns = append(allThreatPatterns, paymentPatterns...)
	allThreatPatterns = append(allThreatPatterns, bypassPatterns...)
}
