package intent

import "regexp"

// keywordRule maps a query pattern to an intent. Rules are evaluated in
// order; specific phrasings sit above generic ones so "enter troubleshooting
// mode" is mode management, not a health question.
type keywordRule struct {
	pattern    *regexp.Regexp
	intent     Intent
	confidence float64
}

var keywordRules = []keywordRule{
	{regexp.MustCompile(`(?i)\b(enter|exit|leave|switch to|start|stop)\b.*\bmode\b`), IntentModeManagement, 0.95},
	{regexp.MustCompile(`(?i)^/(troubleshoot|normal)\b`), IntentModeManagement, 0.95},
	{regexp.MustCompile(`(?i)\btroubleshoot(ing)?\b`), IntentIssueDiagnosis, 0.9},
	{regexp.MustCompile(`(?i)\b(not|isn'?t|stopped|won'?t)\s+(working|respond(ing)?|connect(ing)?|turn(ing)?)\b`), IntentIssueDiagnosis, 0.9},
	{regexp.MustCompile(`(?i)\bwhy\s+(is|does|won'?t|isn'?t|did)\b`), IntentIssueDiagnosis, 0.85},
	{regexp.MustCompile(`(?i)\b(randomly|keeps?\s+(turning|switching|going|disconnecting))\b`), IntentIssueDiagnosis, 0.85},
	{regexp.MustCompile(`(?i)\b(status|health|battery)\s+(of|for)\b`), IntentDeviceHealth, 0.85},
	{regexp.MustCompile(`(?i)\b(is|are)\b.*\b(online|offline|connected|responding|healthy)\b`), IntentDeviceHealth, 0.8},
	{regexp.MustCompile(`(?i)\b(problem|issue|broken|malfunctioning|offline)\b`), IntentIssueDiagnosis, 0.8},
	{regexp.MustCompile(`(?i)\b(system|home|house|hub)\s+(status|overview|summary)\b`), IntentSystemStatus, 0.85},
	{regexp.MustCompile(`(?i)\bhow\s+many\s+devices\b`), IntentSystemStatus, 0.8},
	{regexp.MustCompile(`(?i)\b(find|search|look\s+for|show\s+me|list|do\s+i\s+have)\b.*\b(device|light|sensor|lock|switch|thermostat|camera|plug)s?\b`), IntentDiscovery, 0.85},
	{regexp.MustCompile(`(?i)\bwhat\s+devices\b`), IntentDiscovery, 0.85},
}

// matchKeywordRules returns the first matching rule's classification, or
// false when no rule fires.
func matchKeywordRules(normalized string) (Intent, float64, bool) {
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(normalized) {
			return rule.intent, rule.confidence, true
		}
	}
	return "", 0, false
}
