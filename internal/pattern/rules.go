package pattern

import "agent-sentinel/internal/schema"

// builtinRules is the versioned rule set, grouped by category in the
// category declaration order. Base confidences are calibrated against
// the threat-level thresholds: >=0.85 critical, >=0.7 high, >=0.5 medium.
var builtinRules = []Rule{
	// Prompt injection: attempts to override or escape the agent's
	// instructions.
	{
		Type:            "prompt_injection_override",
		Category:        schema.CategoryPromptInjection,
		Expr:            `(?:ignore|disregard)\s+(?:(?:all|any|previous|above|prior)\s+)+(?:instructions?|prompts?|rules?)`,
		BaseConfidence:  0.9,
		Description:     "Instruction override attempt detected",
		SuggestedAction: "Block the request and review the originating session",
	},
	{
		Type:            "prompt_injection_forget",
		Category:        schema.CategoryPromptInjection,
		Expr:            `forget\s+(?:everything|all|previous|your\s+instructions)`,
		BaseConfidence:  0.85,
		Description:     "Instruction reset attempt detected",
		SuggestedAction: "Block the request and review the originating session",
	},
	{
		Type:            "prompt_injection_system_prompt_probe",
		Category:        schema.CategoryPromptInjection,
		Expr:            `(?:reveal|show|print|expose|leak|repeat)\b.{0,40}\bsystem\s+prompt`,
		BaseConfidence:  0.9,
		Description:     "System prompt extraction attempt detected",
		SuggestedAction: "Block the request and rotate any prompt-embedded secrets",
	},
	{
		Type:            "prompt_injection_role_hijack",
		Category:        schema.CategoryPromptInjection,
		Expr:            `(?:you\s+are\s+now\s+(?:a\s+)?|act\s+as\s+(?:if\s+you\s+are\s+)?(?:a\s+)?|pretend\s+(?:to\s+be|you\s+are)\s+(?:a\s+)?|simulate\s+being\s+(?:a\s+)?)(?:different|new|developer|admin|hacker|unrestricted)`,
		BaseConfidence:  0.8,
		Description:     "Role hijack attempt detected",
		SuggestedAction: "Review the conversation for persona manipulation",
	},
	{
		Type:            "prompt_injection_jailbreak",
		Category:        schema.CategoryPromptInjection,
		Expr:            `jailbreak|developer\s+mode\s+enabled|do\s+anything\s+now`,
		BaseConfidence:  0.85,
		Description:     "Jailbreak phrasing detected",
		SuggestedAction: "Block the request and review the originating session",
	},
	{
		Type:            "prompt_injection_safety_override",
		Category:        schema.CategoryPromptInjection,
		Expr:            `override\s+(?:safety|security|instructions?|guardrails?)`,
		BaseConfidence:  0.85,
		Description:     "Safety override attempt detected",
		SuggestedAction: "Block the request and review the originating session",
	},

	// Sensitive-data exposure: PII or secrets appearing in log text.
	// The detection engine floors this category at medium regardless of
	// confidence.
	{
		Type:            "pii_email",
		Category:        schema.CategorySensitiveData,
		Expr:            `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		BaseConfidence:  0.6,
		Description:     "Email address exposed in log output",
		SuggestedAction: "Redact email addresses before logging",
	},
	{
		Type:            "pii_phone",
		Category:        schema.CategorySensitiveData,
		Expr:            `\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`,
		BaseConfidence:  0.55,
		Description:     "Phone number exposed in log output",
		SuggestedAction: "Redact phone numbers before logging",
	},
	{
		Type:            "pii_ssn",
		Category:        schema.CategorySensitiveData,
		Expr:            `\b\d{3}-\d{2}-\d{4}\b`,
		BaseConfidence:  0.8,
		Description:     "Social security number exposed in log output",
		SuggestedAction: "Redact SSNs before logging and review retention",
	},
	{
		Type:            "pii_credit_card",
		Category:        schema.CategorySensitiveData,
		Expr:            `\b(?:\d{4}[-\s]){3}\d{4}\b`,
		BaseConfidence:  0.8,
		Description:     "Payment card number exposed in log output",
		SuggestedAction: "Redact card numbers before logging and review retention",
	},
	{
		Type:            "pii_ip_address",
		Category:        schema.CategorySensitiveData,
		Expr:            `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`,
		BaseConfidence:  0.5,
		Description:     "IP address exposed in log output",
		SuggestedAction: "Confirm IP logging is intended for this source",
	},
	{
		Type:            "secret_assignment",
		Category:        schema.CategorySensitiveData,
		Expr:            `(?:password|passwd|secret|api[_-]?key|access[_-]?token|bearer)\s*[:=]\s*\S{4,}`,
		BaseConfidence:  0.75,
		Description:     "Credential value exposed in log output",
		SuggestedAction: "Rotate the credential and redact it from logs",
	},

	// Code injection: SQL and command injection payloads surfacing in
	// agent inputs or outputs.
	{
		Type:            "sql_union_select",
		Category:        schema.CategoryCodeInjection,
		Expr:            `\bunion\s+(?:all\s+)?select\b`,
		BaseConfidence:  0.8,
		Description:     "SQL UNION SELECT payload detected",
		SuggestedAction: "Block the request and audit downstream query handling",
	},
	{
		Type:            "sql_tautology",
		Category:        schema.CategoryCodeInjection,
		Expr:            `\b(?:or|and)\s+\d+\s*=\s*\d+`,
		BaseConfidence:  0.8,
		Description:     "SQL tautology payload detected",
		SuggestedAction: "Block the request and audit downstream query handling",
	},
	{
		Type:            "sql_statement",
		Category:        schema.CategoryCodeInjection,
		Expr:            `\b(?:select|insert|update|delete|drop|alter)\b.{0,60}\b(?:from|into|where|table|values)\b`,
		BaseConfidence:  0.7,
		Description:     "SQL statement detected in log text",
		SuggestedAction: "Confirm the source is expected to emit SQL",
	},
	{
		Type:            "sql_stacked_statement",
		Category:        schema.CategoryCodeInjection,
		Expr:            `;\s*(?:drop|delete|insert|update|alter)\b`,
		BaseConfidence:  0.85,
		Description:     "Stacked SQL statement payload detected",
		SuggestedAction: "Block the request and audit downstream query handling",
	},
	{
		Type:            "command_execution",
		Category:        schema.CategoryCodeInjection,
		Expr:            `\b(?:eval|exec|system|popen|subprocess\.run)\s*\(`,
		BaseConfidence:  0.75,
		Description:     "Code execution call detected in log text",
		SuggestedAction: "Confirm the source is expected to emit code",
	},

	// Markup injection: script or active-content markup in log text.
	{
		Type:            "xss_script_tag",
		Category:        schema.CategoryMarkupInjection,
		Expr:            `<script[^>]*>`,
		BaseConfidence:  0.85,
		Description:     "Script tag detected in log text",
		SuggestedAction: "Encode log content before rendering in any UI",
	},
	{
		Type:            "xss_javascript_uri",
		Category:        schema.CategoryMarkupInjection,
		Expr:            `javascript\s*:`,
		BaseConfidence:  0.75,
		Description:     "JavaScript URI detected in log text",
		SuggestedAction: "Encode log content before rendering in any UI",
	},
	{
		Type:            "xss_event_handler",
		Category:        schema.CategoryMarkupInjection,
		Expr:            `<[a-z]+[^>]*\bon[a-z]+\s*=`,
		BaseConfidence:  0.75,
		Description:     "Inline event handler detected in log text",
		SuggestedAction: "Encode log content before rendering in any UI",
	},
	{
		Type:            "xss_embed_tag",
		Category:        schema.CategoryMarkupInjection,
		Expr:            `<(?:iframe|object|embed)\b[^>]*>`,
		BaseConfidence:  0.75,
		Description:     "Embedded content tag detected in log text",
		SuggestedAction: "Encode log content before rendering in any UI",
	},

	// Suspicious terms: weak heuristics that warrant a look but carry
	// low confidence on their own.
	{
		Type:            "suspicious_keyword_exploit",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bexploit\b`,
		BaseConfidence:  0.6,
		Description:     "Suspicious keyword 'exploit' detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "suspicious_keyword_backdoor",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bbackdoor\b`,
		BaseConfidence:  0.6,
		Description:     "Suspicious keyword 'backdoor' detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "suspicious_keyword_vulnerability",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bvulnerabilit(?:y|ies)\b`,
		BaseConfidence:  0.6,
		Description:     "Suspicious keyword 'vulnerability' detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "suspicious_keyword_malware",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bmalware\b`,
		BaseConfidence:  0.6,
		Description:     "Suspicious keyword 'malware' detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "suspicious_keyword_bypass",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bbypass\b`,
		BaseConfidence:  0.6,
		Description:     "Suspicious keyword 'bypass' detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "suspicious_keyword_privilege_escalation",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `\bprivilege\s+escalation\b|\bescalate\s+privileges?\b`,
		BaseConfidence:  0.65,
		Description:     "Privilege escalation phrasing detected",
		SuggestedAction: "Review the log context for security implications",
	},
	{
		Type:            "auth_failure",
		Category:        schema.CategorySuspiciousTerm,
		Expr:            `(?:authentication|login|logon)\s+fail(?:ed|ure)|invalid\s+credentials|access\s+denied`,
		BaseConfidence:  0.65,
		Description:     "Authentication failure reported",
		SuggestedAction: "Monitor the source for brute-force activity",
	},
}
