package waf

import (
	"regexp"
	"strings"
)

// part is a bit set of the request parts a rule reads.
type part uint8

const (
	partPath part = 1 << iota
	partQuery
	partHeaders
	partUserAgent
	partRawURI
)

type rule struct {
	name  string
	parts part
	re    *regexp.Regexp
}

// anyOf compiles a case-insensitive alternation.
func anyOf(alternatives ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alternatives, "|") + `)`)
}

var builtinRules = []rule{
	{
		name:  "sql-injection",
		parts: partPath | partQuery | partHeaders,
		re: anyOf(
			`union\s+(?:all\s+)?select`,
			`;\s*(?:drop|delete|insert|update|alter|truncate)\s`,
			`['"]\s*(?:or|and)\s+['"\d][^=]*=`,
			`'\s*;\s*--`,
			`(?:sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(`,
			`into\s+(?:out|dump)file`,
		),
	},
	{
		name:  "xss",
		parts: partPath | partQuery | partHeaders,
		re: anyOf(
			`<\s*script`,
			`javascript\s*:`,
			`\bon(?:error|load|click|mouseover|focus)\s*=`,
			`<\s*(?:iframe|object|embed|svg)[\s>/]`,
			`document\s*\.\s*(?:cookie|location|write)`,
		),
	},
	{
		name:  "path-traversal",
		parts: partRawURI,
		re:    anyOf(`\.\.[\\/]`, `\.\.%(?:2f|5c)`, `%00`),
	},
	{
		name:  "jndi-lookup",
		parts: partPath | partQuery | partHeaders,
		re:    regexp.MustCompile(`(?i)\$\{[^}]*(?:jndi|java)\s*:`),
	},
	{
		name:  "shell-injection",
		parts: partQuery | partHeaders,
		re:    anyOf(`\$\(`, `[;|]\s*(?:cat|curl|wget|bash|sh|nc|chmod)\b`),
	},
	{
		name:  "scanner",
		parts: partUserAgent,
		re:    anyOf(`sqlmap`, `nikto`, `masscan`, `nuclei`, `zgrab`, `gobuster`, `dirbuster`, `acunetix`, `nessus`),
	},
	{
		name:  "header-injection",
		parts: partHeaders,
		re:    regexp.MustCompile(`[\r\n]`),
	},
	{
		name:  "sensitive-file",
		parts: partPath,
		re:    anyOf(`/\.env\b`, `/\.git(?:/|$)`, `/\.(?:aws|ssh|docker|kube)/`, `/etc/(?:passwd|shadow)`, `/wp-(?:admin|login)`, `/phpmyadmin`),
	},
}
