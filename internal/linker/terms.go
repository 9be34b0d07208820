package linker

import (
	"strings"
	"unicode"
)

// stopwords are dropped during term extraction. Words shorter than three
// characters never reach this table.
var stopwords = map[string]struct{}{
	"about": {}, "add": {}, "after": {}, "all": {}, "also": {}, "and": {},
	"any": {}, "are": {}, "because": {}, "been": {}, "before": {},
	"being": {}, "between": {}, "but": {}, "can": {}, "could": {},
	"did": {}, "does": {}, "doing": {}, "down": {}, "during": {},
	"each": {}, "few": {}, "for": {}, "from": {}, "further": {},
	"get": {}, "had": {}, "has": {}, "have": {}, "having": {}, "her": {},
	"here": {}, "him": {}, "his": {}, "how": {}, "into": {}, "its": {},
	"just": {}, "make": {}, "more": {}, "most": {}, "need": {}, "new": {},
	"not": {}, "now": {}, "off": {}, "once": {}, "only": {}, "other": {},
	"our": {}, "out": {}, "over": {}, "own": {}, "same": {}, "she": {},
	"should": {}, "some": {}, "such": {}, "than": {}, "that": {},
	"the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"too": {}, "under": {}, "until": {}, "use": {}, "using": {},
	"very": {}, "was": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// techTerms earn the technical-term scoring bonus when one appears in both
// the task text and the candidate memory.
var techTerms = map[string]struct{}{
	"api": {}, "async": {}, "auth": {}, "backoff": {}, "bash": {},
	"branch": {}, "bug": {}, "cache": {}, "cert": {}, "channel": {},
	"client": {}, "commit": {}, "compiler": {}, "config": {},
	"container": {}, "cors": {}, "database": {}, "deadlock": {},
	"debug": {}, "deploy": {}, "dns": {}, "docker": {}, "endpoint": {},
	"error": {}, "exception": {}, "git": {}, "goroutine": {},
	"graphql": {}, "grpc": {}, "http": {}, "https": {}, "index": {},
	"json": {}, "jwt": {}, "kafka": {}, "kubernetes": {}, "latency": {},
	"leak": {}, "linux": {}, "lock": {}, "merge": {}, "migration": {},
	"mutex": {}, "mysql": {}, "oauth": {}, "parser": {}, "postgres": {},
	"proxy": {}, "query": {}, "queue": {}, "race": {}, "redis": {},
	"refactor": {}, "regex": {}, "request": {}, "response": {},
	"rest": {}, "retry": {}, "schema": {}, "server": {}, "shell": {},
	"socket": {}, "sql": {}, "sqlite": {}, "ssh": {}, "ssl": {},
	"tcp": {}, "test": {}, "thread": {}, "timeout": {}, "tls": {},
	"token": {}, "udp": {}, "webhook": {}, "websocket": {}, "yaml": {},
}

// extractTerms tokenizes the given text fragments: lowercase, split on
// anything that is not a letter or digit, drop stopwords and tokens
// shorter than three characters. Duplicates are removed, first-seen order
// is kept so matched_terms read naturally.
func extractTerms(parts ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range parts {
		tokens := strings.FieldsFunc(strings.ToLower(part), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			if len(tok) < 3 {
				continue
			}
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func hasTechTerm(terms []string) bool {
	for _, t := range terms {
		if _, ok := techTerms[t]; ok {
			return true
		}
	}
	return false
}
