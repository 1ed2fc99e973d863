// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package documents imports ERP drawing documents and attaches them to parts.
package documents

import (
	"fmt"
	"strings"

	"gestima.io/gestima/parts"
)

// Metadata is one listed document row, without its binary content.
type Metadata struct {
	RowPointer  string
	Name        string
	Description string
}

// Match is the verdict on one document.
type Match struct {
	Doc     Metadata
	PartID  int64
	Article string

	IsValid         bool
	IsDuplicate     bool
	Errors          []string
	Warnings        []string
	DuplicateAction string
}

// MatchDocuments pairs documents with parts by article number.
//
// A document matches a part when its normalized name equals the article
// exactly, or contains the article bounded by string edges or non-alphanumeric
// characters. Bare substrings do not match: "35126" inside "52083512611" is
// rejected. Multiple exact matches keep the first with a warning; multiple
// token matches keep the longest article with a warning.
func MatchDocuments(docs []Metadata, activeParts []parts.Part) []Match {
	byArticle := make(map[string]parts.Part, len(activeParts))
	articles := make([]string, 0, len(activeParts))
	for _, part := range activeParts {
		article := strings.ToLower(strings.TrimSpace(part.ArticleNumber))
		if article == "" {
			continue
		}
		if _, seen := byArticle[article]; seen {
			continue
		}
		byArticle[article] = part
		articles = append(articles, article)
	}

	result := make([]Match, 0, len(docs))
	for _, doc := range docs {
		match := Match{Doc: doc, DuplicateAction: "skip"}

		normalized := strings.ToLower(strings.TrimSpace(doc.Name))
		normalized = strings.TrimSuffix(normalized, ".pdf")
		if normalized == "" {
			match.Errors = append(match.Errors, "document has no name")
			result = append(result, match)
			continue
		}

		var exact []string
		var token []string
		for _, article := range articles {
			if article == normalized {
				exact = append(exact, article)
				continue
			}
			if containsToken(normalized, article) {
				token = append(token, article)
			}
		}

		switch {
		case len(exact) > 0:
			if len(exact) > 1 {
				match.Warnings = append(match.Warnings, fmt.Sprintf(
					"multiple exact matches %v, keeping %s", exact, exact[0]))
			}
			part := byArticle[exact[0]]
			match.PartID = part.ID
			match.Article = part.ArticleNumber
			match.IsValid = true

		case len(token) > 0:
			best := token[0]
			for _, article := range token[1:] {
				if len(article) > len(best) {
					best = article
				}
			}
			if len(token) > 1 {
				match.Warnings = append(match.Warnings, fmt.Sprintf(
					"multiple candidates %v, keeping longest %s", token, best))
			}
			part := byArticle[best]
			match.PartID = part.ID
			match.Article = part.ArticleNumber
			match.IsValid = true

		default:
			match.Errors = append(match.Errors, "no part matches document "+doc.Name)
		}

		result = append(result, match)
	}
	return result
}

// containsToken reports whether needle occurs in haystack bounded by string
// edges or non-alphanumeric characters on both sides.
func containsToken(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; ; {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)

		leftOK := start == 0 || !isAlphanumeric(haystack[start-1])
		rightOK := end == len(haystack) || !isAlphanumeric(haystack[end])
		if leftOK && rightOK {
			return true
		}
		from = start + 1
	}
}

func isAlphanumeric(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
