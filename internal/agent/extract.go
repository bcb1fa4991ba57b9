package agent

import (
	"regexp"
	"strings"
)

// File extraction from free-form model output is an ordered chain of parser
// strategies; each returns zero or more (path, content) pairs and the first
// non-empty result wins.
var fileExtractors = []func(string) []File{
	extractHeadingFiles,
	extractInlineFiles,
	extractCommentFiles,
}

var (
	// "### path/to/file.ext" heading followed by a code fence.
	headingFileRe = regexp.MustCompile("###\\s*([\\w/.\\-]+\\.\\w+)\\s*\\n```\\w*\\n([\\s\\S]*?)```")
	// "File: name.ext" or "**name.ext**" or a bare filename before a fence.
	inlineFileRe = regexp.MustCompile("(?:File:\\s*|\\*\\*)?([\\w/.\\-]+\\.\\w+)(?:\\*\\*)?\\s*\\n```\\w*\\n([\\s\\S]*?)```")
	// Filename embedded in the first comment line inside a fence.
	commentFileRe = regexp.MustCompile("```\\w*\\n(?:#|//|<!--|/\\*)\\s*([\\w/.\\-]+\\.\\w+).*?\\n([\\s\\S]*?)```")
)

// ExtractFiles pulls (path, content) pairs out of free-form model output.
// Strategies are tried in priority order: explicit heading + fence, inline
// filename + fence, then comment-embedded filename inside a fence.
func ExtractFiles(response string) []File {
	for _, extract := range fileExtractors {
		if files := extract(response); len(files) > 0 {
			return files
		}
	}
	return nil
}

func extractHeadingFiles(response string) []File {
	return collectMatches(headingFileRe.FindAllStringSubmatch(response, -1), nil)
}

func extractInlineFiles(response string) []File {
	return collectMatches(inlineFileRe.FindAllStringSubmatch(response, -1), nil)
}

func extractCommentFiles(response string) []File {
	return collectMatches(commentFileRe.FindAllStringSubmatch(response, -1), nil)
}

// collectMatches converts regexp submatches into Files, deduplicating by path.
func collectMatches(matches [][]string, files []File) []File {
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if hasFile(files, path) {
			continue
		}
		files = append(files, File{Path: path, Content: strings.TrimSpace(m[2])})
	}
	return files
}

func hasFile(files []File, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}
