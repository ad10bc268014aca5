package filetree

import (
	"path"
	"strings"
)

var languages = map[string]string{
	"js":   "javascript",
	"jsx":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"py":   "python",
	"java": "java",
	"c":    "c",
	"cpp":  "cpp",
	"cs":   "csharp",
	"go":   "go",
	"rs":   "rust",
	"rb":   "ruby",
	"php":  "php",
	"html": "html",
	"css":  "css",
	"scss": "scss",
	"json": "json",
	"md":   "markdown",
	"sql":  "sql",
	"sh":   "shell",
	"bash": "shell",
	"yaml": "yaml",
	"yml":  "yaml",
	"xml":  "xml",
	"txt":  "plaintext",
}

// LanguageFor returns the editor language for a file name, based on its
// extension. Unknown extensions map to "plaintext".
func LanguageFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "plaintext"
}
