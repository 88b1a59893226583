package ptyservice

import "strings"

// Substrings that mark a terminal waiting for a secret or a yes/no
// answer. Matching is case-insensitive; password wins over confirm
// when both appear.
var (
	passwordPrompts = []string{
		"[sudo] password",
		"password:",
		"password for",
		"enter passphrase",
		"enter password",
		"authentication password",
	}
	confirmPrompts = []string{
		"[y/n]",
		"(y/n)",
		"[yes/no]",
		"(yes/no)",
		"continue? [",
		"proceed? [",
		"are you sure",
		"do you want to continue",
	}
)

// detectPromptHint classifies terminal output as a password prompt, a
// confirmation prompt, or neither ("").
func detectPromptHint(output string) string {
	lower := strings.ToLower(output)
	for _, p := range passwordPrompts {
		if strings.Contains(lower, p) {
			return "password"
		}
	}
	for _, p := range confirmPrompts {
		if strings.Contains(lower, p) {
			return "confirm"
		}
	}
	return ""
}
