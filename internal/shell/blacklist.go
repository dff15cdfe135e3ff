package shell

import "regexp"

type destructivePattern struct {
	name string
	re   *regexp.Regexp
}

// destructivePatterns are refused for every role. Checked before classification.
var destructivePatterns = []destructivePattern{
	{"recursive delete", regexp.MustCompile(`(?:^|[;&|(]\s*|\b(?:sudo|xargs|exec|env|nohup)\s+(?:-\S+\s+)*)rm\s+(?:-\S*\s+)*(?:-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)\b`)},
	{"forced git push", regexp.MustCompile(`\bgit\s+push\b.*(?:\s--force(?:-with-lease)?\b|\s-f\b|\s\+\S+)`)},
	{"git history rewrite", regexp.MustCompile(`\bgit\s+filter-(?:branch|repo)\b`)},
	{"git hard reset", regexp.MustCompile(`\bgit\s+reset\b.*--hard\b`)},
	{"git clean force", regexp.MustCompile(`\bgit\s+clean\s+(?:-\S*\s+)*-[a-zA-Z]*f`)},
	{"registry publish", regexp.MustCompile(`\b(?:npm|pnpm|yarn|bun)\s+publish\b|\bcargo\s+publish\b|\btwine\s+upload\b|\bgem\s+push\b`)},
	{"world-writable permissions", regexp.MustCompile(`\bchmod\s+(?:-\S+\s+)*0?777\b`)},
	{"device file redirection", regexp.MustCompile(`>\s*/dev/(?:sd|hd|nvme|xvd|vd|disk|mmcblk)`)},
	{"filesystem format", regexp.MustCompile(`\bmkfs(?:\.\w+)?\b`)},
	{"disk image write", regexp.MustCompile(`\bdd\b.*\bof=/dev/`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"pipe to shell", regexp.MustCompile(`\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`)},
}

// MatchDestructive returns the name of the destructive pattern command hits, or "".
func MatchDestructive(command string) string {
	for _, p := range destructivePatterns {
		if p.re.MatchString(command) {
			return p.name
		}
	}
	return ""
}
