package scanner

import (
	"path/filepath"
	"strings"
)

// SessionKeyForPath derives the colon-joined session key from an event
// log's location under the state root:
//
//	agents/main/sessions/<uuid>.jsonl          -> agent:main:main
//	agents/main/subagent/sessions/<uuid>.jsonl -> agent:main:main:subagent
//	cron/runs/<uuid>.jsonl                     -> cron:runs
//
// Unrecognized layouts fall back to joining the directory segments.
func SessionKeyForPath(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		rel = filepath.Dir(path)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")

	if len(segments) >= 3 && segments[0] == "agents" {
		agent := segments[1]
		key := "agent:" + agent + ":" + agent
		if containsSegment(segments[2:], "subagent") {
			key += ":subagent"
		}
		return key
	}

	if len(segments) >= 2 && segments[0] == "cron" && segments[1] == "runs" {
		return "cron:runs"
	}

	// Fallback: drop the trailing sessions dir and colon-join the rest
	var parts []string
	for _, seg := range segments {
		if seg == "sessions" || seg == "." || seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, ":")
}

// SessionTypeForPath classifies a session file by its location.
func SessionTypeForPath(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		rel = filepath.Dir(path)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")

	if containsSegment(segments, "subagent") {
		return "subagent"
	}
	if len(segments) > 0 && segments[0] == "cron" {
		return "cron"
	}
	return "main"
}

// AgentIDForPath returns the agent directory name, if any.
func AgentIDForPath(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		return ""
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) >= 2 && segments[0] == "agents" {
		return segments[1]
	}
	return ""
}

func containsSegment(segments []string, want string) bool {
	for _, s := range segments {
		if s == want {
			return true
		}
	}
	return false
}
