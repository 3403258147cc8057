// Package attribution resolves who is writing memories: an explicit agent
// name, the MEMENTO_* environment, or the local git identity.
package attribution

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var (
	cachedAgent string
	agentOnce   sync.Once
)

// DetectAgent returns the best available agent or developer name, checked in
// order: MEMENTO_AGENT_NAME, MEMENTO_USER, git config user.name, "unknown".
// The result is cached for the process lifetime.
func DetectAgent() string {
	agentOnce.Do(func() {
		cachedAgent = detect()
	})
	return cachedAgent
}

func detect() string {
	if name := os.Getenv("MEMENTO_AGENT_NAME"); name != "" {
		return name
	}
	if name := os.Getenv("MEMENTO_USER"); name != "" {
		return name
	}
	if name := gitUserName(); name != "" {
		return name
	}
	return "unknown"
}

// gitUserName returns the trimmed `git config user.name`, or "" on any error.
func gitUserName() string {
	out, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
