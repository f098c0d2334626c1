// Package notify raises desktop notifications for session milestones.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send raises a desktop notification on the current platform. Callers
// treat failures as non-fatal; a headless machine with no notification
// daemon should not stop a session.
func Send(title, message string) error {
	cmd, err := notifyCommand(runtime.GOOS, title, message)
	if err != nil {
		return err
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// notifyCommand builds the platform notifier invocation without running
// it. macOS goes through osascript, Linux through notify-send.
func notifyCommand(goos, title, message string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		script := "display notification " + quoteAppleScript(message) +
			" with title " + quoteAppleScript(title) +
			` sound name "default"`
		return exec.Command("osascript", "-e", script), nil
	case "linux":
		return exec.Command("notify-send", "--", title, message), nil
	}
	return nil, fmt.Errorf("desktop notifications not supported on %s", goos)
}

// quoteAppleScript wraps s in double quotes with AppleScript escaping
// applied, so arbitrary text can be spliced into a script line.
func quoteAppleScript(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
