package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"hubcache/backend"
)

// desktopChannel shows alerts through the OS notification system
type desktopChannel struct {
	config   *DesktopConfig
	executor CommandExecutor
	platform string
}

// NewDesktopChannel creates a desktop popup channel
func NewDesktopChannel(cfg *DesktopConfig, opts ...Option) Channel {
	ch := &desktopChannel{
		config:   cfg,
		platform: runtime.GOOS,
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.executor == nil {
		ch.executor = &realCommandExecutor{}
	}
	return ch
}

// Send shows a popup unless the notification type is filtered out
func (c *desktopChannel) Send(n backend.Notification) error {
	if !c.config.allows(n.Type) {
		return nil
	}

	switch c.platform {
	case "linux":
		return c.executor.Execute("notify-send", "--app-name=hubcache", n.Title, n.Message)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(n.Message), escapeAppleScript(n.Title))
		return c.executor.Execute("osascript", "-e", script)
	case "windows":
		return c.executor.Execute("powershell", "-Command", windowsScript(n))
	default:
		return fmt.Errorf("unsupported platform: %s", c.platform)
	}
}

// escapeAppleScript escapes backslashes and double quotes for AppleScript
// double-quoted strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// escapePowerShell escapes backticks, double quotes and dollar signs for
// PowerShell double-quoted strings.
func escapePowerShell(s string) string {
	s = strings.ReplaceAll(s, "`", "``")
	s = strings.ReplaceAll(s, `"`, "`\"")
	s = strings.ReplaceAll(s, "$", "`$")
	return s
}

func windowsScript(n backend.Notification) string {
	return fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
$notification = New-Object System.Windows.Forms.NotifyIcon
$notification.Icon = [System.Drawing.SystemIcons]::Information
$notification.BalloonTipTitle = "%s"
$notification.BalloonTipText = "%s"
$notification.Visible = $true
$notification.ShowBalloonTip(5000)
`, escapePowerShell(n.Title), escapePowerShell(n.Message))
}

// Close cleans up resources
func (c *desktopChannel) Close() error {
	return nil
}

type realCommandExecutor struct{}

func (e *realCommandExecutor) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}
