package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/config"
)

const appName = "imgharvest"

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name="+appName, title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("%s").Show($toast)
	`, title, message, appName)

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier handles cross-platform notifications
type Notifier struct {
	sender  NotificationSender
	desktop bool
}

// NewNotifier creates a Notifier for the current platform. Only the
// "desktop" notification type raises desktop notifications.
func NewNotifier(notificationType string) *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}
	return NewNotifierWithSender(sender, strings.EqualFold(notificationType, "desktop"))
}

// NewNotifierWithSender creates a Notifier using sender. sender may be nil.
func NewNotifierWithSender(sender NotificationSender, desktop bool) *Notifier {
	return &Notifier{sender: sender, desktop: desktop}
}

func (n *Notifier) send(title, message string) {
	if n.desktop && n.sender != nil {
		// Delivery failures are not reported
		_ = n.sender.Send(title, message)
	}
}

// SendNotification sends a desktop notification and prints to console
func (n *Notifier) SendNotification(title, message string) {
	printf(false, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	printf(true, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	printf(false, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

// RunNotifier notifies when a run finishes. It implements batch.Observer.
type RunNotifier struct {
	batch.NopObserver
	notifier *Notifier
	cfg      config.NotificationConfig
}

// NewRunNotifier creates a run notifier. It returns nil when notifications
// are disabled.
func NewRunNotifier(n *Notifier, cfg config.NotificationConfig) *RunNotifier {
	if !cfg.Enabled || n == nil {
		return nil
	}
	return &RunNotifier{notifier: n, cfg: cfg}
}

func (r *RunNotifier) RunFinished(rep *batch.RunReport) {
	if rep == nil {
		return
	}
	failed := rep.Count(batch.StatusFailed)
	switch {
	case failed > 0 && r.cfg.OnError:
		r.notifier.SendError("Harvest finished with failures",
			fmt.Sprintf("%d of %d categories failed, %d images saved", failed, len(rep.Results), rep.TotalImages()))
	case rep.Interrupted && r.cfg.OnError:
		r.notifier.SendError("Harvest interrupted",
			fmt.Sprintf("Stopped after %d of %d categories", len(rep.Results), rep.Selected))
	case failed == 0 && !rep.Interrupted && r.cfg.OnComplete:
		r.notifier.SendSuccess("Harvest complete",
			fmt.Sprintf("%d images in %d categories", rep.TotalImages(), len(rep.Results)))
	}
}
