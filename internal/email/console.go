package email

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"

	"prismd/internal/logging"
)

// ConsoleConfig controls the console provider's box style and color use.
type ConsoleConfig struct {
	UseColors bool
	LineWidth int
}

// DefaultConsoleConfig mirrors the pretty/colored development default.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{UseColors: true, LineWidth: 80}
}

// ConsoleProvider prints formatted emails to an io.Writer (stdout in
// production) instead of delivering them, for local development.
type ConsoleProvider struct {
	cfg    ConsoleConfig
	out    io.Writer
	logger logging.Logger
}

// NewConsoleProvider builds a ConsoleProvider writing to w.
func NewConsoleProvider(cfg ConsoleConfig, w io.Writer, logger logging.Logger) *ConsoleProvider {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ConsoleProvider{cfg: cfg, out: w, logger: logger}
}

func (p *ConsoleProvider) Name() string { return "console" }

func (p *ConsoleProvider) Send(ctx context.Context, msg *Message) (Result, error) {
	if err := msg.Normalize(); err != nil {
		return Result{}, err
	}
	effective := p.cfg
	effective.UseColors = effective.UseColors && supportsColor(p.out)
	fmt.Fprintln(p.out, formatEmail(msg, effective))
	p.logger.Info("console email rendered", logging.F("to", strings.Join(msg.To, ",")), logging.F("subject", msg.Subject))
	return Result{Success: true, Provider: p.Name(), Timestamp: time.Now()}, nil
}

func (p *ConsoleProvider) SendBulk(ctx context.Context, msgs []*Message) ([]Result, error) {
	return SendBulkSequentially(ctx, p, msgs), nil
}

func (p *ConsoleProvider) VerifyConfiguration(ctx context.Context) bool { return true }

// supportsColor mirrors the terminal/CI/Docker detection used to decide
// whether to emit ANSI sequences.
func supportsColor(w io.Writer) bool {
	if v := strings.ToLower(os.Getenv("FORCE_COLOR")); v == "1" || v == "true" {
		return true
	}
	if v := strings.ToLower(os.Getenv("FORCE_COLOR")); v == "0" || v == "false" {
		return false
	}
	for _, v := range []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if os.Getenv(v) != "" {
			return false
		}
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return false
	}
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func boxLine(left, mid, right, fill rune, width int) string {
	return string(left) + strings.Repeat(string(fill), width-2) + string(right)
}

func boxTitled(content, title string, width int) string {
	lines := strings.Split(content, "\n")
	if width == 0 {
		for _, l := range lines {
			if len(l)+4 > width {
				width = len(l) + 4
			}
		}
		if len(title)+4 > width {
			width = len(title) + 4
		}
		if width < 20 {
			width = 20
		}
	}

	var b strings.Builder
	if title != "" {
		titlePart := " " + title + " "
		padding := width - len(titlePart) - 2
		if padding < 0 {
			padding = 0
		}
		left := padding / 2
		right := padding - left
		b.WriteString("╔" + strings.Repeat("═", left) + titlePart + strings.Repeat("═", right) + "╗\n")
	} else {
		b.WriteString(boxLine('╔', 0, '╗', '═', width) + "\n")
	}
	for _, l := range lines {
		pad := width - 4 - len(l)
		if pad < 0 {
			pad = 0
		}
		b.WriteString("║ " + l + strings.Repeat(" ", pad) + " ║\n")
	}
	b.WriteString(boxLine('╚', 0, '╝', '═', width))
	return b.String()
}

type link struct {
	URL   string
	Text  string
	Type  string
	Token string
}

var anchorRe = regexp.MustCompile(`(?i)<a[^>]*href="([^"]+)"[^>]*>([^<]*)</a>`)
var tokenParamRe = regexp.MustCompile(`token=([a-zA-Z0-9_\-]+)`)
var tokenPathRe = regexp.MustCompile(`(?i)/(?:verify|reset|confirm)/([a-zA-Z0-9_\-]+)`)

func extractLinks(html string) []link {
	if html == "" {
		return nil
	}
	var links []link
	for _, m := range anchorRe.FindAllStringSubmatch(html, -1) {
		url := m[1]
		text := strings.TrimSpace(m[2])
		if text == "" {
			text = "Link"
		}
		links = append(links, link{
			URL:   url,
			Text:  text,
			Type:  linkType(url, text),
			Token: extractToken(url),
		})
	}
	return links
}

func linkType(url, text string) string {
	urlLower := strings.ToLower(url)
	textLower := strings.ToLower(text)
	switch {
	case strings.Contains(urlLower, "verify") || strings.Contains(textLower, "verify") || strings.Contains(urlLower, "confirm"):
		return "verification"
	case strings.Contains(urlLower, "reset") || strings.Contains(textLower, "password"):
		return "password_reset"
	case strings.Contains(urlLower, "unsubscribe"):
		return "unsubscribe"
	default:
		return "other"
	}
}

func extractToken(url string) string {
	if m := tokenParamRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := tokenPathRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

func emailType(msg *Message) string {
	subject := strings.ToLower(msg.Subject)
	content := strings.ToLower(msg.HTMLBody + msg.TextBody)
	switch {
	case strings.Contains(subject, "verify") || strings.Contains(content, "verify"):
		return "verification"
	case strings.Contains(subject, "reset") && strings.Contains(subject, "password"):
		return "password_reset"
	case strings.Contains(subject, "security") || strings.Contains(subject, "alert"):
		return "security_alert"
	case strings.Contains(subject, "welcome"):
		return "welcome"
	default:
		return "general"
	}
}

func formatEmail(msg *Message, cfg ConsoleConfig) string {
	width := cfg.LineWidth
	if width == 0 {
		width = 80
	}
	if width > 100 {
		width = 100
	}

	kind := emailType(msg)
	var b strings.Builder

	b.WriteString(boxTitled(headerText(kind), "", width) + "\n\n")

	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\n")
	b.WriteString("Subject: " + msg.Subject + "\n")
	if msg.FromEmail != "" {
		if msg.FromName != "" {
			b.WriteString(fmt.Sprintf("From: %s <%s>\n", msg.FromName, msg.FromEmail))
		} else {
			b.WriteString("From: " + msg.FromEmail + "\n")
		}
	}
	if len(msg.CC) > 0 {
		b.WriteString("CC: " + strings.Join(msg.CC, ", ") + "\n")
	}
	b.WriteString("\n")

	links := extractLinks(msg.HTMLBody)
	switch kind {
	case "verification":
		b.WriteString(linkSection(links, "verification", "Verification Token", "Verification Link", width))
	case "password_reset":
		b.WriteString(linkSection(links, "password_reset", "Reset Token", "Password Reset Link", width))
	default:
		if msg.TextBody != "" {
			b.WriteString("Content Preview:\n" + truncate(msg.TextBody, 300) + "\n\n")
		}
		for _, l := range links {
			if cfg.UseColors {
				b.WriteString("  * " + colorizeLink(l) + "\n")
			} else {
				b.WriteString("  * " + l.Text + ": " + l.URL + "\n")
			}
		}
	}

	b.WriteString("\n" + strings.Repeat("=", width) + "\n")
	b.WriteString("Email sent via console provider (development mode)\n")
	return b.String()
}

func headerText(kind string) string {
	switch kind {
	case "verification":
		return "EMAIL VERIFICATION"
	case "password_reset":
		return "PASSWORD RESET"
	case "security_alert":
		return "SECURITY ALERT"
	case "welcome":
		return "WELCOME EMAIL"
	default:
		return "EMAIL NOTIFICATION"
	}
}

func linkSection(links []link, wantType, tokenTitle, linkTitle string, width int) string {
	var b strings.Builder
	var match *link
	for i := range links {
		if links[i].Type == wantType {
			match = &links[i]
			break
		}
	}
	if match == nil {
		b.WriteString("No " + strings.ToLower(linkTitle) + " found in email\n")
		return b.String()
	}
	token := match.Token
	if token == "" {
		token = "no token found"
	}
	b.WriteString(boxTitled("Token: "+token, tokenTitle, width) + "\n\n")
	b.WriteString(linkTitle + ":\n" + match.URL + "\n")
	if match.Token != "" {
		b.WriteString("Token: " + match.Token + "\n")
	}
	return b.String()
}

func colorizeLink(l link) string {
	var c *color.Color
	switch l.Type {
	case "verification":
		c = color.New(color.FgGreen, color.Bold)
	case "password_reset":
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgBlue)
	}
	return c.Sprintf("%s: %s", l.Text, l.URL)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
