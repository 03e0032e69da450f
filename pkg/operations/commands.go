package operations

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/openfroyo/netops/pkg/engine"
)

// ConfigurationKind selects which configuration a backup copies.
type ConfigurationKind string

const (
	ConfigurationRunning ConfigurationKind = "running"
	ConfigurationStartup ConfigurationKind = "startup"
)

// Validate returns a configuration error for unsupported kinds.
func (k ConfigurationKind) Validate() error {
	switch k {
	case ConfigurationRunning, ConfigurationStartup:
		return nil
	default:
		return engine.NewConfigurationError(fmt.Sprintf("unsupported configuration kind %q", string(k)), nil).
			WithCode(engine.ErrCodeUnsupportedKind)
	}
}

// ParseConfigurationKind maps user input such as "Running" to a kind.
func ParseConfigurationKind(s string) (ConfigurationKind, error) {
	k := ConfigurationKind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// TimestampLayout is the filename timestamp format (yyyy-MM-ddTHH-mm-ss).
const TimestampLayout = "2006-01-02T15-04-05"

// IssuePolicy decides what a transport error at command issue means.
type IssuePolicy int

const (
	// IssuePolicyLogAndContinue logs the error and lets polling decide the outcome.
	IssuePolicyLogAndContinue IssuePolicy = iota

	// IssuePolicyFatal fails the operation.
	IssuePolicyFatal
)

func (p IssuePolicy) String() string {
	switch p {
	case IssuePolicyLogAndContinue:
		return "log-and-continue"
	case IssuePolicyFatal:
		return "fatal"
	default:
		return fmt.Sprintf("IssuePolicy(%d)", int(p))
	}
}

// ParseIssuePolicy parses the String form of an IssuePolicy.
func ParseIssuePolicy(s string) (IssuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "log-and-continue":
		return IssuePolicyLogAndContinue, nil
	case "fatal":
		return IssuePolicyFatal, nil
	default:
		return 0, engine.NewConfigurationError(fmt.Sprintf("unsupported issue policy %q", s), nil).
			WithCode(engine.ErrCodeValidation)
	}
}

// CommandSet renders vendor CLI commands. The zero value is not usable; start
// from NXOSCommands.
type CommandSet struct {
	// CopyConfig is a format string taking kind, server, folder and file name.
	CopyConfig string

	// Install is a format string taking the image location.
	Install string

	// InstallProgress queries install progress.
	InstallProgress string
}

// NXOSCommands is the Cisco NX-OS command set.
var NXOSCommands = CommandSet{
	CopyConfig:      "copy %s-config tftp://%s/%s/%s",
	Install:         "install all nxos %s non-interruptive",
	InstallProgress: "sh install all progress",
}

// BackupCommand renders the copy command, appending vrf when it is not empty.
func (c CommandSet) BackupCommand(kind ConfigurationKind, loc BackupLocation, vrf string) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf(c.CopyConfig, kind, loc.Server, loc.FolderPath, loc.FileName)
	if vrf = strings.TrimSpace(vrf); vrf != "" {
		cmd += " " + vrf
	}
	return cmd, nil
}

// InstallCommand renders the software install command.
func (c CommandSet) InstallCommand(image string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", engine.NewConfigurationError("image location is empty", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return fmt.Sprintf(c.Install, image), nil
}

// SanitizeDeviceName removes every whitespace character from name.
func SanitizeDeviceName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

// BackupFileName returns "{name}-{timestamp}-{kind}.cfg" for an already sanitized name.
func BackupFileName(sanitized string, at time.Time, kind ConfigurationKind) string {
	return fmt.Sprintf("%s-%s-%s.cfg", sanitized, at.Format(TimestampLayout), kind)
}
