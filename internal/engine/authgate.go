package engine

import (
	"regexp"
	"strings"

	"github.com/mvolf/vgrab/internal/backend"
)

// Backends signal structured failures as free text; these patterns are the
// contained classification boundary. Everything past the gate works with
// typed verdicts only.
var (
	signInPattern        = regexp.MustCompile(`\b[Ss]ign in\b|--username`)
	videoPasswordPattern = regexp.MustCompile(`--video-password`)
)

const xattrWarning = "This filesystem doesn't support extended attributes."

// authGate classifies backend error lines and owns the retry state of one
// run. Credentials obtained from the frontend are stored directly into the
// job; each credential class is prompted for at most once per run.
type authGate struct {
	job      *Job
	frontend Frontend
	state    RetryState

	outcome  verdict // verdict behind the most recent abort
	fatalMsg string
}

func newAuthGate(job *Job, frontend Frontend) *authGate {
	return &authGate{
		job:      job,
		frontend: frontend,
		state:    RetryState{AllowAuthRequest: true},
	}
}

// DisablePrompting turns off interactive credential recovery. Called once
// disambiguation is settled; prompting mid-playlist is unsafe, so only the
// probe extractions may recover from a credential gate.
func (g *authGate) DisablePrompting() {
	g.state.AllowAuthRequest = false
}

func (g *authGate) Skipped() int {
	return g.state.SkippedCount
}

// OnErrorLine is installed as the backend's error-line hook. Recoverable and
// fatal classifications abort the invocation; the session reads the verdict
// afterwards to decide between re-invoking and failing.
func (g *authGate) OnErrorLine(line string) backend.Action {
	v := g.classify(line)
	if v == verdictContinue {
		return backend.ActionContinue
	}
	g.outcome = v
	return backend.ActionAbort
}

// takeOutcome returns the verdict behind the last abort and resets it for
// the next invocation attempt.
func (g *authGate) takeOutcome() (verdict, string) {
	v, msg := g.outcome, g.fatalMsg
	g.outcome, g.fatalMsg = verdictContinue, ""
	return v, msg
}

func (g *authGate) classify(line string) verdict {
	switch {
	case strings.Contains(line, xattrWarning):
		return verdictContinue
	case videoPasswordPattern.MatchString(line):
		return g.recoverCredentials(line, func() (string, string) {
			password := g.frontend.OnPasswordRequest()
			return password, ""
		}, func(password, _ string) {
			g.job.VideoPassword = password
		})
	case signInPattern.MatchString(line):
		return g.recoverCredentials(line, g.frontend.OnLoginRequest, func(username, password string) {
			g.job.Username = username
			g.job.Password = password
		})
	}
	g.fatalMsg = line
	return verdictFatal
}

// recoverCredentials runs the shared prompt protocol for one credential
// class. A declined session swallows the line and counts the item as
// skipped; a successful prompt stores the credentials and asks for a retry.
func (g *authGate) recoverCredentials(line string, prompt func() (string, string), store func(primary, secondary string)) verdict {
	if g.state.AuthDeclined {
		g.state.SkippedCount++
		return verdictContinue
	}
	if !g.state.AllowAuthRequest {
		g.fatalMsg = line
		return verdictFatal
	}

	primary, secondary := prompt()
	if primary == "" {
		g.state.AuthDeclined = true
		g.state.SkippedCount++
		return verdictContinue
	}

	store(primary, secondary)
	g.state.AllowAuthRequest = false
	return verdictRetry
}
