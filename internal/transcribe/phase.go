package transcribe

import (
	"regexp"
	"strings"
	"sync"

	"plugin-jobs/internal/sandbox"
)

var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+)`) // yt-dlp [download] ... at X
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
)

// phaseTracker turns yt-dlp output lines into a short phase string and
// reports it whenever it changes.
type phaseTracker struct {
	prefix string
	report func(string)

	mu    sync.Mutex
	phase string
	pct   string
	speed string
	eta   string
	last  string
}

func newPhaseTracker(prefix string, report func(string)) *phaseTracker {
	return &phaseTracker{prefix: prefix, report: report, phase: "starting"}
}

// Set switches to a named phase and clears download details.
func (p *phaseTracker) Set(phase string) {
	p.mu.Lock()
	p.phase = phase
	p.pct, p.speed, p.eta = "", "", ""
	p.mu.Unlock()
	p.flush()
}

// Handle is a sandbox.Command OnLine callback.
func (p *phaseTracker) Handle(_ sandbox.OutputStream, line string) {
	l := strings.TrimSpace(line)
	if l == "" {
		return
	}

	p.mu.Lock()
	switch {
	case strings.HasPrefix(l, "[youtube]"):
		p.phase = "metadata"
	case strings.HasPrefix(l, "[info]"):
		p.phase = "preparing"
	case strings.HasPrefix(l, "[ExtractAudio]"):
		p.phase = "extracting audio"
		p.pct, p.speed, p.eta = "", "", ""
	case strings.HasPrefix(l, "[download]"):
		p.phase = "downloading"
		if m := rePct.FindStringSubmatch(l); len(m) > 1 {
			p.pct = m[1] + "%"
		}
		if m := reSpeed.FindStringSubmatch(l); len(m) > 1 {
			p.speed = m[1]
		}
		if m := reETA.FindStringSubmatch(l); len(m) > 1 {
			p.eta = m[1]
		}
	}
	p.mu.Unlock()
	p.flush()
}

func (p *phaseTracker) render() string {
	parts := []string{}
	if p.prefix != "" {
		parts = append(parts, p.prefix+":")
	}
	parts = append(parts, p.phase)
	if p.pct != "" {
		parts = append(parts, p.pct)
	}
	if p.speed != "" {
		parts = append(parts, "at "+p.speed)
	}
	if p.eta != "" {
		parts = append(parts, "ETA "+p.eta)
	}
	return strings.Join(parts, " ")
}

func (p *phaseTracker) flush() {
	p.mu.Lock()
	s := p.render()
	changed := s != p.last
	p.last = s
	p.mu.Unlock()
	if changed && p.report != nil {
		p.report(s)
	}
}
