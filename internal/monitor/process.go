package monitor

import (
	"context"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// cliPattern matches the assistant CLI invocations this monitor tracks
// (the codex and claude coding-assistant binaries).
var cliPattern = regexp.MustCompile(`\b(claude|codex)\b`)

var resumeFlag = regexp.MustCompile(`--resume[= ]([0-9a-fA-F-]{36})`)

// procInfo is one matched OS process, enriched with whatever the
// process-table pass alone can determine.
type procInfo struct {
	PID        int32
	Cmdline    string
	ResumeID   string
	CWD        string
	CPUPercent float64
	MemMB      float64
}

// enumerateProcesses lists every running process whose command line
// matches cliPattern, gathering pid/cmdline/cwd/cpu/rss (spec.md §4.G
// step 1). Processes that vanish mid-scan (race with exit) are skipped,
// not treated as errors.
func enumerateProcesses(ctx context.Context) ([]procInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []procInfo
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" || !cliPattern.MatchString(cmdline) {
			continue
		}

		info := procInfo{PID: p.Pid, Cmdline: cmdline}
		if m := resumeFlag.FindStringSubmatch(cmdline); m != nil {
			info.ResumeID = m[1]
		}
		if cwd, err := p.CwdWithContext(ctx); err == nil {
			info.CWD = cwd
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			info.MemMB = float64(mem.RSS) / (1024 * 1024)
		}
		out = append(out, info)
	}
	return out, nil
}

// encodeCWDKey turns a working directory into the project-directory key
// scheme used to match transcripts (`/` -> `-`, spec.md §4.G step 4).
func encodeCWDKey(cwd string) string {
	return strings.ReplaceAll(cwd, "/", "-")
}
