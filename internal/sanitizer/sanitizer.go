// Package sanitizer flags risky operations in generated Python source.
//
// ADVISORY, NOT ENFORCEMENT:
// Everything here is textual pattern matching. Obfuscated code walks straight
// past it. The sandbox in internal/executor is the real enforcement boundary;
// a Report exists to be logged and shown, and deliberately has no "ok" method
// so callers cannot use it as a pass/fail gate. The only gate in this package
// is IsSafeForAutoExecution, and the repair loop never calls it.
package sanitizer

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxCodeLength is the size above which source is flagged as a possible
	// resource-exhaustion risk.
	MaxCodeLength = 50000
	// MaxLoops is the loop-keyword count above which source is flagged as a
	// possible runaway computation.
	MaxLoops = 20
)

// Category groups catalog entries by the kind of risk they carry.
type Category string

const (
	CategoryDynamicExec Category = "dynamic_exec"
	CategoryProcess     Category = "process"
	CategoryFilesystem  Category = "filesystem"
	CategoryNetwork     Category = "network"
	CategoryResource    Category = "resource"
)

// Warning is one advisory finding.
type Warning struct {
	PatternID   string   `json:"patternId"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// String renders the warning the way it is written to the run log.
func (w Warning) String() string {
	return "Potentially dangerous operation detected: " + w.Description
}

// Report is the result of Analyze. Errors is reserved for hard-stop
// conditions; pattern matches never populate it.
type Report struct {
	Warnings []Warning `json:"warnings"`
	Errors   []string  `json:"errors"`
}

type pattern struct {
	id          string
	re          *regexp.Regexp
	category    Category
	description string
}

// catalog is fixed at build time.
var catalog = []pattern{
	{"os_system", regexp.MustCompile(`\bos\.system\s*\(`), CategoryProcess, "os.system() - arbitrary command execution"},
	{"eval", regexp.MustCompile(`\beval\s*\(`), CategoryDynamicExec, "eval() - arbitrary code execution"},
	{"exec", regexp.MustCompile(`\bexec\s*\(`), CategoryDynamicExec, "exec() - arbitrary code execution"},
	{"dynamic_import", regexp.MustCompile(`\b__import__\s*\(`), CategoryDynamicExec, "__import__() - dynamic imports"},
	{"open_write", regexp.MustCompile(`\bopen\s*\([^)]*["']w["']`), CategoryFilesystem, "open() with write mode - file writing"},
	{"open_append", regexp.MustCompile(`\bopen\s*\([^)]*["']a["']`), CategoryFilesystem, "open() with append mode - file writing"},
	{"os_remove", regexp.MustCompile(`\bos\.remove\s*\(`), CategoryFilesystem, "os.remove() - file deletion"},
	{"os_rmdir", regexp.MustCompile(`\bos\.rmdir\s*\(`), CategoryFilesystem, "os.rmdir() - directory deletion"},
	{"shutil_rmtree", regexp.MustCompile(`\bshutil\.rmtree\s*\(`), CategoryFilesystem, "shutil.rmtree() - recursive deletion"},
	{"subprocess", regexp.MustCompile(`\bsubprocess\.(run|call|Popen)`), CategoryProcess, "subprocess - command execution"},
	{"socket", regexp.MustCompile(`\bsocket\.`), CategoryNetwork, "socket - network operations"},
	{"urllib", regexp.MustCompile(`\burllib\.request`), CategoryNetwork, "urllib.request - network operations"},
	{"requests", regexp.MustCompile(`\brequests\.`), CategoryNetwork, "requests - network operations"},
}

var loopPattern = regexp.MustCompile(`\b(for|while)\b`)

// Analyze scans code against the catalog and the size/loop heuristics.
func Analyze(code string) Report {
	report := Report{
		Warnings: []Warning{},
		Errors:   []string{},
	}

	for _, p := range catalog {
		if p.re.MatchString(code) {
			report.Warnings = append(report.Warnings, Warning{
				PatternID:   p.id,
				Category:    p.category,
				Description: p.description,
			})
		}
	}

	if len(code) > MaxCodeLength {
		report.Warnings = append(report.Warnings, Warning{
			PatternID:   "code_size",
			Category:    CategoryResource,
			Description: "generated code is very long (>50KB) - possible resource exhaustion",
		})
	}

	if loops := len(loopPattern.FindAllStringIndex(code, -1)); loops > MaxLoops {
		report.Warnings = append(report.Warnings, Warning{
			PatternID:   "loop_count",
			Category:    CategoryResource,
			Description: fmt.Sprintf("code contains many loops (%d) - possible runaway computation", loops),
		})
	}

	return report
}

// Policy relaxes the auto-execution gate. Dynamic code execution stays
// forbidden whatever the flags say.
type Policy struct {
	AllowFileOps bool `json:"allowFileOps"`
	AllowNetwork bool `json:"allowNetwork"`
}

// Verdict is the outcome of IsSafeForAutoExecution.
type Verdict struct {
	Safe    bool     `json:"safe"`
	Reasons []string `json:"reasons"`
}

var (
	forbiddenOps = []string{"eval(", "exec(", "os.system(", "__import__"}
	fileOps      = []string{"open(", "os.remove", "os.rmdir", "shutil.rmtree"}
	networkOps   = []string{"socket.", "urllib.request", "requests."}
)

// IsSafeForAutoExecution decides whether code may run without a human
// looking at it first.
func IsSafeForAutoExecution(code string, policy Policy) Verdict {
	reasons := []string{}

	for _, op := range forbiddenOps {
		if strings.Contains(code, op) {
			reasons = append(reasons, fmt.Sprintf("Code contains %s which is not allowed for auto-execution", op))
		}
	}

	if !policy.AllowFileOps {
		for _, op := range fileOps {
			if strings.Contains(code, op) {
				reasons = append(reasons, fmt.Sprintf("Code contains file operation %s which is not allowed", op))
			}
		}
	}

	if !policy.AllowNetwork {
		for _, op := range networkOps {
			if strings.Contains(code, op) {
				reasons = append(reasons, fmt.Sprintf("Code contains network operation %s which is not allowed", op))
			}
		}
	}

	return Verdict{Safe: len(reasons) == 0, Reasons: reasons}
}
