package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/reporting/sarif"
)

// Tool identification for the SARIF report.
const (
	ToolName     = "Suture CLI"
	ToolInfoURI  = "https://github.com/xkilldash9x/suture-cli"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not safe in SARIF rule IDs. Signatures
// are already UPPER_SNAKE, so this only matters for malformed input.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFWriter renders the open backlog as SARIF 2.1.0 results, one rule per
// issue signature. It is safe for concurrent writes.
type SARIFWriter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log

	mu sync.Mutex
	// ruleBySignature maps a signature to its registered rule ID so repeated
	// occurrences share one rule definition.
	ruleBySignature map[string]string
}

var _ ReportWriter = (*SARIFWriter)(nil)

// NewSARIFWriter creates a writer that renders SARIF output. The tool
// version is injected by the command layer.
func NewSARIFWriter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}
	return &SARIFWriter{
		writer:          writer,
		logger:          logger.Named("sarif_writer"),
		log:             log,
		ruleBySignature: make(map[string]string),
	}
}

// Write converts each open issue into a SARIF result. Pattern analysis from
// the report, when present, enriches the rule definitions with repair and
// prevention guidance.
func (w *SARIFWriter) Write(state *schemas.SystemState, report *schemas.ComprehensiveReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	patterns := make(map[string]schemas.ErrorPattern)
	if report != nil {
		for _, p := range report.Patterns {
			patterns[p.Signature] = p
		}
	}

	run := w.log.Runs[0]
	for _, issue := range state.CurrentErrors {
		ruleID := w.ensureRule(issue, patterns[issue.Signature])

		result := &sarif.Result{
			RuleID:  ruleID,
			Message: &sarif.Message{Text: pString(issue.Message)},
			Level:   severityToLevel(issue.Severity),
			Locations: []*sarif.Location{{
				PhysicalLocation: &sarif.PhysicalLocation{
					ArtifactLocation: &sarif.ArtifactLocation{
						URI: pString(issue.TargetURL),
					},
				},
				Message: &sarif.Message{
					Text: pString(fmt.Sprintf("Observed on %s", issue.TargetURL)),
				},
			}},
			PartialFingerprints: map[string]string{
				"suture/signature": issue.Signature,
			},
			Properties: &sarif.PropertyBag{
				"source":           issue.Source,
				"detected_at":      issue.DetectedAt,
				"repair_attempts":  issue.RepairAttempts,
				"strategies_tried": issue.StrategiesTried,
			},
		}
		run.Results = append(run.Results, result)
	}

	w.logger.Debug("Open issues rendered to SARIF.",
		zap.Int("results", len(run.Results)),
		zap.Int("rules", len(run.Tool.Driver.Rules)))
	return nil
}

// Close finalizes the log and writes it out.
func (w *SARIFWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	encoder := json.NewEncoder(w.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(w.log)
	closeErr := w.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("encoding sarif output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing sarif output: %w", closeErr)
	}
	return nil
}

// ensureRule registers one rule per signature and returns its ID. Must be
// called while holding the mutex.
func (w *SARIFWriter) ensureRule(issue schemas.Issue, pattern schemas.ErrorPattern) string {
	if ruleID, exists := w.ruleBySignature[issue.Signature]; exists {
		return ruleID
	}

	name := issue.Signature
	if name == "" {
		name = "UNCLASSIFIED"
	}
	ruleID := "SUTURE-" + strings.Trim(ruleIDSanitizer.ReplaceAllString(name, "-"), "-")

	description := fmt.Sprintf("Recurring %s defect in the %s category.", name, issue.Category)
	help := "No repair guidance recorded yet."
	if len(pattern.Prevention) > 0 {
		help = strings.Join(pattern.Prevention, " ")
	}
	markdown := fmt.Sprintf("**Signature:** %s\n\n**Category:** %s\n\n**Prevention:**\n%s",
		name, issue.Category, help)

	properties := sarif.PropertyBag{
		"tags": []string{"monitoring", "suture"},
	}
	if pattern.Frequency > 0 {
		properties["frequency"] = pattern.Frequency
		properties["success_rate"] = pattern.SuccessRate
		properties["recommended_strategy"] = pattern.RecommendedStrategy
	}

	driver := w.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               ruleID,
		Name:             pString(name),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(name)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(help),
			Markdown: pString(markdown),
		},
		Properties: &properties,
	})
	w.ruleBySignature[issue.Signature] = ruleID
	return ruleID
}

// severityToLevel converts issue severity to the SARIF standard levels.
func severityToLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional
// SARIF fields.
func pString(s string) *string {
	return &s
}
