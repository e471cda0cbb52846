// Package escalate hands defects the repair chain cannot clear to humans by
// filing a GitHub issue per signature. Filing is idempotent: an open issue
// carrying the signature marker blocks duplicates across processes, and an
// in-memory ledger blocks repeat API calls within one run.
package escalate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// markerPrefix tags escalation issues so searches can find them. It stays on
// its own body line and must not change across releases.
const markerPrefix = "suture-signature:"

// GitHubEscalator files one tracker issue per stuck signature.
type GitHubEscalator struct {
	logger *zap.Logger
	cfg    config.EscalationConfig
	client *github.Client

	mu sync.Mutex
	// filed maps signatures to issue numbers already confirmed this run.
	filed map[string]int
}

var _ schemas.Escalator = (*GitHubEscalator)(nil)

// NewGitHubEscalator builds the escalator. Without a token the client stays
// unauthenticated and Enabled reports false.
func NewGitHubEscalator(cfg config.EscalationConfig, logger *zap.Logger) *GitHubEscalator {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := github.NewClient(nil)
	if cfg.GitHub.Token != "" {
		client = client.WithAuthToken(cfg.GitHub.Token)
	}
	return &GitHubEscalator{
		logger: logger.Named("escalate"),
		cfg:    cfg,
		client: client,
		filed:  make(map[string]int),
	}
}

// Enabled reports whether escalation is switched on and fully configured.
func (e *GitHubEscalator) Enabled() bool {
	gh := e.cfg.GitHub
	return e.cfg.Enabled && gh.Token != "" && gh.RepoOwner != "" && gh.RepoName != ""
}

// Escalate files an issue for the pattern unless one is already open. The
// issues slice is the current occurrences backing the pattern.
func (e *GitHubEscalator) Escalate(ctx context.Context, pattern schemas.ErrorPattern, issues []schemas.Issue) error {
	if !e.Enabled() {
		e.logger.Debug("Escalation skipped; not configured.",
			zap.String("signature", pattern.Signature))
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if number, ok := e.filed[pattern.Signature]; ok {
		e.logger.Debug("Escalation already filed this run.",
			zap.String("signature", pattern.Signature),
			zap.Int("issue", number))
		return nil
	}

	marker := fmt.Sprintf("%s %s", markerPrefix, pattern.Signature)
	gh := e.cfg.GitHub

	query := fmt.Sprintf("repo:%s/%s is:issue is:open in:body %q", gh.RepoOwner, gh.RepoName, marker)
	found, _, err := e.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return fmt.Errorf("searching for existing escalation: %w", err)
	}
	if found.GetTotal() > 0 && len(found.Issues) > 0 {
		number := found.Issues[0].GetNumber()
		e.filed[pattern.Signature] = number
		e.logger.Info("Escalation already open; not filing again.",
			zap.String("signature", pattern.Signature),
			zap.Int("issue", number))
		return nil
	}

	title := fmt.Sprintf("[suture] Unrepairable %s (%d occurrences)", pattern.Signature, pattern.Frequency)
	body := buildBody(pattern, issues, marker)
	request := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(gh.Labels) > 0 {
		labels := append([]string(nil), gh.Labels...)
		request.Labels = &labels
	}

	created, _, err := e.client.Issues.Create(ctx, gh.RepoOwner, gh.RepoName, request)
	if err != nil {
		return fmt.Errorf("filing escalation issue: %w", err)
	}
	e.filed[pattern.Signature] = created.GetNumber()

	e.logger.Info("Escalation filed.",
		zap.String("signature", pattern.Signature),
		zap.String("severity", string(pattern.Severity)),
		zap.Int("issue", created.GetNumber()))
	return nil
}

// buildBody renders the issue body: pattern stats, current occurrences,
// prevention advice and the search marker on its own trailing line.
func buildBody(pattern schemas.ErrorPattern, issues []schemas.Issue, marker string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The monitor has given up repairing `%s` defects.\n\n", pattern.Signature)
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Severity | %s |\n", pattern.Severity)
	fmt.Fprintf(&b, "| Occurrences in window | %d |\n", pattern.Frequency)
	fmt.Fprintf(&b, "| Repair success rate | %.0f%% |\n", pattern.SuccessRate)
	if pattern.AvgFixTime > 0 {
		fmt.Fprintf(&b, "| Average fix time | %s |\n", pattern.AvgFixTime)
	}
	fmt.Fprintf(&b, "| Recommended strategy | %s |\n", pattern.RecommendedStrategy)

	if len(issues) > 0 {
		b.WriteString("\n### Open occurrences\n\n")
		b.WriteString("| Target | Message | Attempts | Strategies tried |\n|---|---|---|---|\n")
		for _, issue := range issues {
			strategies := strings.Join(issue.StrategiesTried, ", ")
			if strategies == "" {
				strategies = "none"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				issue.TargetURL, issue.Message, issue.RepairAttempts, strategies)
		}
	}

	if len(pattern.Prevention) > 0 {
		b.WriteString("\n### Prevention\n\n")
		for _, p := range pattern.Prevention {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	fmt.Fprintf(&b, "\n---\n%s\n", marker)
	return b.String()
}
