package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Dotan-Peleh/hs-automation/internal/triage"
)

// PreviewCommand classifies ticket text from argv or stdin without touching
// Help Scout, the database, or the LLM. Useful for tuning the rule table.
func PreviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Run the rule-based triage pipeline on raw text",
		ArgsUsage: "[text]",
		Action: func(c *cli.Context) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSpace(string(raw))
			}
			if text == "" {
				return fmt.Errorf("no text given: pass it as an argument or pipe it on stdin")
			}

			entities := triage.ExtractEntities(text)
			categories, ruleScore := triage.Categorize(text)
			score := triage.ComputeSeverity(text, entities, ruleScore)

			out := map[string]any{
				"entities":       entities,
				"categories":     categories,
				"rule_score":     ruleScore,
				"severity_score": score,
				"bucket":         triage.BucketFromScore(score),
				"cluster_key":    triage.ClusterKey(text, entities),
				"tags":           triage.DeriveTags(text, entities),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
