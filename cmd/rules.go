package cmd

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Approval matrix tools",
	Long:  `Validate an approval rule file or preview the levels it resolves for a request.`,
}

var validateRulesCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an approval rule file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := approvalmatrix.LoadRulesFile(args[0])
		if err != nil {
			return err
		}
		if _, err := approvalmatrix.NewRuleSet(rules, false); err != nil {
			return err
		}
		for _, r := range rules {
			specs := make([]string, 0, len(r.Approvers))
			for _, a := range r.Approvers {
				specs = append(specs, fmt.Sprintf("L%d=%s", a.Level, a))
			}
			fmt.Printf("%-20s priority=%-3d %s\n", r.ID, r.Priority, strings.Join(specs, " "))
		}
		fmt.Printf("%d rules OK\n", len(rules))
		return nil
	},
}

var (
	previewValue    string
	previewGrade    int
	previewDays     int
	previewCategory []string
)

var resolveRulesCmd = &cobra.Command{
	Use:   "resolve [file]",
	Short: "Show the approval levels a request would need",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := decimal.NewFromString(previewValue)
		if err != nil {
			return fmt.Errorf("invalid --value %q: %w", previewValue, err)
		}
		rules, err := approvalmatrix.LoadRulesFile(args[0])
		if err != nil {
			return err
		}
		rs, err := approvalmatrix.NewRuleSet(rules, false)
		if err != nil {
			return err
		}

		levels, err := approvalmatrix.NewResolver().Resolve(approvalmatrix.Request{
			TotalValue:     value,
			ApplicantGrade: previewGrade,
			DurationDays:   previewDays,
			Categories:     previewCategory,
		}, rs)
		if err != nil {
			return err
		}
		if len(levels) == 0 {
			fmt.Println("no approval required")
			return nil
		}
		for _, l := range levels {
			fmt.Printf("level %d: %s (rule %s)\n", l.Level, l.Spec, l.RuleID)
		}
		return nil
	},
}

func init() {
	resolveRulesCmd.Flags().StringVar(&previewValue, "value", "0", "total loan value")
	resolveRulesCmd.Flags().IntVar(&previewGrade, "grade", 0, "applicant grade")
	resolveRulesCmd.Flags().IntVar(&previewDays, "days", 1, "loan duration in days")
	resolveRulesCmd.Flags().StringSliceVar(&previewCategory, "category", nil, "asset categories on the loan")

	rulesCmd.AddCommand(validateRulesCmd)
	rulesCmd.AddCommand(resolveRulesCmd)
	rootCmd.AddCommand(rulesCmd)
}
