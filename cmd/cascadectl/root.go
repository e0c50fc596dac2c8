package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/llm-cascade/auth"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/classifier"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cascadectl",
		Short:         "Inspect routing decisions and candidate tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newClassifyCmd(),
		newCandidatesCmd(),
		newValidateCmd(),
		newTokenCmd(),
	)
	return root
}

// --- cascadectl classify ---

func newClassifyCmd() *cobra.Command {
	var (
		sig    classifier.Signals
		urg    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the tier and rule a message would be routed by",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch classifier.Urgency(urg) {
			case "", classifier.UrgencyLow, classifier.UrgencyNormal, classifier.UrgencyHigh, classifier.UrgencyCritical:
				sig.Urgency = classifier.Urgency(urg)
			default:
				return fmt.Errorf("unknown urgency %q", urg)
			}

			text := strings.Join(args, " ")
			decision := classifier.NewDefault().Explain(text, sig)

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(decision)
			}
			_, err := fmt.Fprintf(out, "%s\t%s\n", decision.Tier, decision.Rule)
			return err
		},
	}

	cmd.Flags().StringVar(&urg, "urgency", "", "upstream urgency (low, normal, high, critical)")
	cmd.Flags().StringVar(&sig.Emotion, "emotion", "", "upstream emotion label; empty counts as neutral")
	cmd.Flags().StringSliceVar(&sig.Topics, "topic", nil, "upstream topic labels")
	cmd.Flags().IntVar(&sig.RecentContextChars, "context-chars", 0, "length of the recent conversation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}

// --- cascadectl candidates ---

func newCandidatesCmd() *cobra.Command {
	var (
		file string
		tier string
	)

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Print the candidate table",
		Long: "Print the built-in candidate table, or the table in --file, as YAML. " +
			"With --tier only that tier is listed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := candidates.StaticTable()
			if file != "" {
				loaded, err := candidates.LoadTableFile(file)
				if err != nil {
					return err
				}
				table = loaded
			}

			out := cmd.OutOrStdout()
			if tier == "" {
				return candidates.WriteTable(out, table)
			}

			t, err := candidates.ParseTier(tier)
			if err != nil {
				return err
			}
			return printTier(out, t, table.CandidatesFor(t))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "candidate table file (.yaml or .toml)")
	cmd.Flags().StringVar(&tier, "tier", "", "only list this tier")
	return cmd
}

func printTier(w io.Writer, tier candidates.Tier, cands []candidates.Candidate) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TIER\tENGINE\tMODEL\tROLE\n")
	for _, c := range cands {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tier, c.Engine, c.ModelID, c.Role)
	}
	return tw.Flush()
}

// --- cascadectl validate ---

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a candidate table file loads and is not empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := candidates.LoadTableFile(args[0])
			if err != nil {
				return err
			}
			if table.Len() == 0 {
				return fmt.Errorf("%s: candidate table is empty", args[0])
			}

			out := cmd.OutOrStdout()
			tiers := table.Tiers()
			for _, t := range slices.Sorted(maps.Keys(tiers)) {
				fmt.Fprintf(out, "%s: %d candidates\n", t, len(tiers[t]))
			}
			_, err = fmt.Fprintf(out, "engines: %s\n", strings.Join(table.Engines(), ", "))
			return err
		},
	}
}

// --- cascadectl token ---

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 bearer token for the API",
		Long:  "Issue an HS256 bearer token. The secret defaults to $AUTH_JWT_SECRET.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("AUTH_JWT_SECRET")
			}
			if issuer == "" {
				issuer = os.Getenv("AUTH_JWT_ISSUER")
			}
			token, err := auth.IssueToken(secret, issuer, subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "user id carried in sub")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to grant, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
