package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/specialistvlad/stagegate/internal/app"
	"github.com/specialistvlad/stagegate/internal/stage"
	"github.com/spf13/cobra"
)

func newBuildCommand(s *settings, out io.Writer) *cobra.Command {
	var targets []string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Materialize the base layer, install dependencies and run the test gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(out)
			if err != nil {
				return err
			}
			res, err := a.Build(cmd.Context(), targets)
			if res != nil {
				printBuild(cmd.OutOrStdout(), res)
			}
			return exitError(err)
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "target", "t", []string{stage.TargetAll}, "Stages to build (repeatable).")
	return cmd
}

func newLaunchCommand(s *settings, out io.Writer) *cobra.Command {
	var stageName, buildID string
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start a production stage from a built layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(out)
			if err != nil {
				return err
			}
			_, err = a.Launch(cmd.Context(), stageName, buildID)
			return exitError(err)
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Production stage to launch (default: the only one).")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build to launch (default: the newest ready layer).")
	return cmd
}

func newRunCommand(s *settings, out io.Writer) *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build every stage and launch the production stage when the build succeeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(out)
			if err != nil {
				return err
			}
			res, err := a.Build(cmd.Context(), nil)
			if res != nil {
				printBuild(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return exitError(err)
			}
			_, err = a.Launch(cmd.Context(), stageName, res.BuildID)
			return exitError(err)
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Production stage to launch (default: the only one).")
	return cmd
}

func newPromoteCommand(s *settings, out io.Writer) *cobra.Command {
	var stageName, buildID string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Verify that a production layer passed its test stage and optionally publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(out)
			if err != nil {
				return err
			}
			p, err := a.Promote(cmd.Context(), stageName, buildID)
			if err != nil {
				return exitError(err)
			}
			printPromotion(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Production stage to promote (default: the only one).")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build to promote (default: the newest ready layer).")
	return cmd
}

func newVerdictsCommand(s *settings, out io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "List recorded test stage results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(out)
			if err != nil {
				return err
			}
			recs, err := a.Verdicts(cmd.Context(), limit)
			if err != nil {
				return exitError(err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-20s %-36s %-12s %-9s %s\n", "RECORDED", "BUILD", "STAGE", "VERDICT", "DIGEST")
			for _, r := range recs {
				fmt.Fprintf(w, "%-20s %-36s %-12s %-9s %s\n",
					r.RecordedAt.Format("2006-01-02 15:04:05"), r.BuildID, r.Stage, r.Verdict, short(r.LayerDigest))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results.")
	return cmd
}

func printBuild(w io.Writer, res *app.BuildResult) {
	fmt.Fprintf(w, "build %s\n", res.BuildID)
	for _, r := range res.Verdicts {
		fmt.Fprintf(w, "  %-12s %s\n", r.Stage, r.Verdict)
	}
	if res.Outcome == nil {
		return
	}
	for _, name := range sortedKeys(res.Outcome.Artifacts) {
		fmt.Fprintf(w, "  %-12s staged (digest %s)\n", name, short(res.Outcome.Artifacts[name].Layer.Digest()))
	}
}

func printPromotion(w io.Writer, p *app.Promotion) {
	fmt.Fprintf(w, "promoted %s from build %s (digest %s, verified in build %s)\n",
		p.Stage, p.Layer.BuildID, short(p.Layer.Digest()), p.Verdict.BuildID)
	if p.Receipt != nil {
		fmt.Fprintf(w, "published %d files, %d bytes, sha256 %s\n", p.Receipt.Files, p.Receipt.Size, p.Receipt.SHA256)
	}
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
