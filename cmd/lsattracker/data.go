package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/lsattracker/internal/analytics"
	"github.com/pavelanni/lsattracker/internal/dashboard"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
)

func dataFlags(f *pflag.FlagSet) {
	commonFlags(f)
	f.StringP("user", "u", "admin", "Owner of the data")
}

func overrideFlags(f *pflag.FlagSet) {
	f.String("exam-number", "", "Exam number to apply to every row")
	f.String("exam-date", "", "Exam date (YYYY-MM-DD) to apply to every metadata row")
	f.Bool("force", false, "Import even if identical content was imported before")
}

func filterFlags(f *pflag.FlagSet) {
	f.StringSlice("exam", nil, "Exam numbers to include (repeatable)")
	f.IntSlice("section", nil, "Section numbers to include (repeatable)")
	f.StringArray("section-type", nil, "Section types to include (repeatable)")
	f.StringArray("subtype", nil, "Subtypes to include (repeatable)")
	f.StringSlice("flag", nil, "Flag states to include (flagged, not_flagged)")
	f.String("from", "", "Earliest exam date (YYYY-MM-DD, inclusive)")
	f.String("to", "", "Latest exam date (YYYY-MM-DD, inclusive)")
}

func filterFromViper(v *viper.Viper) model.FilterSpec {
	f := model.FilterSpec{
		ExamNumbers: v.GetStringSlice("exam"),
		Sections:    v.GetIntSlice("section"),
		Subtypes:    v.GetStringSlice("subtype"),
		DateFrom:    v.GetString("from"),
		DateTo:      v.GetString("to"),
	}
	for _, st := range v.GetStringSlice("section-type") {
		f.SectionTypes = append(f.SectionTypes, model.SectionType(st))
	}
	for _, fl := range v.GetStringSlice("flag") {
		f.Flags = append(f.Flags, model.FlagState(fl))
	}
	return f
}

// withSession opens the store and a dashboard session for --user and
// passes it to fn.
func withSession(cmd *cobra.Command, tf dashboard.Transformer, fn func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error) error {
	v := setup(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	username := v.GetString("user")
	user, err := db.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("unknown user %q", username)
	}

	sess, err := dashboard.Open(ctx, db, tf, user.ID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	return fn(ctx, v, sess)
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import ROWS.csv [META.csv]",
		Short: "Import question rows and exam metadata from CSV files",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rows: %w", err)
			}
			var meta []byte
			if len(args) == 2 {
				if meta, err = os.ReadFile(args[1]); err != nil {
					return fmt.Errorf("read metadata: %w", err)
				}
			}
			return withSession(cmd, nil, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				res, err := s.Import(ctx, dashboard.ImportInput{
					Filename:   filepath.Base(args[0]),
					RowsCSV:    string(rows),
					MetaCSV:    string(meta),
					ExamNumber: v.GetString("exam-number"),
					ExamDate:   v.GetString("exam-date"),
					Force:      v.GetBool("force"),
				})
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	dataFlags(cmd.Flags())
	overrideFlags(cmd.Flags())
	return cmd
}

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE.pdf",
		Short: "Send a score report to the transformer and import the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			tf, err := newTransformer(setup(cmd))
			if err != nil {
				return err
			}
			if tf == nil {
				return fmt.Errorf("--transformer-url is required")
			}
			return withSession(cmd, tf, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				res, err := s.Upload(ctx, dashboard.UploadInput{
					Filename:   filepath.Base(args[0]),
					Content:    content,
					ExamNumber: v.GetString("exam-number"),
					ExamDate:   v.GetString("exam-date"),
					Force:      v.GetBool("force"),
				})
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	dataFlags(cmd.Flags())
	transformerFlags(cmd.Flags())
	overrideFlags(cmd.Flags())
	return cmd
}

func printResult(w io.Writer, res dashboard.Result) {
	if res.Duplicate {
		fmt.Fprintf(w, "skipped: identical content already imported as %s (%s)\n",
			res.Upload.ID, res.Upload.CreatedAt.Format("2006-01-02 15:04"))
		return
	}
	fmt.Fprintf(w, "imported %d rows and %d metadata rows for exams %s (upload %s)\n",
		res.Upload.RowCount, res.Upload.MetaCount, strings.Join(res.Upload.ExamNumbers, ", "), res.Upload.ID)
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print accuracy and pacing statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, nil, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				sum := s.Summary(filterFromViper(v))
				if v.GetBool("json") {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				return writeSummary(cmd.OutOrStdout(), sum)
			})
		},
	}
	dataFlags(cmd.Flags())
	filterFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print JSON instead of tables")
	return cmd
}

func writeSummary(out io.Writer, sum model.Summary) error {
	k := sum.KPIs
	scaled := "-"
	if k.ScaledAvg != nil {
		scaled = fmt.Sprintf("%.0f", *k.ScaledAvg)
	}
	fmt.Fprintf(out, "Attempted %d  Correct %d  Accuracy %.2f%%  Avg time %s  Flagged %d  Scaled avg %s\n\n",
		k.Attempted, k.Correct, k.Accuracy, analytics.FormatDuration(k.AvgSec), k.Flagged, scaled)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION TYPE\tATTEMPTED\tCORRECT\tACCURACY")
	for _, st := range sum.BySectionType {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d%%\n", st.SectionType, st.Attempted, st.Correct, st.Accuracy)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUBTYPE\tSECTION TYPE\tATTEMPTED\tCORRECT\tACCURACY\tAVG TIME")
	for _, st := range sum.BySubtype {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d%%\t%s\n", st.Subtype, st.SectionType, st.Attempted, st.Correct,
			st.Accuracy, analytics.FormatDuration(float64(st.AvgSec)))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAM\tDATE\tSCALED\tATTEMPTED\tCORRECT\tACCURACY")
	for _, tr := range sum.Trend {
		score := "-"
		if tr.ScaledScore != nil {
			score = fmt.Sprintf("%.0f", *tr.ScaledScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d%%\n", tr.ExamNumber, tr.ExamDate, score, tr.Attempted, tr.Correct, tr.Accuracy)
	}
	return w.Flush()
}

func examsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exams",
		Short: "List stored exams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, nil, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				exams, err := s.Exams(ctx)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return writeJSON(cmd.OutOrStdout(), exams)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "EXAM\tDATE\tSCALED\tQUESTIONS")
				for _, e := range exams {
					score := "-"
					if e.ScaledScore != nil {
						score = fmt.Sprintf("%.0f", *e.ScaledScore)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.ExamNumber, e.ExamDate, score, e.QuestionCount)
				}
				return w.Flush()
			})
		},
	}
	dataFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the filtered working set as CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, nil, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				format := strings.ToLower(v.GetString("format"))
				if format != "csv" && format != "xlsx" {
					return fmt.Errorf("unknown export format %q", format)
				}

				outPath := v.GetString("output")
				var w io.Writer
				if outPath == "" || outPath == "-" {
					w = cmd.OutOrStdout()
				} else {
					f, err := os.Create(outPath)
					if err != nil {
						return fmt.Errorf("create output file: %w", err)
					}
					defer f.Close()
					w = f
				}

				f := filterFromViper(v)
				if format == "xlsx" {
					return s.ExportXLSX(w, f)
				}
				return s.ExportCSV(w, f)
			})
		},
	}
	dataFlags(cmd.Flags())
	filterFlags(cmd.Flags())
	cmd.Flags().String("format", "csv", "Output format (csv, xlsx)")
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func deleteExamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-exam EXAM_NUMBER",
		Short: "Delete every question row and the metadata of one exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, nil, func(ctx context.Context, v *viper.Viper, s *dashboard.Session) error {
				n, err := s.DeleteExam(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d questions from exam %s\n", n, args[0])
				return nil
			})
		},
	}
	dataFlags(cmd.Flags())
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
