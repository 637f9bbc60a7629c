package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prn-tf/alexander-library/internal/backup"
	"github.com/prn-tf/alexander-library/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runner func(cmd *cobra.Command, args []string) error

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSeedCmd(a *app, open runner) *cobra.Command {
	return &cobra.Command{
		Use:     "seed",
		Short:   "Insert the initial catalog into an empty store",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.catalog.Seed(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "catalog already populated, nothing inserted")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d books\n", n)
			return nil
		},
	}
}

func newBookCmd(a *app, open runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Manage catalog titles",
	}

	var input service.AddBookInput
	add := &cobra.Command{
		Use:     "add",
		Short:   "Add a title with every copy available",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := a.catalog.Add(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
	add.Flags().StringVar(&input.ID, "id", "", "catalog id, e.g. b011")
	add.Flags().StringVar(&input.Title, "title", "", "title")
	add.Flags().StringVar(&input.Author, "author", "", "author")
	add.Flags().IntVar(&input.Copies, "copies", 1, "number of copies owned")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("author")

	var query string
	list := &cobra.Command{
		Use:     "list",
		Short:   "List the catalog",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := a.catalog.List(cmd.Context(), query)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tAVAILABLE\tTOTAL")
			for _, b := range books {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", b.ID, b.Title, b.Author, b.AvailableCopies, b.TotalCopies)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&query, "query", "q", "", "filter by title or author")

	cmd.AddCommand(add, list)
	return cmd
}

// newCirculationCmds returns the issue and return commands.
func newCirculationCmds(a *app, open runner) []*cobra.Command {
	build := func(use, short string, fn func(*cobra.Command, service.CirculationInput) (any, error)) *cobra.Command {
		var input service.CirculationInput
		c := &cobra.Command{
			Use:     use,
			Short:   short,
			PreRunE: open,
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := fn(cmd, input)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		}
		c.Flags().StringVar(&input.UserID, "user", "", "reader id")
		c.Flags().StringVar(&input.BookID, "book", "", "book id")
		_ = c.MarkFlagRequired("user")
		_ = c.MarkFlagRequired("book")
		return c
	}

	return []*cobra.Command{
		build("issue", "Issue one copy of a book to a reader", func(cmd *cobra.Command, in service.CirculationInput) (any, error) {
			return a.circulation.Issue(cmd.Context(), in)
		}),
		build("return", "Return a reader's copy of a book", func(cmd *cobra.Command, in service.CirculationInput) (any, error) {
			return a.circulation.Return(cmd.Context(), in)
		}),
	}
}

func newIssuesCmd(a *app, open runner) *cobra.Command {
	var input service.ListIssuesInput
	cmd := &cobra.Command{
		Use:     "issues",
		Short:   "List a reader's issue history",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := a.circulation.ListIssues(cmd.Context(), input)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBOOK\tISSUED\tDUE\tSTATUS")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.BookID, v.IssueDate.Format(time.DateOnly), v.DueDate.Format(time.DateOnly), v.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&input.UserID, "user", "", "reader id")
	cmd.Flags().BoolVar(&input.OpenOnly, "open", false, "only copies not yet returned")
	cmd.Flags().IntVar(&input.Limit, "limit", 0, "maximum records (0 = all)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newOverdueCmd(a *app, open runner) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:     "overdue",
		Short:   "Report open issues past their due date",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor := service.NewOverdueMonitor(a.db.Repos.Issues, a.locker, nil, a.logger, service.OverdueConfig{BatchSize: batch})
			result, err := monitor.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "READER\tBOOK\tDUE\tDAYS LATE")
			now := time.Now()
			for _, r := range result.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.UserID, r.BookID, r.DueDate.Format(time.DateOnly), int(now.Sub(r.DueDate).Hours()/24))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if result.Truncated {
				fmt.Fprintf(cmd.OutOrStdout(), "showing first %d of %d records\n", len(result.Records), result.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "limit", 1000, "maximum records to report")
	return cmd
}

func newUserCmd(a *app, open runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage reader accounts",
	}

	var input service.RegisterInput
	create := &cobra.Command{
		Use:     "create",
		Short:   "Register a reader; the password is prompted for",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input.Password == "" {
				pw, err := readPassword(cmd, "Password: ")
				if err != nil {
					return err
				}
				input.Password = pw
			}
			user, err := a.accounts.Register(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s with library id %s\n", user.Email, user.LibraryID)
			return nil
		},
	}
	f := create.Flags()
	f.StringVar(&input.FullName, "name", "", "full name")
	f.StringVar(&input.FatherName, "father-name", "", "father's name")
	f.StringVar(&input.Email, "email", "", "email address")
	f.StringVar(&input.Mobile, "mobile", "", "10-digit mobile number")
	f.StringVar(&input.Password, "password", "", "password (prompted when omitted)")
	f.StringVar(&input.CollegeName, "college", "", "college name")
	f.StringVar(&input.EnrollmentNumber, "enrollment", "", "enrollment number")
	f.StringVar(&input.Branch, "branch", "", "branch")
	f.StringVar(&input.Year, "year", "", "year of study")
	f.StringVar(&input.DateOfBirth, "dob", "", "date of birth, YYYY-MM-DD")
	f.StringVar(&input.Gender, "gender", "", "gender")
	f.StringVar(&input.Address, "address", "", "postal address")
	f.StringVar(&input.SecurityQuestion, "security-question", "", "password recovery question")
	f.StringVar(&input.SecurityAnswer, "security-answer", "", "password recovery answer")
	for _, name := range []string{"name", "email", "mobile", "enrollment", "dob", "security-question", "security-answer"} {
		_ = create.MarkFlagRequired(name)
	}

	show := &cobra.Command{
		Use:     "show <library-id>",
		Short:   "Show a reader profile",
		Args:    cobra.ExactArgs(1),
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

// readPassword reads a password without echo, or a plain line when stdin is not a terminal.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}

func newBackupCmd(a *app, open runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or verify catalog snapshots in S3-compatible storage",
	}

	exporter := func(cmd *cobra.Command) (*backup.Exporter, error) {
		client, err := backup.NewS3Client(cmd.Context(), a.cfg.Backup)
		if err != nil {
			return nil, err
		}
		return backup.NewExporter(client, a.cfg.Backup.Bucket, a.cfg.Backup.Prefix, a.db.Repos.Snapshot, a.logger), nil
	}

	export := &cobra.Command{
		Use:     "export",
		Short:   "Upload a snapshot of books and issue records",
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := exporter(cmd)
			if err != nil {
				return err
			}
			result, err := exp.Export(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	verify := &cobra.Command{
		Use:     "verify <key>",
		Short:   "Download a snapshot and check its SHA-256",
		Args:    cobra.ExactArgs(1),
		PreRunE: open,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := exporter(cmd)
			if err != nil {
				return err
			}
			snap, err := exp.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d books, %d issue records, taken %s\n",
				len(snap.Books), len(snap.Issues), snap.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.AddCommand(export, verify)
	return cmd
}
