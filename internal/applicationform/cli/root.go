// Package cli implements formctl, the operator tool that applies YAML form
// definitions to events and exports them back.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// Forms is the slice of the form service formctl drives.
type Forms interface {
	Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error)
	Create(ctx context.Context, userID id.UserID, req models.CreateFormRequest) (*models.ApplicationForm, error)
	Reconcile(ctx context.Context, userID id.UserID, req models.ReconcileFormRequest) (*models.ApplicationForm, error)
}

// Connect builds the service for one command run. The returned func
// releases its resources.
type Connect func(ctx context.Context) (Forms, func(), error)

// TokenIssuer mints bearer tokens for the form API.
type TokenIssuer interface {
	GenerateAccessToken(userID id.UserID, expiresIn time.Duration) (string, error)
}

type RootOptions struct {
	Connect Connect
	Issuer  func() (TokenIssuer, error)
}

type RootOption func(*RootOptions)

// WithTokenIssuer enables the token command.
func WithTokenIssuer(issuer func() (TokenIssuer, error)) RootOption {
	return func(o *RootOptions) {
		o.Issuer = issuer
	}
}

func NewRootCommand(connect Connect, options ...RootOption) *cobra.Command {
	opts := &RootOptions{Connect: connect}
	for _, opt := range options {
		opt(opts)
	}

	cmd := &cobra.Command{
		Use:   "formctl",
		Short: "Manage event application forms",
		Long: `Apply YAML application form definitions to events and export them.

Apply creates the form when the event has none and otherwise reconciles the
stored form onto the file: sections missing from the file are deleted,
questions missing from a section are kept.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	if opts.Issuer != nil {
		cmd.AddCommand(NewTokenCommand(opts))
	}
	return cmd
}

type applyOptions struct {
	eventID int64
	userID  int64
	file    string
	dryRun  bool
}

func NewApplyCommand(root *RootOptions) *cobra.Command {
	o := &applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or reconcile an event's form from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd, root, o)
		},
	}
	cmd.Flags().Int64Var(&o.eventID, "event", 0, "event id")
	cmd.Flags().Int64Var(&o.userID, "user", 0, "acting user id; must be an admin of the event")
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "form definition (YAML), - for stdin")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "parse the file and stop")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runApply(cmd *cobra.Command, root *RootOptions, o *applyOptions) error {
	if o.eventID <= 0 || o.userID <= 0 {
		return errors.New("--event and --user must be positive")
	}

	doc, err := readFile(cmd, o.file)
	if err != nil {
		return err
	}
	if doc.EventID != 0 && doc.EventID != id.EventID(o.eventID) {
		return fmt.Errorf("file is for event %d, not %d", doc.EventID, o.eventID)
	}
	specs, err := doc.Specs()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.dryRun {
		fmt.Fprintf(out, "parsed %d section(s)\n", len(specs))
		return nil
	}

	ctx := cmd.Context()
	forms, release, err := root.Connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	eventID, userID := id.EventID(o.eventID), id.UserID(o.userID)
	current, err := forms.Get(ctx, eventID)
	switch {
	case errors.Is(err, models.ErrFormNotFound()):
		form, err := forms.Create(ctx, userID, models.CreateFormRequest{
			EventID:     eventID,
			IsOpen:      doc.IsOpen,
			Nominations: doc.Nominations,
			Sections:    specs,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created form %d for event %d: %d section(s), %d question(s)\n",
			form.ID, form.EventID, len(form.Sections), form.QuestionCount())
		return nil
	case err != nil:
		return err
	}

	req := models.ReconcileFormRequest{
		FormID:      current.ID,
		EventID:     eventID,
		IsOpen:      doc.IsOpen,
		Nominations: doc.Nominations,
		Sections:    specs,
	}
	if doc.Version != 0 {
		v := doc.Version
		req.Version = &v
	}
	form, err := forms.Reconcile(ctx, userID, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reconciled form %d for event %d to version %d: %d section(s), %d question(s)\n",
		form.ID, form.EventID, form.Version, len(form.Sections), form.QuestionCount())
	return nil
}

func readFile(cmd *cobra.Command, path string) (*Document, error) {
	if path == "-" {
		return ReadDocument(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDocument(f)
}

type exportOptions struct {
	eventID int64
	output  string
}

func NewExportCommand(root *RootOptions) *cobra.Command {
	o := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an event's form as YAML, ids included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, root, o)
		},
	}
	cmd.Flags().Int64Var(&o.eventID, "event", 0, "event id")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runExport(cmd *cobra.Command, root *RootOptions, o *exportOptions) error {
	ctx := cmd.Context()
	forms, release, err := root.Connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	form, err := forms.Get(ctx, id.EventID(o.eventID))
	if err != nil {
		return err
	}
	doc, err := FromForm(form)
	if err != nil {
		return err
	}

	if o.output == "" {
		return WriteDocument(cmd.OutOrStdout(), doc)
	}
	return writeFile(o.output, func(w io.Writer) error {
		return WriteDocument(w, doc)
	})
}

var createFile = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeFile creates path and writes through fn. A failed close is reported
// since it may be the only sign the data never reached disk.
func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return fn(f)
}

type tokenOptions struct {
	userID int64
	ttl    time.Duration
}

// NewTokenCommand prints a bearer token for --user, signed with the
// configured key.
func NewTokenCommand(root *RootOptions) *cobra.Command {
	o := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the form API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID := id.UserID(o.userID)
			if userID.IsNil() {
				return errors.New("--user is required")
			}
			if o.ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			issuer, err := root.Issuer()
			if err != nil {
				return err
			}
			token, err := issuer.GenerateAccessToken(userID, o.ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Int64Var(&o.userID, "user", 0, "user id the token is issued to")
	cmd.Flags().DurationVar(&o.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
