package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aluiziolira/bookshelf/apiclient"
	"github.com/aluiziolira/bookshelf/identity"
	"github.com/aluiziolira/bookshelf/models"
	"github.com/aluiziolira/bookshelf/parser"
	"github.com/aluiziolira/bookshelf/pipeline"
	"github.com/spf13/cobra"
)

func loginCmd(a *app) *cobra.Command {
	var (
		uid          string
		email        string
		refreshToken string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session from a refresh token and verify it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.requireSessions()
			if err != nil {
				return err
			}

			refreshed, err := a.tokens.Refresh(cmd.Context(), refreshToken)
			if err != nil {
				return fmt.Errorf("verify refresh token: %w", err)
			}
			if uid == "" {
				uid = refreshed.UID
			}
			if uid == "" {
				return fmt.Errorf("--uid is required when the token endpoint does not return user_id")
			}
			if refreshed.RefreshToken != "" {
				refreshToken = refreshed.RefreshToken
			}

			if err := sessions.SignIn(cmd.Context(), identity.Session{
				UID:          uid,
				Email:        email,
				RefreshToken: refreshToken,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (token valid until %s)\n", uid, refreshed.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&uid, "uid", "", "user id (defaults to the id returned by the token endpoint)")
	cmd.Flags().StringVar(&email, "email", "", "email shown by whoami")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token issued at sign-in")
	cmd.MarkFlagRequired("refresh-token")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.requireSessions()
			if err != nil {
				return err
			}
			session, err := sessions.SignOut(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s\n", session.UID)
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Using a token supplied with --token")
				return nil
			}
			session, err := a.store.Active(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (since %s)\n", session.UID, session.Email, session.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func booksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Manage the library",
	}
	cmd.AddCommand(booksListCmd(a))
	cmd.AddCommand(booksGetCmd(a))
	cmd.AddCommand(booksPreviewCmd(a))
	cmd.AddCommand(booksAddCmd(a))
	return cmd
}

func booksListCmd(a *app) *cobra.Command {
	var (
		export string
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := a.books.List(cmd.Context())
			if err != nil {
				return a.requestFailed(err)
			}
			if export == "" {
				return printJSON(cmd.OutOrStdout(), books)
			}
			return exportBooks(a, books, format, export)
		},
	}

	cmd.Flags().StringVar(&export, "export", "", "write the library to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", a.cfg.OutputFormat, "export format: csv, json, or dual")
	return cmd
}

func booksGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := a.books.Get(cmd.Context(), args[0])
			if err != nil {
				return a.requestFailed(err)
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
}

func booksPreviewCmd(a *app) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "preview ISBN",
		Short: "Resolve title and table of contents for an ISBN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parser.ValidateISBN(args[0]); err != nil {
				return err
			}
			preview, err := a.books.Preview(cmd.Context(), models.BookPreviewRequest{
				ISBN:  parser.NormalizeISBN(args[0]),
				Title: title,
			})
			if err != nil {
				return a.requestFailed(err)
			}
			return printJSON(cmd.OutOrStdout(), preview)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title hint for the lookup")
	return cmd
}

func booksAddCmd(a *app) *cobra.Command {
	var (
		title   string
		tocFile string
	)

	cmd := &cobra.Command{
		Use:   "add ISBN",
		Short: "Register a book; the table of contents comes from --toc or a preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parser.ValidateISBN(args[0]); err != nil {
				return err
			}
			isbn := parser.NormalizeISBN(args[0])

			var toc []models.TocItem
			if tocFile != "" {
				data, err := os.ReadFile(tocFile)
				if err != nil {
					return fmt.Errorf("read toc file: %w", err)
				}
				if toc, err = parser.ParseTocJSON(string(data)); err != nil {
					return err
				}
			} else {
				preview, err := a.books.Preview(cmd.Context(), models.BookPreviewRequest{ISBN: isbn, Title: title})
				if err != nil {
					return a.requestFailed(err)
				}
				toc = preview.Toc
				if title == "" {
					title = preview.Title
				}
			}

			book, err := a.books.Register(cmd.Context(), models.BookRegisterRequest{
				ISBN:  isbn,
				Title: title,
				Toc:   toc,
			})
			if err != nil {
				return a.requestFailed(err)
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&tocFile, "toc", "", "JSON file with [{\"title\":...,\"level\":...}]")
	return cmd
}

func searchCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the library and print the recommendation report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.books.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return a.requestFailed(err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum hits (1-50)")
	return cmd
}

func requestCmd(a *app) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated request and print the JSON response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				body = json.RawMessage(data)
			}
			result, err := a.books.Raw(cmd.Context(), strings.ToUpper(args[0]), args[1], body)
			if err != nil {
				return a.requestFailed(err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}

// requestFailed logs the failure class and returns err for display; its
// message is the one the executor stored in State.Error.
func (a *app) requestFailed(err error) error {
	state := a.books.Executor().State()
	switch {
	case apiclient.IsAuth(err):
		slog.Warn("not signed in", slog.String("hint", "run bookshelf login"))
	case apiclient.IsTransport(err):
		slog.Debug("transport failure", slog.Any("error", err))
	}
	slog.Debug("request state", slog.Bool("loading", state.Loading), slog.String("error", state.Error))
	return err
}

func exportBooks(a *app, books []models.Book, format, filename string) error {
	writer, err := pipeline.NewWriter(format, filename)
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(writer, a.cfg)
	if err != nil {
		writer.Close()
		return err
	}
	processErr := p.Process(books)
	closeErr := p.Close()
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	if processErr != nil {
		return processErr
	}
	if closeErr != nil {
		return closeErr
	}

	metrics := p.GetMetrics()
	exported := metrics["exported_books"].(int64)
	if exported > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	}
	slog.Info("export complete",
		slog.String("file", filename),
		slog.String("format", format),
		slog.Int64("exported", exported),
		slog.Any("rejected", metrics["rejected"]),
	)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
