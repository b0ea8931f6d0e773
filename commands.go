package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"p9e.in/wsm/handlers"
	"p9e.in/wsm/middleware"
	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/export"
	"p9e.in/wsm/pkg/projects"
	"p9e.in/wsm/pkg/schema"
	"p9e.in/wsm/routes"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.withRenderer(ctx); err != nil {
				return err
			}

			tokens, err := middleware.NewTokenIssuer(a.cfg.JWTSecret, a.cfg.TokenTTL)
			if err != nil {
				return err
			}

			if a.cfg.SchemaWatch && a.cfg.SchemaDir != "" {
				w := schema.NewWatcher(a.registry, schema.DefaultFS(), a.cfg.SchemaDir, a.logger)
				go func() {
					if err := w.Run(ctx); err != nil {
						a.logger.Error("❌ schema watcher stopped", "err", err)
					}
				}()
			}

			h := handlers.New(handlers.Deps{
				Projects:  a.projects,
				Registry:  a.registry,
				Access:    a.access,
				Tokens:    tokens,
				Renderer:  a.renderer,
				Templates: a.templates,
				Logger:    a.logger,
			})
			handler := middleware.RequestLogger(a.logger)(middleware.CORS(routes.RegisterRoutes(h, tokens)))

			srv := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Server starting", "port", a.cfg.Port, "version", Version)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed the admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			a.logger.Info("✅ migrations applied")
			return nil
		},
	}
}

func newUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var in access.NewUser
	var role string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			in.Role = models.Role(role)
			user, err := a.access.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}
	createCmd.Flags().StringVar(&in.Username, "username", "", "login name")
	createCmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	createCmd.Flags().StringVar(&in.Email, "email", "", "email address")
	createCmd.Flags().StringVar(&role, "role", string(models.RoleUser), "admin or user")
	createCmd.MarkFlagRequired("username") // nolint
	createCmd.MarkFlagRequired("password") // nolint

	userCmd.AddCommand(createCmd)
	return userCmd
}

func newRenderCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "render <project_no>",
		Short: "Render a project report to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.withRenderer(cmd.Context()); err != nil {
				return err
			}

			doc, err := a.renderer.Render(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = doc.Filename
			}
			if err := os.WriteFile(output, doc.Data, 0o644); err != nil {
				return err
			}
			for _, f := range doc.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ %s: %v\n", f.Stage, f.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %s)\n", output, len(doc.Data), doc.Engine)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <project_no>.pdf)")
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		format, output string
		f              projects.ListFilter
		status         string
		variant        string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the project register as xlsx or csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fm, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			f.Status = models.Status(status)
			f.Variant = models.Variant(variant)
			list, err := a.projects.ListProjects(cmd.Context(), f)
			if err != nil {
				return err
			}
			now := time.Now()
			data, err := export.Write(fm, "WSM Register", list, now)
			if err != nil {
				return err
			}
			if output == "" {
				output = export.Filename("WSM Register", fm, now)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d projects)\n", output, len(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&f.Search, "search", "", "match project number, client or site")
	cmd.Flags().StringVar(&status, "status", "", "only this status")
	cmd.Flags().StringVar(&variant, "variant", "", "only this variant")
	return cmd
}
