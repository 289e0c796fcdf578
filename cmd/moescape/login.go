package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/config"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/credentials"
)

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [token|cookie]",
		Short: "Store the session token used for API requests",
		Long: `Store a session token (or the Cookie header of a logged-in browser
session). The value is read without echo and saved with owner-only
permissions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := credentials.KindToken
			if len(args) == 1 {
				kind = credentials.Kind(args[0])
			}
			return runLogin(app, kind)
		},
	}
	return cmd
}

func runLogin(app *App, kind credentials.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", credentials.ErrUnknownKind, kind)
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	creds := credentials.NewStore(dir)

	label := "Session token"
	if kind == credentials.KindCookie {
		label = "Cookie header"
	}

	value, err := credentials.Prompt(app.In, app.Out, label)
	if err != nil {
		return err
	}
	if err := creds.Set(kind, value); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Stored %s %s in %s\n", kind, credentials.MaskKey(value), creds.Path())
	return nil
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(app)
		},
	}
}

func runLogout(app *App) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	creds := credentials.NewStore(dir)

	removed := 0
	for _, kind := range []credentials.Kind{credentials.KindToken, credentials.KindCookie} {
		err := creds.Delete(kind)
		if errors.Is(err, credentials.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		removed++
	}
	if removed == 0 {
		fmt.Fprintln(app.Out, "No stored credentials.")
		return nil
	}
	fmt.Fprintln(app.Out, "Logged out.")
	return nil
}
