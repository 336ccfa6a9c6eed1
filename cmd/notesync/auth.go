package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an emailed code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			if email, err = prompt(in, out, "Email: "); err != nil {
				return err
			}
		}

		res, err := c.Start(cmd.Context(), email)
		if err != nil {
			return err
		}
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		} else {
			fmt.Fprintln(out, "Check your email for a sign-in code.")
		}

		code, err := readCode(in, out)
		if err != nil {
			return err
		}
		if err := c.Code(cmd.Context(), email, code); err != nil {
			return err
		}

		path, err := sessionPath(sessionFile)
		if err != nil {
			return err
		}
		if err := writeSession(path, c.Session()); err != nil {
			return err
		}
		who, err := c.Login(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Signed in as %s\n", who)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, logger, err := newClient()
		if err != nil {
			return err
		}
		if c.Session() != "" {
			if err := c.Logout(cmd.Context()); err != nil {
				logger.Warn("server logout failed", "error", err)
			}
		}
		path, err := sessionPath(sessionFile)
		if err != nil {
			return err
		}
		if err := writeSession(path, ""); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email address to sign in with")
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readCode hides the typed code when stdin is a terminal.
func readCode(in *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(in, out, "Code: ")
	}
	fmt.Fprint(out, "Code: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
