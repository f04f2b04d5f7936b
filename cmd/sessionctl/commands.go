package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/charleshuang3/authsession/internal/app"
	"github.com/charleshuang3/authsession/internal/models"
)

var errUsage = errors.New("invalid arguments, see -h")

type cli struct {
	app          *app.App
	out          io.Writer
	readPassword func(prompt string) (string, error)
}

func readPasswordFromTerminal(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "useradd":
		return c.userAdd(ctx, args)
	case "issue":
		return c.issue(ctx, args)
	case "sessions":
		return c.sessions(ctx, args)
	case "revoke":
		return c.revoke(ctx, args)
	case "revoke-all":
		return c.revokeAll(ctx, args)
	case "audit":
		return c.audit(ctx, args)
	case "sweep":
		return c.sweep(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) lookupUser(ctx context.Context, identifier string) (*models.User, error) {
	user, err := c.app.Users.GetUser(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", identifier, err)
	}
	return user, nil
}

func (c *cli) userAdd(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}

	password, err := c.readPassword("Password: ")
	if err != nil {
		return err
	}
	again, err := c.readPassword("Repeat password: ")
	if err != nil {
		return err
	}
	if password != again {
		return errors.New("passwords do not match")
	}

	user, err := c.app.Users.Register(ctx, args[0], args[1], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created user %s (%s)\n", user.Username, user.Subject())
	return nil
}

func (c *cli) issue(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	user, err := c.lookupUser(ctx, args[0])
	if err != nil {
		return err
	}

	pair, err := c.app.Sessions.IssueForUser(ctx, user.ID, "sessionctl")
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "session_id:    %d\n", pair.SessionID)
	fmt.Fprintf(c.out, "access_token:  %s\n", pair.AccessToken)
	fmt.Fprintf(c.out, "refresh_token: %s\n", pair.RefreshToken)
	fmt.Fprintf(c.out, "expires_at:    %s\n", pair.RefreshTokenExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *cli) sessions(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	user, err := c.lookupUser(ctx, args[0])
	if err != nil {
		return err
	}

	list, err := c.app.Sessions.ActiveSessions(ctx, user.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tEXPIRES\tBY")
	for _, rt := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rt.ID,
			rt.CreatedAt.Format(time.RFC3339), rt.ExpiresAt.Format(time.RFC3339), rt.CreatedBy)
	}
	return w.Flush()
}

func (c *cli) revoke(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	user, err := c.lookupUser(ctx, args[0])
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(args)-1)
	for _, s := range args[1:] {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", s)
		}
		ids = append(ids, id)
	}

	n, err := c.app.Sessions.RevokeSessions(ctx, user.ID, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "revoked %d session(s)\n", n)
	return nil
}

func (c *cli) revokeAll(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	user, err := c.lookupUser(ctx, args[0])
	if err != nil {
		return err
	}

	n, err := c.app.Sessions.RevokeAll(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "revoked %d session(s)\n", n)
	return nil
}

func (c *cli) audit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("n", 20, "max events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	user, err := c.lookupUser(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	list, err := c.app.Audit.Recent(ctx, user.ID, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tOK\tDETAIL")
	for _, l := range list {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", l.CreatedAt.Format(time.RFC3339), l.EventType, l.Success, l.Detail)
	}
	return w.Flush()
}

func (c *cli) sweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	days := fs.Int("retention-days", 0, "override the configured retention")
	if err := fs.Parse(args); err != nil {
		return err
	}

	retention := c.app.Sweeper.Retention()
	if *days > 0 {
		retention = time.Duration(*days) * 24 * time.Hour
	}

	n, err := c.app.Sweeper.Sweep(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted %d refresh token(s)\n", n)
	return nil
}
