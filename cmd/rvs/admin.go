package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
	"github.com/xela07ax/rvs-verify/internal/release"
	"github.com/xela07ax/rvs-verify/internal/session"
	"github.com/xela07ax/rvs-verify/internal/users"
)

func (a *app) release(ctx context.Context, operator string, args []string) error {
	fs := pflag.NewFlagSet("release", pflag.ContinueOnError)
	owner := fs.String("owner", "", "document owner")
	docType := fs.String("type", "", "document type")
	copyNo := fs.String("copy", "", "copy number")
	receivedBy := fs.String("received-by", "", "name of the person receiving the document")
	verifyQR := fs.String("verify-qr", "", "verify the receiver by QR first and use the verified name ('-' reads stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *receivedBy == "" && *verifyQR != "" {
		payload, err := readPayload(*verifyQR, os.Stdin)
		if err != nil {
			return err
		}
		o, err := a.runVerification(ctx, operator, session.Request{Mode: domain.ModeQR, QRPayload: payload})
		if err != nil {
			return err
		}
		printOutcome(os.Stdout, o)
		if o.Result != domain.ResultVerified {
			return errNotVerified
		}
		*receivedBy = o.DisplayName
		if err := a.releaseSvc.PopulateReceivedBy(ctx, operator, o.DisplayName); err != nil {
			return err
		}
	}

	rec, err := a.releaseSvc.Release(ctx, operator, release.Request{
		DocOwner:   *owner,
		DocType:    *docType,
		CopyNo:     *copyNo,
		ReceivedBy: *receivedBy,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("all fields are required and copy must be a positive number: %w", err)
		}
		return err
	}
	fmt.Printf("Document released successfully (#%d, %s copy %d to %s, released by %s).\n",
		rec.ID, rec.DocType, rec.CopyNo, rec.ReceivedBy, rec.ReleasedBy)
	return nil
}

func (a *app) audit(ctx context.Context, operator string, args []string) error {
	viewer := audit.NewViewer(a.actionRepo, a.recorder)

	if len(args) > 0 && args[0] == "tags" {
		tags, err := viewer.ActionTags(ctx, operator)
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Println(t)
		}
		return nil
	}

	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	actor := fs.String("actor", "", "username substring (case-insensitive)")
	action := fs.String("action", "", "exact action tag")
	from := fs.String("from", "", "start date YYYY-MM-DD (default: last 24h)")
	to := fs.String("to", "", "end date YYYY-MM-DD, inclusive")
	limit := fs.Int("limit", 200, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := domain.ActionFilter{Actor: *actor, Action: *action, Limit: *limit}
	var err error
	if filter.From, err = parseDay(*from); err != nil {
		return err
	}
	if filter.To, err = parseDay(*to); err != nil {
		return err
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}

	rows, err := viewer.Fetch(ctx, operator, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tUSER\tACTION\tDETAILS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp.Format(time.DateTime), r.Actor, r.Action, string(r.Details))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d row(s)\n", len(rows))
	return nil
}

func (a *app) users(ctx context.Context, operator string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: users needs list, add or delete", errUsage)
	}

	switch args[0] {
	case "list":
		list, err := a.userSvc.List(ctx, operator)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tCREATED")
		for _, u := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.FullName(), u.CreatedAt.Format(time.DateOnly))
		}
		return tw.Flush()

	case "add":
		fs := pflag.NewFlagSet("users add", pflag.ContinueOnError)
		first := fs.String("first-name", "", "first name")
		last := fs.String("last-name", "", "last name")
		username := fs.String("username", "", "login")
		password := fs.String("new-password", "", "password for the new operator")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		u, err := a.userSvc.Add(ctx, operator, users.NewUser{
			FirstName: *first,
			LastName:  *last,
			Username:  *username,
			Password:  *password,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Operator %s (%s) added.\n", u.Username, u.FullName())
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("%w: users delete <username>", errUsage)
		}
		if err := a.userSvc.Delete(ctx, operator, args[1]); err != nil {
			return err
		}
		fmt.Printf("Operator %s deleted.\n", args[1])
		return nil

	default:
		return fmt.Errorf("%w: users %s", errUsage, strconv.Quote(args[0]))
	}
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, s)
	}
	return t, nil
}
