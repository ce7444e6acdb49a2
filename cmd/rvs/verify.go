package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"github.com/xela07ax/rvs-verify/internal/session"
)

func (a *app) verify(ctx context.Context, operator string, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	qr := fs.String("qr", "", "QR code payload ('-' reads one line from stdin)")
	first := fs.String("first-name", "", "first name")
	middle := fs.String("middle-name", "", "middle name (empty or N/A when absent)")
	last := fs.String("last-name", "", "last name")
	suffix := fs.String("suffix", "", "suffix (JR, III, ...)")
	birth := fs.String("birth-date", "", "birth date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := session.Request{
		Mode: domain.ModeManual,
		Subject: domain.Subject{
			FirstName:  *first,
			MiddleName: optional(fs, "middle-name", *middle),
			LastName:   *last,
			Suffix:     optional(fs, "suffix", *suffix),
			BirthDate:  *birth,
		},
	}
	if *qr != "" {
		payload, err := readPayload(*qr, os.Stdin)
		if err != nil {
			return err
		}
		req = session.Request{Mode: domain.ModeQR, QRPayload: payload}
	}

	o, err := a.runVerification(ctx, operator, req)
	if err != nil {
		return err
	}
	printOutcome(os.Stdout, o)
	if o.Result != domain.ResultVerified {
		return errNotVerified
	}
	return nil
}

// runVerification проводит одну сессию и закрывает координатор (WINDOW_CLOSED).
func (a *app) runVerification(ctx context.Context, operator string, req session.Request) (session.Outcome, error) {
	relay := session.NewRelayClient(a.cfg.Session.RelayURL, nil)

	var waiter session.LivenessWaiter = session.NewPollWaiter(relay, a.cfg.Session.PollInterval, a.cfg.Session.LivenessTimeout, a.logger)
	if a.rdb != nil {
		waiter = session.NewRedisWaiter(a.rdb, relay, a.cfg.Session.LivenessTimeout, a.logger)
	}

	var browser session.Browser = session.PrintBrowser{W: os.Stderr}
	if a.cfg.Session.OpenBrowser {
		browser = fallbackBrowser{primary: session.SystemBrowser{}, fallback: session.PrintBrowser{W: os.Stderr}}
	}

	coord := session.NewCoordinator(operator, a.recorder, a.verifications, relay, waiter, browser, a.logger)
	defer func() {
		if err := coord.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("close verification window", zap.Error(err))
		}
	}()

	if req.Mode == domain.ModeQR {
		if err := coord.ScanInitiated(ctx); err != nil {
			return session.Outcome{}, err
		}
	}

	out, err := coord.Start(ctx, req)
	if err != nil {
		return session.Outcome{}, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case e := <-coord.Events():
				if e.State == session.StateAwaitingLiveness {
					fmt.Fprintln(os.Stderr, "Waiting for the face liveness check to complete...")
				}
			case <-done:
				return
			}
		}
	}()

	o, ok := <-out
	if !ok {
		return session.Outcome{}, context.Cause(ctx)
	}
	return o, nil
}

func printOutcome(w io.Writer, o session.Outcome) {
	switch o.Result {
	case domain.ResultVerified:
		fmt.Fprintf(w, "VERIFIED: %s\n", o.DisplayName)
		if o.Record != nil && o.Record.HasFace() {
			fmt.Fprintf(w, "Face key: %s\n", *o.Record.FaceKey)
		}
		if o.Message != "" {
			fmt.Fprintln(w, o.Message)
		}
	default:
		label := strings.ToUpper(string(o.Category))
		if label == "" {
			label = strings.ToUpper(string(o.Result))
		}
		fmt.Fprintf(w, "%s: %s\n", label, o.Message)
		if o.Err != nil {
			fmt.Fprintf(w, "  cause: %v\n", o.Err)
		}
	}
}

// optional: флаг не задан, значит поле отсутствует (nil), а не пустая строка.
func optional(fs *pflag.FlagSet, name, value string) *string {
	if !fs.Changed(name) {
		return nil
	}
	return &value
}

func readPayload(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read qr payload: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// fallbackBrowser печатает ссылку, если браузер ОС не запустился.
type fallbackBrowser struct {
	primary  session.Browser
	fallback session.Browser
}

func (b fallbackBrowser) Open(url string) error {
	if err := b.primary.Open(url); err != nil {
		return b.fallback.Open(url)
	}
	return nil
}
