package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

// ErrEmptyLine is returned by ParseLine for blank input.
var ErrEmptyLine = errors.New("controller: empty line") //nolint:gochecknoglobals // sentinel error

// ParseLine splits "method {json}" into a method and raw JSON args.
func ParseLine(line string) (string, json.RawMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, ErrEmptyLine
	}

	method, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return method, nil, nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("controller.ParseLine: args for %s are not JSON", method)
	}
	return method, json.RawMessage(rest), nil
}

// Console reads commands from in, one per line, and prints results and
// notices to out until in is exhausted or ctx ends.
func (c *Controller) Console(ctx context.Context, in io.Reader, out io.Writer, timeout time.Duration) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-c.notices:
				fmt.Fprintf(out, "%s %s %s\n", dim("notice"), n.Method, n.Result)
			}
		}
	}()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		method, args, err := ParseLine(sc.Text())
		if errors.Is(err, ErrEmptyLine) {
			continue
		}
		if err != nil {
			fmt.Fprintln(out, bad(err.Error()))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		var payload any
		if args != nil {
			payload = args
		}
		resp, err := c.Call(callCtx, method, payload)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", bad(method), err)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", ok(method), resp.Result)

		if ctx.Err() != nil {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("controller.Console: %w", err)
	}
	return nil
}
