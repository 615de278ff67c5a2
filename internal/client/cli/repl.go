package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// runREPL reads commands line by line and hands the words to exec. The
// prompt shows statusFn's result. The loop ends on EOF, "exit" or "quit".
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, exec func(ctx context.Context, words []string) error, statusFn func() string, in *bufio.Reader, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(w, "ns %s> ", statusFn())
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			fmt.Fprintln(w)
			return
		}

		words, err := SplitLine(strings.TrimSpace(line))
		if err != nil {
			fmt.Fprintln(w, "Error:", err)
			continue
		}
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		case "run", "shell":
			fmt.Fprintln(w, "sync is already running in this shell")
			continue
		}
		if err := exec(ctx, words); err != nil {
			fmt.Fprintln(w, "Error:", err)
		}
	}
}
