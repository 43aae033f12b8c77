package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// RunPlain reads one query per line from in and writes each answer to out
// until EOF or the exit sentinel.
func RunPlain(ctx context.Context, in io.Reader, out io.Writer, answerer Answerer, summary string) error {
	if summary != "" {
		fmt.Fprintln(out, summary)
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "You: ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := sc.Text()
		if IsExit(line) {
			return nil
		}
		ans := answerer.Answer(ctx, line)
		fmt.Fprintf(out, "Assistant: %s\n", ans.Text)
	}
}
