package chatui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/meshmodem/internal/chat"
)

// LineUI reads commands from in and writes command output and events to
// out, one line each.
type LineUI struct {
	Exec   Executor
	Events <-chan chat.Event
	Color  bool
	Prompt string

	mu sync.Mutex
}

func (u *LineUI) println(out io.Writer, s string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(out, s)
}

// Run returns when in reaches EOF, a quit command is read, or ctx ends.
func (u *LineUI) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-u.Events:
				if !ok {
					return
				}
				u.println(out, FormatEvent(ev, u.Color))
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		if u.Prompt != "" {
			u.mu.Lock()
			fmt.Fprint(out, u.Prompt)
			u.mu.Unlock()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}
			res, err := u.Exec.Exec(ctx, line)
			if err != nil {
				u.println(out, FormatError(err, u.Color))
				continue
			}
			for _, l := range res {
				u.println(out, l)
			}
		}
	}
}
