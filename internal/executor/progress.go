package executor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// progressSink serializes terminal feedback so a spinner and a progress
// bar never interleave their carriage returns.
type progressSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressSink(out io.Writer) *progressSink {
	return &progressSink{out: out}
}

// spinner animates until the returned stop function runs, then prints a
// final status line.
func (p *progressSink) spinner(target, command string) func(ok bool) {
	stop := make(chan bool, 1)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case ok := <-stop:
				p.mu.Lock()
				mark := okMark("ok")
				if !ok {
					mark = failMark("failed")
				}
				fmt.Fprintf(p.out, "\r%s %s %s\n", mark, target, dimText(command))
				p.mu.Unlock()
				return
			case <-ticker.C:
				p.mu.Lock()
				fmt.Fprintf(p.out, "\r%s %s %s", spinnerFrames[frame%len(spinnerFrames)], target, dimText(command))
				p.mu.Unlock()
				frame++
			}
		}
	}()

	return func(ok bool) {
		stop <- ok
		wg.Wait()
	}
}

// bar tracks batch completion as "[done/total]" lines.
type progressBar struct {
	sink      *progressSink
	total     int
	completed int
}

func (p *progressSink) bar(total int) *progressBar {
	return &progressBar{sink: p, total: total}
}

func (b *progressBar) step(target string, ok bool) {
	b.sink.mu.Lock()
	defer b.sink.mu.Unlock()
	b.completed++
	mark := okMark("ok")
	if !ok {
		mark = failMark("failed")
	}
	fmt.Fprintf(b.sink.out, "[%d/%d] %s %s\n", b.completed, b.total, target, mark)
}

func (b *progressBar) done() {
	b.sink.mu.Lock()
	defer b.sink.mu.Unlock()
	if b.completed < b.total {
		fmt.Fprintf(b.sink.out, "[%d/%d] stopped early\n", b.completed, b.total)
	}
}
