// pixelpainter runs the painting engine: it loads the snapshot document,
// keeps one connection per enabled identity and serves status over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	cmd := newRootCmd(func(c int) { code = c })
	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		code = 2
	}
	stop()
	os.Exit(code)
}
