package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/api"
	apihttp "github.com/Paintersrp/serverlaunch/internal/api/http"
)

var newAPIServer = apihttp.NewServer

// startControlAPI serves the control API until the returned stop function is
// called or runCtx ends.
func startControlAPI(runCtx stdcontext.Context, cmd *cobra.Command, addr string, ctrl api.Controller) (func() error, error) {
	server, err := newAPIServer(apihttp.Config{Addr: addr, Controller: ctrl})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()

	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("control API stopped unexpectedly")
		}
		return nil, fmt.Errorf("control API: %w", err)
	case <-readyTimer.C:
	case <-runCtx.Done():
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return nil, err
		}
		return nil, runCtx.Err()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Control API listening on %s\n", server.Addr())
	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}
